// Package config resolves the effective widget configuration from built-in
// defaults, embed-time overrides, and the server's public chatbot config.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/embedbot/widgetcore/internal/models"
)

// Built-in timing defaults, applied before any override layer.
const (
	DefaultReplyDelay = 800 * time.Millisecond
	DefaultPopupDelay = 500 * time.Millisecond
)

// Fetcher retrieves the server-side public configuration for a chatbot.
type Fetcher interface {
	FetchPublicConfig(ctx context.Context, chatbotID string) (*models.PublicConfig, error)
}

// Embed is what the embedding page supplies: the chatbot identity plus any
// local overrides.
type Embed struct {
	ChatbotID  string
	APIBaseURL string
	Overrides  models.PublicConfig
}

// Resolver merges the three configuration layers. Later layers win per key:
// defaults, then embed overrides, then the fetched server config.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver creates a resolver that fetches server config through fetcher.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// Defaults returns the built-in base configuration.
func Defaults() models.Config {
	return models.Config{
		QuestionFlowEnabled: false,
		ReplyDelay:          DefaultReplyDelay,
		PopupDelay:          DefaultPopupDelay,
		SuggestionTimeout:   models.DefaultSuggestionTimeout,
	}
}

// Resolve produces the effective configuration for one widget mount. A
// failed or unreachable config endpoint is a soft error: the widget boots on
// defaults plus embed overrides rather than failing to mount.
func (r *Resolver) Resolve(ctx context.Context, embed Embed) (models.Config, error) {
	if embed.ChatbotID == "" {
		return models.Config{}, models.ErrEmptyChatbotID
	}

	cfg := Defaults()
	cfg.ChatbotID = embed.ChatbotID
	cfg.APIBaseURL = embed.APIBaseURL
	apply(&cfg, embed.Overrides)

	remote, err := r.fetcher.FetchPublicConfig(ctx, embed.ChatbotID)
	if err != nil {
		slog.Warn("config Resolve: public config fetch failed, using embed config", "error", err, "chatbotID", embed.ChatbotID)
		return cfg, nil
	}
	if remote != nil {
		apply(&cfg, *remote)
	}

	slog.Debug("config Resolve: configuration resolved",
		"chatbotID", cfg.ChatbotID,
		"flowEnabled", cfg.QuestionFlowEnabled,
		"flowNodes", len(cfg.FlowNodes),
		"leadCollection", cfg.LeadCollectionEnabled)
	return cfg, nil
}

// apply copies the present keys of an override layer onto cfg. Nil pointers
// and nil slices mean "not specified" and fall through to the layer below.
func apply(cfg *models.Config, o models.PublicConfig) {
	if o.WelcomeMessage != nil {
		cfg.WelcomeMessage = *o.WelcomeMessage
	}
	if o.QuestionFlowEnabled != nil {
		cfg.QuestionFlowEnabled = *o.QuestionFlowEnabled
	}
	if o.FlowNodes != nil {
		cfg.FlowNodes = o.FlowNodes
	}
	if o.SuggestionTiming != nil {
		cfg.SuggestionTiming = models.SuggestionTiming(*o.SuggestionTiming)
	}
	if o.SuggestionPersistence != nil {
		cfg.SuggestionPersistence = models.SuggestionPersistence(*o.SuggestionPersistence)
	}
	if o.SuggestionTimeoutMs != nil {
		cfg.SuggestionTimeout = time.Duration(*o.SuggestionTimeoutMs) * time.Millisecond
	}
	if o.SuggestionButtons != nil {
		cfg.SuggestionButtonsJSON = *o.SuggestionButtons
	}
	if o.LeadCollectionEnabled != nil {
		cfg.LeadCollectionEnabled = *o.LeadCollectionEnabled
	}
	if o.LeadCollectionAfterMessages != nil {
		cfg.LeadCollectionAfterMessages = *o.LeadCollectionAfterMessages
	}
	if o.LeadCollectionFields != nil {
		cfg.LeadCollectionFields = o.LeadCollectionFields
	}
	if o.ReplyDelayMs != nil {
		cfg.ReplyDelay = time.Duration(*o.ReplyDelayMs) * time.Millisecond
	}
	if o.PopupDelayMs != nil {
		cfg.PopupDelay = time.Duration(*o.PopupDelayMs) * time.Millisecond
	}
	if o.InitialMessageDelayMs != nil {
		cfg.InitialMessageDelay = time.Duration(*o.InitialMessageDelayMs) * time.Millisecond
	}
}

// Validate checks invariants on a resolved configuration.
func Validate(cfg models.Config) error {
	if cfg.ChatbotID == "" {
		return models.ErrEmptyChatbotID
	}
	if cfg.QuestionFlowEnabled && len(cfg.FlowNodes) == 0 {
		return fmt.Errorf("question flow enabled with no nodes")
	}
	return nil
}
