// Package backend is the HTTP client for the three opaque collaborators:
// public chatbot config, chat, and lead capture. Responses are consumed as
// received; this client never inspects or alters intent resolution.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/embedbot/widgetcore/internal/models"
)

// defaultTimeout bounds every collaborator call.
const defaultTimeout = 15 * time.Second

// maxResponseBytes caps collaborator response bodies.
const maxResponseBytes = 1 << 20

// Client talks to the widget backend. Chat calls run through a circuit
// breaker so a struggling backend degrades to fast apologies instead of
// piling up slow failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ChatAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("backend circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    breaker,
	}
}

// FetchPublicConfig retrieves the public chatbot configuration. Callers
// treat failures as soft: the widget boots on embed config.
func (c *Client) FetchPublicConfig(ctx context.Context, chatbotID string) (*models.PublicConfig, error) {
	if chatbotID == "" {
		return nil, models.ErrEmptyChatbotID
	}
	endpoint := fmt.Sprintf("%s/api/chatbots/%s/public", c.baseURL, url.PathEscape(chatbotID))

	var cfg models.PublicConfig
	if err := c.getJSON(ctx, endpoint, &cfg); err != nil {
		return nil, fmt.Errorf("failed to fetch public config: %w", err)
	}
	slog.Debug("backend FetchPublicConfig: config fetched", "chatbotID", chatbotID)
	return &cfg, nil
}

// SendChatMessage delivers a visitor message and returns the bot reply. An
// open breaker fails immediately without touching the network.
func (c *Client) SendChatMessage(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	endpoint := c.baseURL + "/api/chat"

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var resp models.ChatResponse
		if err := c.postJSON(ctx, endpoint, req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			slog.Warn("backend SendChatMessage: breaker open, failing fast", "chatbotID", req.ChatbotID)
		} else {
			slog.Error("backend SendChatMessage: request failed", "error", err, "chatbotID", req.ChatbotID)
		}
		return nil, fmt.Errorf("failed to send chat message: %w", err)
	}
	return result.(*models.ChatResponse), nil
}

// SubmitLead delivers a captured lead.
func (c *Client) SubmitLead(ctx context.Context, chatbotID string, lead models.LeadSubmission) error {
	if chatbotID == "" {
		return models.ErrEmptyChatbotID
	}
	endpoint := fmt.Sprintf("%s/api/chat/%s/leads", c.baseURL, url.PathEscape(chatbotID))

	if err := c.postJSON(ctx, endpoint, lead, nil); err != nil {
		return fmt.Errorf("failed to submit lead: %w", err)
	}
	slog.Info("backend SubmitLead: lead delivered", "chatbotID", chatbotID)
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
