package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/embedbot/widgetcore/internal/models"
)

// Bot messages appended around lead submission outcomes.
const (
	LeadThankYouMessage = "Thanks! We've received your details and someone will be in touch soon."
	LeadApologyMessage  = "Sorry, we couldn't save your details just now. Please try again."
)

// LeadSubmitter delivers an accepted lead to the backend collaborator.
type LeadSubmitter interface {
	SubmitLead(ctx context.Context, chatbotID string, lead models.LeadSubmission) error
}

// LeadCaptureController decides when to present the contact-capture form and
// guards against repeat prompts. Once a lead is accepted the form is never
// presented again for the session.
type LeadCaptureController struct {
	mu        sync.Mutex
	client    LeadSubmitter
	visible   bool
	submitted bool // sticky
}

// NewLeadCaptureController creates a controller that submits through client.
func NewLeadCaptureController(client LeadSubmitter) *LeadCaptureController {
	return &LeadCaptureController{client: client}
}

// ShouldPresent reports whether the lead form should be shown for the given
// bot message. flowSignal is true when the flow graph produced a
// collect-lead terminal, which bypasses the message-count threshold.
func (c *LeadCaptureController) ShouldPresent(msg *models.Message, cfg models.Config, state *models.ConversationState, flowSignal bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cfg.LeadCollectionEnabled || c.submitted || c.visible {
		return false
	}

	if flowSignal {
		return true
	}
	if msg != nil && msg.ShouldShowLead {
		return true
	}
	if cfg.LeadCollectionAfterMessages > 0 && state != nil && state.MessageCount >= cfg.LeadCollectionAfterMessages {
		return true
	}
	return false
}

// Present marks the form visible.
func (c *LeadCaptureController) Present() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = true
	slog.Debug("LeadCaptureController: lead form presented")
}

// Submit validates the lead against the configured required fields and
// forwards it to the backend. On success the form closes and stays closed
// for the session; on failure it remains open and re-submittable.
func (c *LeadCaptureController) Submit(ctx context.Context, cfg models.Config, lead models.LeadSubmission) error {
	if err := lead.Validate(cfg.LeadCollectionFields); err != nil {
		slog.Debug("LeadCaptureController Submit: validation failed", "error", err)
		return err
	}

	if err := c.client.SubmitLead(ctx, cfg.ChatbotID, lead); err != nil {
		slog.Error("LeadCaptureController Submit: backend rejected lead", "error", err, "chatbotID", cfg.ChatbotID)
		return fmt.Errorf("failed to submit lead: %w", err)
	}

	c.mu.Lock()
	c.submitted = true
	c.visible = false
	c.mu.Unlock()

	slog.Info("LeadCaptureController Submit: lead accepted", "chatbotID", cfg.ChatbotID)
	return nil
}

// Visible reports whether the form is currently shown.
func (c *LeadCaptureController) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Submitted reports whether a lead was accepted this session.
func (c *LeadCaptureController) Submitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}
