package flow

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/embedbot/widgetcore/internal/models"
)

// SuggestionController governs when quick-reply buttons appear and how long
// they persist. Once shown, suggestions are never re-shown in the same
// session, even if the matching trigger fires again.
type SuggestionController struct {
	mu          sync.Mutex
	sched       Scheduler
	onHide      func()
	shown       bool // sticky
	visible     bool
	buttons     []string
	hideTimerID string
}

// NewSuggestionController creates a controller. onHide is invoked after the
// hide_after_timeout timer fires, so the engine can publish the change; it
// may be nil.
func NewSuggestionController(sched Scheduler, onHide func()) *SuggestionController {
	return &SuggestionController{sched: sched, onHide: onHide}
}

// MaybeShow shows the suggestion buttons if trigger matches the configured
// timing and they have not been shown before. Returns whether visibility
// transitioned to true.
func (c *SuggestionController) MaybeShow(trigger models.SuggestionTiming, cfg models.Config) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.SuggestionTiming == "" || trigger != cfg.SuggestionTiming {
		return false
	}
	if c.shown {
		slog.Debug("SuggestionController MaybeShow: already shown this session", "trigger", trigger)
		return false
	}

	c.shown = true
	c.visible = true
	c.buttons = parseSuggestionButtons(cfg.SuggestionButtonsJSON)

	if cfg.SuggestionPersistence == models.PersistenceHideAfterTimeout {
		timeout := cfg.SuggestionTimeout
		if timeout <= 0 {
			timeout = models.DefaultSuggestionTimeout
		}
		id, err := c.sched.ScheduleAfter(timeout, c.hideOnTimeout)
		if err != nil {
			slog.Warn("SuggestionController MaybeShow: failed to schedule hide timeout", "error", err)
		} else {
			c.hideTimerID = id
		}
	}

	slog.Debug("SuggestionController MaybeShow: suggestions shown", "trigger", trigger, "buttons", len(c.buttons))
	return true
}

func (c *SuggestionController) hideOnTimeout() {
	c.mu.Lock()
	c.visible = false
	c.hideTimerID = ""
	c.mu.Unlock()
	slog.Debug("SuggestionController: hide timeout fired")
	if c.onHide != nil {
		c.onHide()
	}
}

// OnClicked handles the user picking a suggestion. Under until_clicked
// persistence the buttons hide immediately; otherwise they stay visible.
func (c *SuggestionController) OnClicked(cfg models.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.SuggestionPersistence == models.PersistenceUntilClicked {
		c.hideLocked()
	}
}

// Dismiss hides the suggestions at the user's request and cancels any
// pending hide timer.
func (c *SuggestionController) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hideLocked()
}

func (c *SuggestionController) hideLocked() {
	if c.hideTimerID != "" {
		if err := c.sched.Cancel(c.hideTimerID); err != nil {
			slog.Debug("SuggestionController: cancel hide timer failed", "error", err)
		}
		c.hideTimerID = ""
	}
	c.visible = false
}

// Visible reports whether the buttons are currently rendered.
func (c *SuggestionController) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Shown reports whether the buttons have ever been shown this session.
func (c *SuggestionController) Shown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}

// Buttons returns the parsed quick-reply labels.
func (c *SuggestionController) Buttons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.buttons))
	copy(out, c.buttons)
	return out
}

// parseSuggestionButtons decodes the dashboard-configured JSON label list.
// Malformed JSON is swallowed: no buttons are shown and no error surfaces to
// the visitor.
func parseSuggestionButtons(raw string) []string {
	if raw == "" {
		return nil
	}
	var buttons []string
	if err := json.Unmarshal([]byte(raw), &buttons); err != nil {
		slog.Warn("SuggestionController: malformed suggestion buttons, suppressing for session", "error", err)
		return nil
	}
	return buttons
}
