package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/embedbot/widgetcore/internal/models"
)

func leadConfig() models.Config {
	return models.Config{
		ChatbotID:                   "bot-1",
		LeadCollectionEnabled:       true,
		LeadCollectionAfterMessages: 3,
		LeadCollectionFields: []models.LeadField{
			{Name: "name", Required: true},
			{Name: "email", Required: true},
			{Name: "phone", Required: false},
		},
	}
}

func TestShouldPresentThreshold(t *testing.T) {
	c := NewLeadCaptureController(&fakeBackend{})
	cfg := leadConfig()
	st := &models.ConversationState{MessageCount: 2}

	if c.ShouldPresent(nil, cfg, st, false) {
		t.Error("below threshold should not present")
	}
	st.MessageCount = 3
	if !c.ShouldPresent(nil, cfg, st, false) {
		t.Error("threshold reached should present")
	}
}

func TestShouldPresentBackendSignal(t *testing.T) {
	c := NewLeadCaptureController(&fakeBackend{})
	msg := &models.Message{ShouldShowLead: true}
	if !c.ShouldPresent(msg, leadConfig(), &models.ConversationState{}, false) {
		t.Error("shouldShowLead message should present")
	}
}

func TestShouldPresentFlowSignalBypassesThreshold(t *testing.T) {
	c := NewLeadCaptureController(&fakeBackend{})
	if !c.ShouldPresent(nil, leadConfig(), &models.ConversationState{}, true) {
		t.Error("flow collect-lead terminal should present regardless of counts")
	}
}

func TestShouldPresentDisabled(t *testing.T) {
	c := NewLeadCaptureController(&fakeBackend{})
	cfg := leadConfig()
	cfg.LeadCollectionEnabled = false
	if c.ShouldPresent(nil, cfg, &models.ConversationState{MessageCount: 10}, true) {
		t.Error("disabled collection must never present")
	}
}

func TestSubmitSuccessIsSticky(t *testing.T) {
	backend := &fakeBackend{}
	c := NewLeadCaptureController(backend)
	cfg := leadConfig()
	c.Present()

	lead := models.LeadSubmission{Name: "Ada", Email: "ada@example.com"}
	if err := c.Submit(context.Background(), cfg, lead); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !c.Submitted() || c.Visible() {
		t.Error("accepted lead should close the form permanently")
	}
	if len(backend.leads) != 1 || backend.leads[0].Name != "Ada" {
		t.Errorf("backend got %+v", backend.leads)
	}

	// No trigger re-presents after acceptance.
	if c.ShouldPresent(nil, cfg, &models.ConversationState{MessageCount: 100}, true) {
		t.Error("submitted is sticky; form must not re-present")
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	backend := &fakeBackend{}
	c := NewLeadCaptureController(backend)

	err := c.Submit(context.Background(), leadConfig(), models.LeadSubmission{Name: "Ada"})
	if err == nil {
		t.Fatal("missing required email should fail validation")
	}
	if len(backend.leads) != 0 {
		t.Error("invalid lead must not reach the backend")
	}
	if c.Submitted() {
		t.Error("failed submit must not mark submitted")
	}
}

func TestSubmitBackendFailureKeepsFormOpen(t *testing.T) {
	backend := &fakeBackend{leadErr: errors.New("boom")}
	c := NewLeadCaptureController(backend)
	c.Present()

	err := c.Submit(context.Background(), leadConfig(), models.LeadSubmission{Name: "Ada", Email: "ada@example.com"})
	if err == nil {
		t.Fatal("expected backend error")
	}
	if c.Submitted() {
		t.Error("failed submit must not mark submitted")
	}
	if !c.Visible() {
		t.Error("form should stay open for retry")
	}
}
