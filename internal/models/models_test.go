package models

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMessageText(t *testing.T) {
	if err := ValidateMessageText("hello"); err != nil {
		t.Errorf("plain message should validate: %v", err)
	}
	if err := ValidateMessageText(""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if err := ValidateMessageText(strings.Repeat("a", MaxMessageLength+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
	if err := ValidateMessageText(strings.Repeat("a", MaxMessageLength)); err != nil {
		t.Errorf("message at the limit should validate: %v", err)
	}
}

func TestLeadSubmissionValidate(t *testing.T) {
	fields := []LeadField{
		{Name: "name", Required: true},
		{Name: "email", Required: true},
		{Name: "phone", Required: false},
	}

	lead := LeadSubmission{Name: "Ada", Email: "ada@example.com"}
	if err := lead.Validate(fields); err != nil {
		t.Errorf("complete lead should validate: %v", err)
	}

	lead = LeadSubmission{Name: "Ada"}
	if err := lead.Validate(fields); err == nil {
		t.Error("missing required email should fail")
	}

	// Optional fields may be empty.
	lead = LeadSubmission{Name: "Ada", Email: "ada@example.com", Phone: ""}
	if err := lead.Validate(fields); err != nil {
		t.Errorf("empty optional field should validate: %v", err)
	}

	lead = LeadSubmission{Name: strings.Repeat("x", MaxLeadFieldLength+1), Email: "a@b.co"}
	if err := lead.Validate(fields); !errors.Is(err, ErrLeadFieldTooLong) {
		t.Errorf("expected ErrLeadFieldTooLong, got %v", err)
	}
}

func TestLeadSubmissionValidateDefaultsToName(t *testing.T) {
	// With no declared fields, name is required.
	lead := LeadSubmission{}
	if err := lead.Validate(nil); err == nil {
		t.Error("empty lead should fail default validation")
	}
	lead = LeadSubmission{Name: "Ada"}
	if err := lead.Validate(nil); err != nil {
		t.Errorf("named lead should pass default validation: %v", err)
	}
}

func TestIsValidNodeType(t *testing.T) {
	for _, nt := range []NodeType{NodeTypeStatement, NodeTypeMultipleChoice, NodeTypeContactForm, NodeTypeOpenEnded} {
		if !IsValidNodeType(nt) {
			t.Errorf("%q should be valid", nt)
		}
	}
	if IsValidNodeType("carousel") {
		t.Error("unknown node type should be invalid")
	}
}

func TestChatResponseText(t *testing.T) {
	r := ChatResponse{Response: "primary", Message: "legacy"}
	if r.Text() != "primary" {
		t.Errorf("primary key should win, got %q", r.Text())
	}
	r = ChatResponse{Message: "legacy"}
	if r.Text() != "legacy" {
		t.Errorf("legacy key should be used as fallback, got %q", r.Text())
	}
}
