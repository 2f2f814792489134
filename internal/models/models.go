// Package models defines the core data structures for the widget
// conversation engine.
//
// It includes the resolved widget configuration, flow-graph nodes, timeline
// messages, and the lead submission payload, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Validation constants for widget input validation
const (
	// MaxMessageLength defines the maximum allowed length for a visitor message
	MaxMessageLength = 4096
	// MaxLeadFieldLength defines the maximum allowed length for a lead form field
	MaxLeadFieldLength = 256
	// DefaultSuggestionTimeout is the hide delay when persistence is hide_after_timeout
	DefaultSuggestionTimeout = 30 * time.Second
)

// Error variables for better error handling and testability
var (
	ErrEmptyChatbotID   = errors.New("chatbot id cannot be empty")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrDuplicateNodeID  = errors.New("duplicate flow node id")
	ErrInvalidNodeType  = errors.New("invalid flow node type")
	ErrEngineBusy       = errors.New("a send is already in flight")
	ErrEngineUnmounted  = errors.New("engine has been unmounted")
	ErrLeadFieldTooLong = errors.New("lead field exceeds maximum length")
	ErrConsentRequired  = errors.New("consent is required to submit a lead")
)

// FlowOption is a selectable option on a multiple-choice node.
type FlowOption struct {
	Text   string       `json:"text"`
	NextID string       `json:"next_id,omitempty"`
	Action OptionAction `json:"action,omitempty"`
}

// FlowNode is a single node in the directed question-flow graph.
type FlowNode struct {
	ID              string       `json:"id"`
	Type            NodeType     `json:"type"`
	Question        string       `json:"question"`
	Options         []FlowOption `json:"options,omitempty"`
	NextID          string       `json:"next_id,omitempty"`
	CollectVariable string       `json:"collect_variable,omitempty"`
	// AIHandling forwards open-ended input to the chat collaborator instead
	// of following NextID directly.
	AIHandling bool `json:"ai_handling,omitempty"`
}

// FollowUpButton is a quick-reply button attached to a bot message.
type FollowUpButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
}

// CTAButton is a call-to-action link attached to a bot message.
type CTAButton struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// Message is one entry in the conversation timeline. Messages are
// append-only; only the transient typing placeholder is ever removed.
type Message struct {
	ID              string           `json:"id"`
	Sender          Sender           `json:"sender"`
	Text            string           `json:"text"`
	Timestamp       time.Time        `json:"timestamp"`
	Typing          bool             `json:"typing,omitempty"`
	FollowUpButtons []FollowUpButton `json:"follow_up_buttons,omitempty"`
	CTAButton       *CTAButton       `json:"cta_button,omitempty"`
	ShouldShowLead  bool             `json:"should_show_lead,omitempty"`
	IntentID        string           `json:"intent_id,omitempty"`
}

// LeadField declares one lead form field and whether the server requires it.
type LeadField struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// LeadSubmission is the payload sent to the lead collaborator.
type LeadSubmission struct {
	Name                string `json:"name"`
	Phone               string `json:"phone,omitempty"`
	Email               string `json:"email,omitempty"`
	ConsentGiven        bool   `json:"consentGiven"`
	Source              string `json:"source"`
	ConversationContext string `json:"conversationContext,omitempty"`
}

// Config is the behavioral policy for one widget mount, immutable once
// resolved at boot.
type Config struct {
	ChatbotID  string `json:"chatbot_id"`
	APIBaseURL string `json:"api_url"`

	WelcomeMessage      string     `json:"welcome_message,omitempty"`
	QuestionFlowEnabled bool       `json:"question_flow_enabled"`
	FlowNodes           []FlowNode `json:"flow_nodes,omitempty"`

	SuggestionTiming      SuggestionTiming      `json:"suggestion_timing,omitempty"`
	SuggestionPersistence SuggestionPersistence `json:"suggestion_persistence,omitempty"`
	SuggestionTimeout     time.Duration         `json:"suggestion_timeout,omitempty"`
	// SuggestionButtonsJSON is the raw JSON-encoded list of quick-reply
	// labels as configured on the dashboard. Parsed lazily; malformed data
	// suppresses the feature rather than erroring.
	SuggestionButtonsJSON string `json:"suggestion_buttons,omitempty"`

	LeadCollectionEnabled       bool        `json:"lead_collection_enabled"`
	LeadCollectionAfterMessages int         `json:"lead_collection_after_messages,omitempty"`
	LeadCollectionFields        []LeadField `json:"lead_collection_fields,omitempty"`

	ReplyDelay          time.Duration `json:"reply_delay,omitempty"`
	PopupDelay          time.Duration `json:"popup_delay,omitempty"`
	InitialMessageDelay time.Duration `json:"initial_message_delay,omitempty"`
}

// ConversationState holds the per-mount mutable conversation state. It lives
// in memory for the page session only; the durable session id is the one
// piece that survives reloads.
type ConversationState struct {
	SessionID            string            `json:"session_id"`
	CurrentNodeID        string            `json:"current_node_id,omitempty"`
	MessageCount         int               `json:"message_count"`
	ManualMessageCount   int               `json:"manual_message_count"`
	AwaitingContactField ContactField      `json:"awaiting_contact_field,omitempty"`
	SuggestionsShown     bool              `json:"suggestions_shown"`
	LeadFormVisible      bool              `json:"lead_form_visible"`
	LeadSubmitted        bool              `json:"lead_submitted"`
	IsLoading            bool              `json:"is_loading"`
	FlowEnded            bool              `json:"flow_ended"`
	Variables            map[string]string `json:"variables,omitempty"`
}

// Validate performs basic validation on a visitor message body.
func ValidateMessageText(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// Validate checks a lead submission against the configured field requirements.
func (l *LeadSubmission) Validate(fields []LeadField) error {
	if len(fields) == 0 {
		// Name is always required when the server declares nothing.
		fields = []LeadField{{Name: string(ContactFieldName), Required: true}}
	}
	values := map[string]string{
		string(ContactFieldName):  l.Name,
		string(ContactFieldPhone): l.Phone,
		string(ContactFieldEmail): l.Email,
	}
	for _, f := range fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if f.Required && v == "" {
			return fmt.Errorf("lead field %q is required", f.Name)
		}
		if len(v) > MaxLeadFieldLength {
			return ErrLeadFieldTooLong
		}
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Recorded creates a recorded API response with a message.
func Recorded(message string) APIResponse {
	return APIResponse{Status: string(APIStatusRecorded), Message: message}
}
