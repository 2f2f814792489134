package models

// Wire types for the three opaque backend collaborators: the public chatbot
// config endpoint, the chat endpoint, and the lead endpoint.

// PublicConfig is the server-fetched slice of chatbot configuration.
// Pointer fields distinguish "absent" from zero so the resolver can merge
// server values over embed values per key.
type PublicConfig struct {
	WelcomeMessage              *string     `json:"welcome_message,omitempty"`
	QuestionFlowEnabled         *bool       `json:"question_flow_enabled,omitempty"`
	FlowNodes                   []FlowNode  `json:"flow_nodes,omitempty"`
	SuggestionTiming            *string     `json:"suggestion_timing,omitempty"`
	SuggestionPersistence       *string     `json:"suggestion_persistence,omitempty"`
	SuggestionTimeoutMs         *int        `json:"suggestion_timeout_ms,omitempty"`
	SuggestionButtons           *string     `json:"suggestion_buttons,omitempty"`
	LeadCollectionEnabled       *bool       `json:"lead_collection_enabled,omitempty"`
	LeadCollectionAfterMessages *int        `json:"lead_collection_after_messages,omitempty"`
	LeadCollectionFields        []LeadField `json:"lead_collection_fields,omitempty"`
	ReplyDelayMs                *int        `json:"reply_delay_ms,omitempty"`
	PopupDelayMs                *int        `json:"popup_delay_ms,omitempty"`
	InitialMessageDelayMs       *int        `json:"initial_message_delay_ms,omitempty"`
}

// ChatRequest is the payload for the chat collaborator.
type ChatRequest struct {
	Message   string            `json:"message"`
	SessionID string            `json:"sessionId"`
	ChatbotID string            `json:"chatbotId"`
	Context   map[string]string `json:"context,omitempty"`
}

// ChatResponse is the chat collaborator's reply envelope.
type ChatResponse struct {
	Response string `json:"response,omitempty"`
	// Message is the alternate reply-body key older backend versions emit.
	Message                  string           `json:"message,omitempty"`
	FollowUpButtons          []FollowUpButton `json:"followUpButtons,omitempty"`
	CTAButton                *CTAButton       `json:"ctaButton,omitempty"`
	ShouldShowLead           bool             `json:"shouldShowLead,omitempty"`
	IntentID                 string           `json:"intentId,omitempty"`
	ActionCollectContactInfo bool             `json:"action_collect_contact_info,omitempty"`
	RequestedContactField    string           `json:"requested_contact_field,omitempty"`
}

// Text returns the reply body, preferring the primary response key.
func (r *ChatResponse) Text() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Message
}
