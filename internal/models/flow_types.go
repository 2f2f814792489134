// Package models defines flow type definitions to avoid circular imports.
package models

// NodeType classifies a question-flow node.
type NodeType string

const (
	// NodeTypeStatement shows a bot statement and auto-advances via NextID.
	NodeTypeStatement NodeType = "statement"
	// NodeTypeMultipleChoice offers selectable options to the visitor.
	NodeTypeMultipleChoice NodeType = "multiple_choice"
	// NodeTypeContactForm presents the lead-capture form.
	NodeTypeContactForm NodeType = "contact_form"
	// NodeTypeOpenEnded accepts free text; may be AI-handled.
	NodeTypeOpenEnded NodeType = "open_ended"
)

// Terminal is the outcome of advancing the flow graph.
type Terminal string

const (
	// TerminalContinue means traversal proceeds to the resolved node (nil node = flow ended).
	TerminalContinue Terminal = "continue"
	// TerminalCollectLead signals the orchestrator to present the lead form.
	TerminalCollectLead Terminal = "collect-lead"
	// TerminalEndChat signals the orchestrator to close out the scripted flow.
	TerminalEndChat Terminal = "end-chat"
)

// OptionAction is an action attached to a multiple-choice option.
type OptionAction string

const (
	OptionActionCollectLead OptionAction = "collect-lead"
	OptionActionEndChat     OptionAction = "end-chat"
)

// Sender identifies who authored a timeline message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// SuggestionTiming controls at which conversation point quick replies appear.
type SuggestionTiming string

const (
	TimingInitial           SuggestionTiming = "initial"
	TimingAfterWelcome      SuggestionTiming = "after_welcome"
	TimingAfterFirstMessage SuggestionTiming = "after_first_message"
	// TimingManual is only honored by an explicit show call. No built-in
	// trigger issues it; preserved from the observed configuration surface.
	TimingManual SuggestionTiming = "manual"
)

// SuggestionPersistence controls how long quick replies stay visible.
type SuggestionPersistence string

const (
	PersistenceAlwaysVisible    SuggestionPersistence = "always_visible"
	PersistenceUntilClicked     SuggestionPersistence = "until_clicked"
	PersistenceHideAfterTimeout SuggestionPersistence = "hide_after_timeout"
)

// ContactField names a single contact attribute the backend may request mid-conversation.
type ContactField string

const (
	ContactFieldEmail ContactField = "email"
	ContactFieldPhone ContactField = "phone"
	ContactFieldName  ContactField = "name"
)

// EngineState is the orchestrator's top-level state.
type EngineState string

const (
	StateBooting              EngineState = "BOOTING"
	StateIdle                 EngineState = "IDLE"
	StateAwaitingReply        EngineState = "AWAITING_REPLY"
	StateAwaitingContactField EngineState = "AWAITING_CONTACT_FIELD"
)

// MessageSource distinguishes manually typed input from suggestion clicks.
type MessageSource string

const (
	SourceManual     MessageSource = "manual"
	SourceSuggestion MessageSource = "suggestion"
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(nt NodeType) bool {
	switch nt {
	case NodeTypeStatement, NodeTypeMultipleChoice, NodeTypeContactForm, NodeTypeOpenEnded:
		return true
	default:
		return false
	}
}
