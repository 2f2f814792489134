package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/embedbot/widgetcore/internal/models"
)

// syntheticGreeting is silently sent to the chat collaborator when a widget
// boots with no welcome message and no flow; the reply becomes the welcome.
// The synthetic user message never appears in the visible timeline.
const syntheticGreeting = "hello"

// Bot messages appended by the orchestrator itself.
const (
	ChatFailureMessage = "Sorry, something went wrong on our end. Please try again in a moment."
	FlowClosingMessage = "Thanks for chatting with us. Feel free to ask anything else!"
)

// leadSource identifies widget-originated leads to the backend.
const leadSource = "chat_widget"

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s().-]{7,20}$`)
)

// ChatBackend is the opaque backend collaborator driving AWAITING_REPLY and
// lead submission.
type ChatBackend interface {
	SendChatMessage(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	SubmitLead(ctx context.Context, chatbotID string, lead models.LeadSubmission) error
}

// Snapshot is an immutable view of everything a renderer needs. The engine
// publishes one to every subscriber after each state mutation, so plain-DOM,
// sandboxed, and component-framework hosts are all thin subscribers.
type Snapshot struct {
	State              models.EngineState       `json:"state"`
	Messages           []models.Message         `json:"messages"`
	SuggestionsVisible bool                     `json:"suggestions_visible"`
	SuggestionButtons  []string                 `json:"suggestion_buttons,omitempty"`
	LeadFormVisible    bool                     `json:"lead_form_visible"`
	LeadFields         []models.LeadField       `json:"lead_fields,omitempty"`
	Conversation       models.ConversationState `json:"conversation"`
}

// Listener receives snapshots published by the engine.
type Listener func(Snapshot)

// Engine is the conversation orchestrator for one widget mount. All mutable
// conversation state is owned by the instance; nothing is shared across
// mounts, so a page can embed several independent widgets.
type Engine struct {
	cfg    models.Config
	client ChatBackend
	sched  Scheduler

	graph       *FlowGraph
	timeline    *MessageTimeline
	suggestions *SuggestionController
	leads       *LeadCaptureController

	mu            sync.Mutex
	st            models.ConversationState
	state         models.EngineState
	mounted       bool
	booted        bool
	firstTurnDone bool
	listeners     []Listener
}

// NewEngine creates an engine for one widget mount. cfg must already be
// resolved and sessionID already obtained; a failed flow-graph load disables
// the flow rather than failing the widget.
func NewEngine(cfg models.Config, sessionID string, client ChatBackend, sched Scheduler) *Engine {
	e := &Engine{
		cfg:      cfg,
		client:   client,
		sched:    sched,
		timeline: NewMessageTimeline(),
		leads:    NewLeadCaptureController(client),
		state:    models.StateBooting,
		mounted:  true,
		st: models.ConversationState{
			SessionID: sessionID,
			Variables: make(map[string]string),
		},
	}
	e.suggestions = NewSuggestionController(sched, e.onSuggestionsHidden)

	if cfg.QuestionFlowEnabled && len(cfg.FlowNodes) > 0 {
		g, err := LoadGraph(cfg.FlowNodes)
		if err != nil {
			slog.Warn("Engine: flow graph failed to load, disabling flow", "error", err, "chatbotID", cfg.ChatbotID)
			e.cfg.QuestionFlowEnabled = false
		} else {
			e.graph = g
		}
	}

	slog.Debug("Engine created", "chatbotID", cfg.ChatbotID, "sessionID", sessionID, "flowEnabled", e.graph != nil)
	return e
}

// Subscribe registers a listener for state snapshots.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Snapshot returns the current state view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Open boots the conversation. The first bot turn is, in priority order: the
// flow start node's question, the configured welcome message, or the reply
// to a hidden synthetic greeting round-trip. Reopening an already-booted
// widget preserves state and does not replay the boot sequence.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return models.ErrEngineUnmounted
	}
	if e.booted {
		e.mu.Unlock()
		return nil
	}
	e.booted = true
	cfg := e.cfg

	e.suggestions.MaybeShow(models.TimingInitial, cfg)

	if e.graph != nil {
		if start := e.graph.Start(); start != nil {
			delay := cfg.InitialMessageDelay
			if delay <= 0 {
				delay = cfg.PopupDelay
			}
			e.state = models.StateIdle
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.publish(snap)

			_, err := e.sched.ScheduleAfter(delay, func() {
				e.mu.Lock()
				if !e.mounted {
					e.mu.Unlock()
					return
				}
				e.pushNodeLocked(start)
				e.suggestions.MaybeShow(models.TimingAfterWelcome, cfg)
				snap := e.snapshotLocked()
				e.mu.Unlock()
				e.publish(snap)
			})
			if err != nil {
				slog.Warn("Engine Open: failed to schedule flow start", "error", err)
			}
			return nil
		}
	}

	if cfg.WelcomeMessage != "" {
		e.state = models.StateIdle
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(snap)

		_, err := e.sched.ScheduleAfter(cfg.PopupDelay, func() {
			e.mu.Lock()
			if !e.mounted {
				e.mu.Unlock()
				return
			}
			e.timeline.Append(models.Message{Sender: models.SenderBot, Text: cfg.WelcomeMessage})
			e.suggestions.MaybeShow(models.TimingAfterWelcome, cfg)
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.publish(snap)
		})
		if err != nil {
			slog.Warn("Engine Open: failed to schedule welcome message", "error", err)
		}
		return nil
	}

	// No flow and no welcome text: synthesize the opening turn. The "hello"
	// user message is suppressed; only the reply becomes visible.
	e.st.IsLoading = true
	e.state = models.StateAwaitingReply
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)

	resp, err := e.client.SendChatMessage(ctx, e.chatRequest(syntheticGreeting))
	if err != nil {
		slog.Warn("Engine Open: synthetic greeting failed", "error", err, "chatbotID", cfg.ChatbotID)
	}
	e.scheduleBotReply(resp, err, nil, true)
	return nil
}

// Send processes visitor input. Re-entrant sends while a reply is in flight
// are rejected, not queued.
func (e *Engine) Send(ctx context.Context, text string, source models.MessageSource) error {
	if err := models.ValidateMessageText(text); err != nil {
		return err
	}

	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return models.ErrEngineUnmounted
	}
	if e.st.IsLoading {
		e.mu.Unlock()
		slog.Debug("Engine Send: rejected, reply in flight", "chatbotID", e.cfg.ChatbotID)
		return models.ErrEngineBusy
	}

	e.timeline.Append(models.Message{Sender: models.SenderUser, Text: text})
	e.st.MessageCount++
	if source == models.SourceSuggestion {
		e.suggestions.OnClicked(e.cfg)
	} else {
		e.st.ManualMessageCount++
	}

	var aiNode *models.FlowNode
	if e.st.AwaitingContactField != "" && matchesContactField(e.st.AwaitingContactField, text) {
		// Field satisfied: record it, leave the side rail, and forward the
		// value to the collaborator that asked for it.
		e.st.Variables[string(e.st.AwaitingContactField)] = strings.TrimSpace(text)
		e.st.AwaitingContactField = ""
	} else if node := e.currentNodeLocked(); node != nil && node.Type == models.NodeTypeOpenEnded {
		if node.CollectVariable != "" {
			e.st.Variables[node.CollectVariable] = text
		}
		if node.AIHandling {
			// Forward to the AI collaborator; the node's NextID is only a
			// continuation hint applied after the reply.
			aiNode = node
		} else {
			res := e.graph.Advance(node, -1)
			e.st.IsLoading = true
			e.state = models.StateAwaitingReply
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.publish(snap)
			e.scheduleFlowStep(res.Node)
			return nil
		}
	}

	e.st.IsLoading = true
	e.state = models.StateAwaitingReply
	req := e.chatRequest(text)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)

	resp, err := e.client.SendChatMessage(ctx, req)
	e.scheduleBotReply(resp, err, aiNode, false)
	return nil
}

// ClickOption handles the visitor picking a multiple-choice flow option.
// collect-lead presents the lead form regardless of the message-count
// threshold; end-chat appends a closing statement and freezes traversal.
func (e *Engine) ClickOption(ctx context.Context, index int) error {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return models.ErrEngineUnmounted
	}
	if e.st.IsLoading {
		e.mu.Unlock()
		return models.ErrEngineBusy
	}
	node := e.currentNodeLocked()
	if node == nil || node.Type != models.NodeTypeMultipleChoice {
		e.mu.Unlock()
		slog.Debug("Engine ClickOption: no multiple-choice node active")
		return nil
	}
	if index < 0 || index >= len(node.Options) {
		e.mu.Unlock()
		return fmt.Errorf("option index %d out of range", index)
	}

	opt := node.Options[index]
	e.timeline.Append(models.Message{Sender: models.SenderUser, Text: opt.Text})
	e.st.MessageCount++

	res := e.graph.Advance(node, index)
	switch res.Terminal {
	case models.TerminalCollectLead:
		if e.leads.ShouldPresent(nil, e.cfg, &e.st, true) {
			e.presentLeadFormLocked()
		}
	case models.TerminalEndChat:
		e.timeline.Append(models.Message{Sender: models.SenderBot, Text: FlowClosingMessage})
		e.st.FlowEnded = true
		e.st.CurrentNodeID = ""
	default:
		if res.Node == nil {
			// Missing target: intentional end of flow, free-text chat remains.
			e.st.CurrentNodeID = ""
		} else {
			e.st.IsLoading = true
			e.state = models.StateAwaitingReply
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.publish(snap)
			e.scheduleFlowStep(res.Node)
			return nil
		}
	}

	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
	return nil
}

// SubmitLead validates and submits the contact form. On backend failure an
// apology is appended and the form stays open and re-submittable.
func (e *Engine) SubmitLead(ctx context.Context, lead models.LeadSubmission) error {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return models.ErrEngineUnmounted
	}
	cfg := e.cfg
	if lead.Source == "" {
		lead.Source = leadSource
	}
	if lead.ConversationContext == "" {
		if transcript, err := json.Marshal(e.timeline.Export()); err == nil {
			lead.ConversationContext = string(transcript)
		}
	}
	e.mu.Unlock()

	if err := lead.Validate(cfg.LeadCollectionFields); err != nil {
		return err
	}

	err := e.leads.Submit(ctx, cfg, lead)

	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return err
	}
	if err != nil {
		e.timeline.Append(models.Message{Sender: models.SenderBot, Text: LeadApologyMessage})
	} else {
		e.st.LeadSubmitted = true
		e.st.LeadFormVisible = false
		e.timeline.Append(models.Message{Sender: models.SenderBot, Text: LeadThankYouMessage})
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
	return err
}

// DismissSuggestions hides the quick replies at the visitor's request.
func (e *Engine) DismissSuggestions() {
	e.suggestions.Dismiss()
	e.mu.Lock()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

// ShowSuggestions is the explicit trigger for the manual suggestion timing.
func (e *Engine) ShowSuggestions() {
	e.mu.Lock()
	e.suggestions.MaybeShow(models.TimingManual, e.cfg)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

// Unmount detaches the engine from its host. Pending continuations check the
// mounted flag and drop their results instead of mutating torn-down state.
func (e *Engine) Unmount() {
	e.mu.Lock()
	e.mounted = false
	e.mu.Unlock()
	e.sched.Stop()
	slog.Debug("Engine unmounted", "chatbotID", e.cfg.ChatbotID)
}

// scheduleBotReply applies a collaborator response (or failure) to the
// timeline after the configured reply delay, behind a typing indicator.
func (e *Engine) scheduleBotReply(resp *models.ChatResponse, callErr error, aiNode *models.FlowNode, synthetic bool) {
	producer := func() models.Message {
		if callErr != nil || resp == nil {
			return models.Message{Sender: models.SenderBot, Text: ChatFailureMessage}
		}
		return models.Message{
			Sender:          models.SenderBot,
			Text:            resp.Text(),
			FollowUpButtons: resp.FollowUpButtons,
			CTAButton:       resp.CTAButton,
			ShouldShowLead:  resp.ShouldShowLead,
			IntentID:        resp.IntentID,
		}
	}

	done := func(stored models.Message) {
		e.mu.Lock()
		if !e.mounted {
			e.mu.Unlock()
			return
		}
		e.st.IsLoading = false
		e.state = models.StateIdle

		if callErr == nil && resp != nil && resp.ActionCollectContactInfo && resp.RequestedContactField != "" {
			e.st.AwaitingContactField = models.ContactField(resp.RequestedContactField)
		}
		if e.st.AwaitingContactField != "" {
			e.state = models.StateAwaitingContactField
		}

		if !e.firstTurnDone {
			// The hidden greeting round trip is not a user-initiated turn;
			// after_first_message waits for the first real exchange.
			if synthetic {
				e.suggestions.MaybeShow(models.TimingAfterWelcome, e.cfg)
			} else {
				e.firstTurnDone = true
				e.suggestions.MaybeShow(models.TimingAfterFirstMessage, e.cfg)
			}
		}

		if e.leads.ShouldPresent(&stored, e.cfg, &e.st, false) {
			e.presentLeadFormLocked()
		}

		if callErr == nil && aiNode != nil {
			if next := e.graph.Next(aiNode.NextID); next != nil {
				e.pushNodeLocked(next)
			} else {
				e.st.CurrentNodeID = ""
			}
		}

		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(snap)
	}

	if err := e.timeline.WithTypingIndicator(e.sched, e.cfg.ReplyDelay, producer, done); err != nil {
		slog.Error("Engine: failed to schedule bot reply", "error", err, "chatbotID", e.cfg.ChatbotID)
		e.mu.Lock()
		e.st.IsLoading = false
		e.state = models.StateIdle
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(snap)
	}
}

// scheduleFlowStep pushes the next flow node's question after the reply
// delay. A nil node means the flow ended silently.
func (e *Engine) scheduleFlowStep(next *models.FlowNode) {
	if next == nil {
		_, err := e.sched.ScheduleAfter(e.cfg.ReplyDelay, func() {
			e.mu.Lock()
			if !e.mounted {
				e.mu.Unlock()
				return
			}
			e.st.CurrentNodeID = ""
			e.st.IsLoading = false
			e.state = models.StateIdle
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.publish(snap)
		})
		if err != nil {
			slog.Warn("Engine: failed to schedule flow end", "error", err)
		}
		return
	}

	producer := func() models.Message {
		return nodeMessage(next)
	}
	done := func(stored models.Message) {
		e.mu.Lock()
		if !e.mounted {
			e.mu.Unlock()
			return
		}
		e.applyNodeLocked(next)
		e.st.IsLoading = false
		e.state = models.StateIdle
		if e.leads.ShouldPresent(&stored, e.cfg, &e.st, false) {
			e.presentLeadFormLocked()
		}
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(snap)
	}
	if err := e.timeline.WithTypingIndicator(e.sched, e.cfg.ReplyDelay, producer, done); err != nil {
		slog.Error("Engine: failed to schedule flow step", "error", err, "node", next.ID)
	}
}

// pushNodeLocked appends a node's question and applies its bookkeeping.
func (e *Engine) pushNodeLocked(n *models.FlowNode) {
	e.timeline.Append(nodeMessage(n))
	e.applyNodeLocked(n)
}

// applyNodeLocked moves the cursor onto n and resolves non-interactive
// consequences: contact-form nodes present the lead form, statement nodes
// auto-advance (appending each question) until an interactive node or the
// end of the flow; the chain is bounded by the node count so an accidental
// cycle cannot spin forever.
func (e *Engine) applyNodeLocked(n *models.FlowNode) {
	e.st.CurrentNodeID = n.ID

	cur := n
	for steps := 0; steps <= e.graph.Len(); steps++ {
		switch cur.Type {
		case models.NodeTypeContactForm:
			if e.leads.ShouldPresent(nil, e.cfg, &e.st, true) {
				e.presentLeadFormLocked()
			}
			return
		case models.NodeTypeStatement:
			next := e.graph.Next(cur.NextID)
			if next == nil {
				e.st.CurrentNodeID = ""
				return
			}
			e.timeline.Append(nodeMessage(next))
			e.st.CurrentNodeID = next.ID
			cur = next
		default:
			return
		}
	}
	slog.Warn("Engine: statement chain exceeded node count, stopping", "node", n.ID)
}

func (e *Engine) presentLeadFormLocked() {
	if e.leads.Submitted() {
		return
	}
	e.leads.Present()
	e.st.LeadFormVisible = true
}

func (e *Engine) currentNodeLocked() *models.FlowNode {
	if e.graph == nil || e.st.FlowEnded || e.st.CurrentNodeID == "" {
		return nil
	}
	return e.graph.Next(e.st.CurrentNodeID)
}

func (e *Engine) chatRequest(text string) models.ChatRequest {
	ctxVars := make(map[string]string, len(e.st.Variables))
	for k, v := range e.st.Variables {
		ctxVars[k] = v
	}
	return models.ChatRequest{
		Message:   text,
		SessionID: e.st.SessionID,
		ChatbotID: e.cfg.ChatbotID,
		Context:   ctxVars,
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	st := e.st
	st.LeadFormVisible = e.leads.Visible()
	st.LeadSubmitted = e.leads.Submitted()
	st.SuggestionsShown = e.suggestions.Shown()
	return Snapshot{
		State:              e.state,
		Messages:           e.timeline.Messages(),
		SuggestionsVisible: e.suggestions.Visible(),
		SuggestionButtons:  e.suggestions.Buttons(),
		LeadFormVisible:    st.LeadFormVisible,
		LeadFields:         e.cfg.LeadCollectionFields,
		Conversation:       st,
	}
}

func (e *Engine) onSuggestionsHidden() {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Engine) publish(snap Snapshot) {
	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
}

// nodeMessage renders a flow node as a bot timeline message; multiple-choice
// options become follow-up buttons.
func nodeMessage(n *models.FlowNode) models.Message {
	msg := models.Message{Sender: models.SenderBot, Text: n.Question}
	for _, opt := range n.Options {
		msg.FollowUpButtons = append(msg.FollowUpButtons, models.FollowUpButton{Text: opt.Text})
	}
	return msg
}

// matchesContactField checks visitor input against the format expected for a
// requested contact field.
func matchesContactField(field models.ContactField, text string) bool {
	text = strings.TrimSpace(text)
	switch field {
	case models.ContactFieldEmail:
		return emailPattern.MatchString(text)
	case models.ContactFieldPhone:
		return phonePattern.MatchString(text)
	case models.ContactFieldName:
		return text != ""
	default:
		return false
	}
}
