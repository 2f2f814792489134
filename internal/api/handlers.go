// Package api provides the widget endpoint handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/embedbot/widgetcore/internal/config"
	"github.com/embedbot/widgetcore/internal/flow"
	"github.com/embedbot/widgetcore/internal/models"
	"github.com/embedbot/widgetcore/internal/util"
)

// backendClient is the full collaborator surface one widget needs.
type backendClient interface {
	config.Fetcher
	flow.ChatBackend
}

type openWidgetRequest struct {
	ChatbotID  string              `json:"chatbot_id"`
	APIBaseURL string              `json:"api_base_url,omitempty"`
	Overrides  models.PublicConfig `json:"overrides"`
}

type openWidgetResult struct {
	InstanceID string           `json:"instance_id"`
	SessionID  string           `json:"session_id"`
	History    []models.Message `json:"history,omitempty"`
	Snapshot   flow.Snapshot    `json:"snapshot"`
}

type sendMessageRequest struct {
	InstanceID string `json:"instance_id"`
	Message    string `json:"message"`
	Source     string `json:"source,omitempty"`
}

type clickOptionRequest struct {
	InstanceID  string `json:"instance_id"`
	OptionIndex int    `json:"option_index"`
}

type submitLeadRequest struct {
	InstanceID string                `json:"instance_id"`
	Lead       models.LeadSubmission `json:"lead"`
}

type instanceRequest struct {
	InstanceID string `json:"instance_id"`
}

// openWidgetHandler handles POST /api/widget/open. It resolves configuration,
// restores or creates the durable session, boots an engine, and returns the
// instance handle plus any persisted transcript for rehydration.
func (s *Server) openWidgetHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("openWidgetHandler invoked", "method", r.Method)
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req openWidgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("openWidgetHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ChatbotID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("chatbot_id is required"))
		return
	}
	base := req.APIBaseURL
	if base == "" {
		base = s.chatAPIBaseURL
	}
	if base == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("api_base_url is required"))
		return
	}

	client := s.newBackend(base)
	cfg, err := config.NewResolver(client).Resolve(r.Context(), config.Embed{
		ChatbotID:  req.ChatbotID,
		APIBaseURL: base,
		Overrides:  req.Overrides,
	})
	if err != nil {
		slog.Warn("openWidgetHandler config resolution failed", "error", err, "chatbotID", req.ChatbotID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to resolve configuration: "+err.Error()))
		return
	}

	sessionID, err := s.sessions.Resolve(r.Context(), cfg.ChatbotID)
	if err != nil {
		slog.Error("openWidgetHandler session resolution failed", "error", err, "chatbotID", cfg.ChatbotID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve session"))
		return
	}

	history, err := s.st.GetTranscript(r.Context(), sessionID)
	if err != nil {
		slog.Warn("openWidgetHandler transcript load failed", "error", err, "sessionID", sessionID)
		history = nil
	}

	engine := flow.NewEngine(cfg, sessionID, client, flow.NewSimpleScheduler())
	if err := engine.Open(context.Background()); err != nil {
		slog.Error("openWidgetHandler engine open failed", "error", err, "chatbotID", cfg.ChatbotID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open widget"))
		return
	}

	instanceID := util.GenerateWidgetInstanceID()
	s.mu.Lock()
	s.widgets[instanceID] = &widgetInstance{engine: engine, chatbotID: cfg.ChatbotID, sessionID: sessionID}
	s.mu.Unlock()

	slog.Info("Widget opened", "instanceID", instanceID, "chatbotID", cfg.ChatbotID, "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(openWidgetResult{
		InstanceID: instanceID,
		SessionID:  sessionID,
		History:    history,
		Snapshot:   engine.Snapshot(),
	}))
}

// sendMessageHandler handles POST /api/widget/send.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	inst, ok := s.lookup(req.InstanceID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown widget instance"))
		return
	}

	source := models.SourceManual
	if req.Source == string(models.SourceSuggestion) {
		source = models.SourceSuggestion
	}
	if err := inst.engine.Send(r.Context(), req.Message, source); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(inst.engine.Snapshot()))
}

// clickOptionHandler handles POST /api/widget/option.
func (s *Server) clickOptionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req clickOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	inst, ok := s.lookup(req.InstanceID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown widget instance"))
		return
	}
	if err := inst.engine.ClickOption(r.Context(), req.OptionIndex); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(inst.engine.Snapshot()))
}

// submitLeadHandler handles POST /api/widget/lead. Failures still return the
// snapshot path: the engine appends its own apology or thank-you message.
func (s *Server) submitLeadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req submitLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	inst, ok := s.lookup(req.InstanceID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown widget instance"))
		return
	}
	if err := inst.engine.SubmitLead(r.Context(), req.Lead); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Recorded("Lead recorded"))
}

// dismissSuggestionsHandler handles POST /api/widget/suggestions/dismiss.
func (s *Server) dismissSuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	inst, ok := s.lookup(req.InstanceID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown widget instance"))
		return
	}
	inst.engine.DismissSuggestions()
	writeJSONResponse(w, http.StatusOK, models.Success(inst.engine.Snapshot()))
}

// widgetStateHandler handles GET /api/widget/state?instance_id=...
func (s *Server) widgetStateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	inst, ok := s.lookup(r.URL.Query().Get("instance_id"))
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown widget instance"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(inst.engine.Snapshot()))
}

// closeWidgetHandler handles POST /api/widget/close. The transcript is
// persisted so a later open on the same session can rehydrate it.
func (s *Server) closeWidgetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	s.mu.Lock()
	inst, ok := s.widgets[req.InstanceID]
	if ok {
		delete(s.widgets, req.InstanceID)
	}
	s.mu.Unlock()
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown widget instance"))
		return
	}

	snap := inst.engine.Snapshot()
	transcript := make([]models.Message, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		if !m.Typing {
			transcript = append(transcript, m)
		}
	}
	if err := s.st.SaveTranscript(r.Context(), inst.sessionID, transcript); err != nil {
		slog.Error("closeWidgetHandler transcript save failed", "error", err, "sessionID", inst.sessionID)
	}
	inst.engine.Unmount()

	slog.Info("Widget closed", "instanceID", req.InstanceID, "chatbotID", inst.chatbotID)
	writeJSONResponse(w, http.StatusOK, models.Recorded("Widget closed"))
}

func (s *Server) lookup(instanceID string) (*widgetInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.widgets[instanceID]
	return inst, ok
}

// writeEngineError maps engine errors to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEngineBusy):
		writeJSONResponse(w, http.StatusConflict, models.Error("A reply is already in flight"))
	case errors.Is(err, models.ErrEngineUnmounted):
		writeJSONResponse(w, http.StatusGone, models.Error("Widget instance is closed"))
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	}
}
