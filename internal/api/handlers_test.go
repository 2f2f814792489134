package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/embedbot/widgetcore/internal/flow"
	"github.com/embedbot/widgetcore/internal/models"
	"github.com/embedbot/widgetcore/internal/store"
)

// stubBackend scripts the collaborator surface for handler tests.
type stubBackend struct {
	mu        sync.Mutex
	publicCfg *models.PublicConfig
	chatReply string
	leads     []models.LeadSubmission
}

func (b *stubBackend) FetchPublicConfig(context.Context, string) (*models.PublicConfig, error) {
	return b.publicCfg, nil
}

func (b *stubBackend) SendChatMessage(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	return &models.ChatResponse{Response: b.chatReply}, nil
}

func (b *stubBackend) SubmitLead(_ context.Context, _ string, lead models.LeadSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leads = append(b.leads, lead)
	return nil
}

func newTestServer(t *testing.T, backend *stubBackend) (*Server, *httptest.Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	srv := NewServer(st, WithChatAPIBaseURL("http://backend.test"))
	srv.newBackend = func(string) backendClient { return backend }
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeResult(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}
}

func openWidget(t *testing.T, ts *httptest.Server, req openWidgetRequest) openWidgetResult {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/widget/open", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open returned %d", resp.StatusCode)
	}
	var result openWidgetResult
	decodeResult(t, resp, &result)
	if result.InstanceID == "" || result.SessionID == "" {
		t.Fatalf("open returned incomplete result: %+v", result)
	}
	return result
}

// waitForSnapshot polls the state endpoint until cond holds or times out.
// Real timers drive the engine's delayed work, so handler tests wait for it.
func waitForSnapshot(t *testing.T, ts *httptest.Server, instanceID string, cond func(flow.Snapshot) bool) flow.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var snap flow.Snapshot
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/widget/state?instance_id=" + instanceID)
		if err != nil {
			t.Fatalf("state request failed: %v", err)
		}
		decodeResult(t, resp, &snap)
		if cond(snap) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline; last snapshot: %+v", snap)
	return snap
}

func fastOverrides() models.PublicConfig {
	zero := 0
	welcome := "Hi from tests!"
	return models.PublicConfig{
		WelcomeMessage: &welcome,
		ReplyDelayMs:   &zero,
		PopupDelayMs:   &zero,
	}
}

func TestOpenWidgetAndWelcome(t *testing.T) {
	backend := &stubBackend{chatReply: "unused"}
	_, ts, _ := newTestServer(t, backend)

	result := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: fastOverrides()})
	snap := waitForSnapshot(t, ts, result.InstanceID, func(s flow.Snapshot) bool {
		return len(s.Messages) == 1
	})
	if snap.Messages[0].Text != "Hi from tests!" {
		t.Errorf("expected welcome, got %q", snap.Messages[0].Text)
	}
}

func TestOpenWidgetReusesSession(t *testing.T) {
	backend := &stubBackend{}
	_, ts, _ := newTestServer(t, backend)

	a := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: fastOverrides()})
	b := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: fastOverrides()})
	if a.SessionID != b.SessionID {
		t.Errorf("same chatbot should reuse the session, got %q vs %q", a.SessionID, b.SessionID)
	}
	if a.InstanceID == b.InstanceID {
		t.Error("each open must get its own instance")
	}

	c := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-2", Overrides: fastOverrides()})
	if c.SessionID == a.SessionID {
		t.Error("different chatbots must not share sessions")
	}
}

func TestOpenWidgetValidation(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubBackend{})

	resp := postJSON(t, ts.URL+"/api/widget/open", openWidgetRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing chatbot_id should 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	r, _ := http.Get(ts.URL + "/api/widget/open")
	if r.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET open should 405, got %d", r.StatusCode)
	}
	r.Body.Close()
}

func TestSendMessageRoundTrip(t *testing.T) {
	backend := &stubBackend{chatReply: "the answer"}
	_, ts, _ := newTestServer(t, backend)

	result := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: fastOverrides()})
	waitForSnapshot(t, ts, result.InstanceID, func(s flow.Snapshot) bool {
		return len(s.Messages) == 1
	})

	resp := postJSON(t, ts.URL+"/api/widget/send", sendMessageRequest{
		InstanceID: result.InstanceID,
		Message:    "a question",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	snap := waitForSnapshot(t, ts, result.InstanceID, func(s flow.Snapshot) bool {
		return s.State == models.StateIdle && len(s.Messages) == 3
	})
	last := snap.Messages[len(snap.Messages)-1]
	if last.Text != "the answer" {
		t.Errorf("expected backend reply, got %q", last.Text)
	}
}

func TestSendMessageUnknownInstance(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubBackend{})
	resp := postJSON(t, ts.URL+"/api/widget/send", sendMessageRequest{InstanceID: "w_nope", Message: "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instance should 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubmitLead(t *testing.T) {
	backend := &stubBackend{}
	enabled := true
	overrides := fastOverrides()
	overrides.LeadCollectionEnabled = &enabled
	overrides.LeadCollectionFields = []models.LeadField{{Name: "name", Required: true}}
	_, ts, _ := newTestServer(t, backend)

	result := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: overrides})
	resp := postJSON(t, ts.URL+"/api/widget/lead", submitLeadRequest{
		InstanceID: result.InstanceID,
		Lead:       models.LeadSubmission{Name: "Ada"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lead submit returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.leads) != 1 || backend.leads[0].Name != "Ada" {
		t.Errorf("backend received %+v", backend.leads)
	}
}

func TestSubmitLeadValidationError(t *testing.T) {
	enabled := true
	overrides := fastOverrides()
	overrides.LeadCollectionEnabled = &enabled
	overrides.LeadCollectionFields = []models.LeadField{{Name: "email", Required: true}}
	_, ts, _ := newTestServer(t, &stubBackend{})

	result := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: overrides})
	resp := postJSON(t, ts.URL+"/api/widget/lead", submitLeadRequest{
		InstanceID: result.InstanceID,
		Lead:       models.LeadSubmission{Name: "Ada"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid lead should 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCloseWidgetPersistsTranscript(t *testing.T) {
	backend := &stubBackend{}
	_, ts, st := newTestServer(t, backend)

	result := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: fastOverrides()})
	waitForSnapshot(t, ts, result.InstanceID, func(s flow.Snapshot) bool {
		return len(s.Messages) == 1
	})

	resp := postJSON(t, ts.URL+"/api/widget/close", instanceRequest{InstanceID: result.InstanceID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	transcript, err := st.GetTranscript(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(transcript) != 1 || transcript[0].Text != "Hi from tests!" {
		t.Errorf("transcript not persisted: %+v", transcript)
	}

	// Closed instance is gone.
	r, _ := http.Get(ts.URL + "/api/widget/state?instance_id=" + result.InstanceID)
	if r.StatusCode != http.StatusNotFound {
		t.Errorf("closed instance should 404, got %d", r.StatusCode)
	}
	r.Body.Close()

	// A new open on the same session returns the saved history.
	reopened := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: fastOverrides()})
	if len(reopened.History) != 1 || reopened.History[0].Text != "Hi from tests!" {
		t.Errorf("reopen should rehydrate history, got %+v", reopened.History)
	}
}

func TestDismissSuggestions(t *testing.T) {
	timing := string(models.TimingInitial)
	buttons := `["Pricing"]`
	overrides := fastOverrides()
	overrides.SuggestionTiming = &timing
	overrides.SuggestionButtons = &buttons
	_, ts, _ := newTestServer(t, &stubBackend{})

	result := openWidget(t, ts, openWidgetRequest{ChatbotID: "bot-1", Overrides: overrides})
	snap := waitForSnapshot(t, ts, result.InstanceID, func(s flow.Snapshot) bool {
		return s.SuggestionsVisible
	})
	if len(snap.SuggestionButtons) != 1 {
		t.Fatalf("expected one suggestion button, got %v", snap.SuggestionButtons)
	}

	resp := postJSON(t, ts.URL+"/api/widget/suggestions/dismiss", instanceRequest{InstanceID: result.InstanceID})
	resp.Body.Close()
	waitForSnapshot(t, ts, result.InstanceID, func(s flow.Snapshot) bool {
		return !s.SuggestionsVisible
	})
}
