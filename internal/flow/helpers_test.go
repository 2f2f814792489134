package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/embedbot/widgetcore/internal/models"
)

// fakeScheduler queues callbacks instead of running them, so tests control
// exactly when delayed work fires. Callbacks are never invoked inline from
// ScheduleAfter, matching the real scheduler's contract.
type fakeScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending []fakeTimer
	fired   []time.Duration
	stopped bool
}

type fakeTimer struct {
	id    string
	delay time.Duration
	fn    func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("fake_%d", s.nextID)
	s.pending = append(s.pending, fakeTimer{id: id, delay: delay, fn: fn})
	return id, nil
}

func (s *fakeScheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.pending {
		if t.id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("timer %s not found", id)
}

// Stop marks the scheduler stopped but keeps the queue, so tests can fire a
// callback that was already in flight when Stop was called and prove the
// receiver drops it.
func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// fire runs the oldest pending callback. Returns false when nothing is queued.
func (s *fakeScheduler) fire() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	s.fired = append(s.fired, t.delay)
	s.mu.Unlock()
	t.fn()
	return true
}

// drain fires callbacks until the queue is empty, including ones queued by
// earlier callbacks.
func (s *fakeScheduler) drain() {
	for s.fire() {
	}
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// errScheduler refuses all scheduling, to exercise failure paths.
type errScheduler struct{}

func (errScheduler) ScheduleAfter(time.Duration, func()) (string, error) {
	return "", fmt.Errorf("scheduler unavailable")
}
func (errScheduler) Cancel(string) error { return fmt.Errorf("scheduler unavailable") }
func (errScheduler) Stop()               {}

// fakeBackend is a scripted chat backend. Responses are consumed in order;
// when the script runs out the last entry repeats.
type fakeBackend struct {
	mu           sync.Mutex
	responses    []*models.ChatResponse
	chatErr      error
	leadErr      error
	chatRequests []models.ChatRequest
	leads        []models.LeadSubmission
}

func (b *fakeBackend) SendChatMessage(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatRequests = append(b.chatRequests, req)
	if b.chatErr != nil {
		return nil, b.chatErr
	}
	if len(b.responses) == 0 {
		return &models.ChatResponse{Response: "ok"}, nil
	}
	resp := b.responses[0]
	if len(b.responses) > 1 {
		b.responses = b.responses[1:]
	}
	return resp, nil
}

func (b *fakeBackend) SubmitLead(_ context.Context, _ string, lead models.LeadSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leadErr != nil {
		return b.leadErr
	}
	b.leads = append(b.leads, lead)
	return nil
}

// visibleTexts extracts non-placeholder message bodies for assertions.
func visibleTexts(msgs []models.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Typing {
			continue
		}
		out = append(out, m.Text)
	}
	return out
}
