// Package flow provides scheduler implementations for delayed widget actions.
package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler schedules engine continuations to run after a delay.
//
// Every artificial delay in the engine (popup delay, reply delay, typing
// indicator, suggestion-hide timeout) goes through this interface so tests
// can drive virtual time deterministically. Implementations must invoke the
// callback asynchronously, never from inside ScheduleAfter.
type Scheduler interface {
	// ScheduleAfter schedules fn to run after delay and returns a handle id.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled callback by id. Canceling an unknown or
	// already-fired id is a no-op.
	Cancel(id string) error

	// Stop cancels all scheduled callbacks.
	Stop()
}

// timerEntry tracks information about a scheduled callback
type timerEntry struct {
	timer     *time.Timer
	expiresAt time.Time
}

// SimpleScheduler implements Scheduler using Go's standard time package.
type SimpleScheduler struct {
	timers map[string]*timerEntry
	mu     sync.Mutex
	nextID int64
}

// NewSimpleScheduler creates a new SimpleScheduler.
func NewSimpleScheduler() *SimpleScheduler {
	slog.Debug("Creating SimpleScheduler")
	return &SimpleScheduler{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (s *SimpleScheduler) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("timer_%d", s.nextID)
	s.mu.Unlock()

	slog.Debug("SimpleScheduler ScheduleAfter", "id", id, "delay", delay)

	timer := time.AfterFunc(delay, func() {
		slog.Debug("SimpleScheduler executing scheduled function", "id", id)
		fn()
		// Clean up timer reference
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.timers[id] = &timerEntry{timer: timer, expiresAt: time.Now().Add(delay)}
	s.mu.Unlock()

	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (s *SimpleScheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.timers[id]; exists {
		entry.timer.Stop()
		delete(s.timers, id)
		slog.Debug("SimpleScheduler Cancel succeeded", "id", id)
		return nil
	}

	slog.Debug("SimpleScheduler Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled callbacks.
func (s *SimpleScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Debug("SimpleScheduler stopping all timers", "count", len(s.timers))
	for _, entry := range s.timers {
		entry.timer.Stop()
	}
	s.timers = make(map[string]*timerEntry)
}
