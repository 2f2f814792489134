package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/embedbot/widgetcore/internal/models"
)

// typingMessageText is the placeholder body shown while a reply is pending.
const typingMessageText = "..."

// MessageTimeline is the ordered, append-only log of exchanged messages.
//
// The only in-place mutation it ever performs is removing the transient
// typing placeholder; placeholders never appear in the exported list.
type MessageTimeline struct {
	mu       sync.Mutex
	messages []models.Message
	lastTick int64
	seq      int64
}

// NewMessageTimeline creates an empty timeline.
func NewMessageTimeline() *MessageTimeline {
	return &MessageTimeline{}
}

// nextID derives a unique message id from the current timestamp plus a
// monotonic counter. The tick is clamped to the highest one seen so a
// caller-supplied or stepped-back timestamp cannot reissue an id.
func (t *MessageTimeline) nextID(now time.Time) string {
	tick := now.UnixMilli()
	if tick < t.lastTick {
		tick = t.lastTick
	}
	if tick > t.lastTick {
		t.lastTick = tick
		t.seq = 0
	}
	t.seq++
	return fmt.Sprintf("%d-%d", tick, t.seq)
}

// Append adds a message to the end of the timeline, assigning an id and
// timestamp when the caller left them empty, and returns the stored message.
func (t *MessageTimeline) Append(msg models.Message) models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(msg)
}

func (t *MessageTimeline) appendLocked(msg models.Message) models.Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ID == "" {
		msg.ID = t.nextID(msg.Timestamp)
	}
	t.messages = append(t.messages, msg)
	slog.Debug("MessageTimeline append", "id", msg.ID, "sender", msg.Sender, "typing", msg.Typing)
	return msg
}

// WithTypingIndicator inserts a transient typing placeholder, waits delay on
// the given scheduler, removes the placeholder, appends the message built by
// producer, then invokes done with the stored message. This is the only
// place placeholders are removed after insertion.
func (t *MessageTimeline) WithTypingIndicator(sched Scheduler, delay time.Duration, producer func() models.Message, done func(models.Message)) error {
	t.mu.Lock()
	placeholder := t.appendLocked(models.Message{
		Sender: models.SenderBot,
		Text:   typingMessageText,
		Typing: true,
	})
	t.mu.Unlock()

	_, err := sched.ScheduleAfter(delay, func() {
		t.mu.Lock()
		t.removeLocked(placeholder.ID)
		stored := t.appendLocked(producer())
		t.mu.Unlock()
		if done != nil {
			done(stored)
		}
	})
	if err != nil {
		// Scheduling failed; drop the placeholder so the timeline is not
		// stuck showing a typing indicator forever.
		t.mu.Lock()
		t.removeLocked(placeholder.ID)
		t.mu.Unlock()
		return fmt.Errorf("failed to schedule typing indicator: %w", err)
	}
	return nil
}

func (t *MessageTimeline) removeLocked(id string) {
	for i, m := range t.messages {
		if m.ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the visible timeline, including any pending
// typing placeholder, for rendering.
func (t *MessageTimeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Export returns a copy of the timeline without transient placeholders,
// suitable for persistence or lead conversation context.
func (t *MessageTimeline) Export() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, 0, len(t.messages))
	for _, m := range t.messages {
		if m.Typing {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len returns the number of non-placeholder messages.
func (t *MessageTimeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.messages {
		if !m.Typing {
			n++
		}
	}
	return n
}

// LastSender returns the sender of the most recent non-placeholder message,
// or the empty sender for an empty timeline.
func (t *MessageTimeline) LastSender() models.Sender {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		if !t.messages[i].Typing {
			return t.messages[i].Sender
		}
	}
	return ""
}
