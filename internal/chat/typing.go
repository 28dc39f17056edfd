package chat

import (
	"sync"
	"time"

	"mazungumzo/internal/models"
)

const DefaultTypingTimeout = time.Second

// TypingController turns local draft activity into start/stop signals.
// A start is sent on the first activity after a stop; a stop is sent when
// no activity was seen for timeout, or immediately on message send.
type TypingController struct {
	send    func(models.Command) bool
	clock   Clock
	timeout time.Duration

	mu             sync.Mutex
	started        bool
	conversationID models.ID
	timer          Timer
	// gen invalidates callbacks of timers that were replaced or canceled.
	gen     uint64
	stopped bool
}

func NewTypingController(send func(models.Command) bool, clock Clock, timeout time.Duration) *TypingController {
	if clock == nil {
		clock = realClock{}
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingController{
		send:    send,
		clock:   clock,
		timeout: timeout,
	}
}

// Activity records a draft change in conversationID.
func (t *TypingController) Activity(conversationID models.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	if t.started && t.conversationID != conversationID {
		t.send(models.SetTyping{ConversationID: t.conversationID, IsTyping: false})
		t.started = false
	}

	if !t.started {
		// A start that was dropped is retried on the next keystroke.
		if !t.send(models.SetTyping{ConversationID: conversationID, IsTyping: true}) {
			t.cancelTimer()
			return
		}
		t.started = true
		t.conversationID = conversationID
	}

	t.cancelTimer()
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.timeout, func() {
		t.expire(gen)
	})
}

// Sent is called after a message was sent to conversationID. The stop
// signal is emitted unconditionally.
func (t *TypingController) Sent(conversationID models.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.cancelTimer()
	t.started = false
	t.send(models.SetTyping{ConversationID: conversationID, IsTyping: false})
}

// Cancel ends an ongoing typing signal, if any, with an explicit stop.
func (t *TypingController) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.cancelTimer()
	if t.started {
		t.started = false
		t.send(models.SetTyping{ConversationID: t.conversationID, IsTyping: false})
	}
}

// Stop cancels any pending timer for good. Later calls are no-ops.
func (t *TypingController) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelTimer()
	t.started = false
	t.stopped = true
}

func (t *TypingController) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *TypingController) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || gen != t.gen || !t.started {
		return
	}
	t.started = false
	t.timer = nil
	t.send(models.SetTyping{ConversationID: t.conversationID, IsTyping: false})
}

// cancelTimer stops the pending timer. Caller holds t.mu.
func (t *TypingController) cancelTimer() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
