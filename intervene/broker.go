// Package intervene brokers human operator involvement in live sessions.
//
// A Broker holds at most one InterventionRecord per session and relays
// operator-submitted text to the turn pipeline step waiting on it. Takeover
// replaces generation entirely; whisper lets the operator edit an AI
// suggestion before it is spoken; monitoring is read-only.
package intervene

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/logging"
)

// Mode is the operator's level of involvement in a session.
type Mode string

const (
	// ModeAIOnly is normal unattended operation.
	ModeAIOnly Mode = "ai_only"
	// ModeWhisper lets the AI draft while the operator approves or edits.
	ModeWhisper Mode = "whisper"
	// ModeTakeover routes the operator's text directly to the caller.
	ModeTakeover Mode = "takeover"
	// ModeMonitoring observes the session without affecting turns.
	ModeMonitoring Mode = "monitoring"
)

// Record is the current intervention state of one session.
type Record struct {
	SessionID string `json:"session_id"`
	Operator  string `json:"operator"`
	Mode      Mode   `json:"mode"`
	Active    bool   `json:"active"`
}

// PendingAction is a tool call deferred for operator approval. The caller has
// already received a holding message; the action waits here for operator
// tooling to resolve out of band.
type PendingAction struct {
	SessionID   string    `json:"session_id"`
	Tool        string    `json:"tool"`
	Arguments   string    `json:"arguments"`
	RequestedAt time.Time `json:"requested_at"`
}

// Broker tracks intervention records and relays operator text. Safe for
// concurrent use.
type Broker struct {
	mu      sync.Mutex
	records map[string]*Record
	// inboxes buffer operator text per session until the pipeline collects it.
	inboxes map[string]chan string
	pending map[string][]PendingAction
	logger  logging.Logger
}

// Options configures a Broker.
type Options struct {
	Logger logging.Logger
}

// NewBroker constructs an empty Broker.
func NewBroker(optFns ...func(o *Options)) *Broker {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Broker{
		records: make(map[string]*Record),
		inboxes: make(map[string]chan string),
		pending: make(map[string][]PendingAction),
		logger:  opts.Logger,
	}
}

// Start begins or updates an intervention. A session has at most one record;
// starting again overwrites the mode and operator in place.
func (b *Broker) Start(sessionID, operator string, mode Mode) Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[sessionID]
	if !ok {
		rec = &Record{SessionID: sessionID}
		b.records[sessionID] = rec
	}
	rec.Operator = operator
	rec.Mode = mode
	rec.Active = true
	b.logger.Info("intervention started", "session_id", sessionID, "operator", operator, "mode", string(mode))
	return *rec
}

// Stop ends the session's intervention and drops any queued operator text.
func (b *Broker) Stop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[sessionID]
	if !ok {
		return
	}
	rec.Active = false
	rec.Mode = ModeAIOnly
	if ch, ok := b.inboxes[sessionID]; ok {
		delete(b.inboxes, sessionID)
		close(ch)
	}
	b.logger.Info("intervention stopped", "session_id", sessionID)
}

// Status returns the session's record, or false when no intervention is or
// was active.
func (b *Broker) Status(sessionID string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[sessionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Mode returns the session's effective mode; sessions without an active
// record run ai_only.
func (b *Broker) Mode(sessionID string) Mode {
	rec, ok := b.Status(sessionID)
	if !ok || !rec.Active {
		return ModeAIOnly
	}
	return rec.Mode
}

// Respond delivers operator text toward the waiting pipeline step. Text
// submitted while no turn is waiting is buffered; the buffer holds one
// message and newer text wins.
func (b *Broker) Respond(sessionID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.inbox(sessionID)
	select {
	case ch <- text:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- text
	}
}

// Await blocks until operator text arrives for the session or the context
// expires.
func (b *Broker) Await(ctx context.Context, sessionID string) (string, bool) {
	b.mu.Lock()
	ch := b.inbox(sessionID)
	b.mu.Unlock()
	select {
	case text, ok := <-ch:
		return text, ok
	case <-ctx.Done():
		return "", false
	}
}

// Defer queues a tool call awaiting operator approval.
func (b *Broker) Defer(sessionID, toolName, arguments string) PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	action := PendingAction{
		SessionID:   sessionID,
		Tool:        toolName,
		Arguments:   arguments,
		RequestedAt: time.Now().UTC(),
	}
	b.pending[sessionID] = append(b.pending[sessionID], action)
	b.logger.Info("tool call deferred for approval", "session_id", sessionID, "tool", toolName)
	return action
}

// PendingActions returns the session's queued approvals, oldest first.
func (b *Broker) PendingActions(sessionID string) []PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingAction, len(b.pending[sessionID]))
	copy(out, b.pending[sessionID])
	return out
}

func (b *Broker) inbox(sessionID string) chan string {
	ch, ok := b.inboxes[sessionID]
	if !ok {
		ch = make(chan string, 1)
		b.inboxes[sessionID] = ch
	}
	return ch
}
