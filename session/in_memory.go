package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/core"
)

// DefaultTTL bounds how long an idle session is retained.
const DefaultTTL = 24 * time.Hour

// Compile time check to ensure InMemoryStore satisfies the core.SessionStore interface.
var _ core.SessionStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile core.SessionStore keeping sessions in a process
// local map with a TTL and an active-session index. It is safe for concurrent
// access and best suited for tests or single-node deployments; swap in a
// durable backend for multi-node setups.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	active   map[string]struct{}
	ttl      time.Duration
	now      func() time.Time
}

type entry struct {
	sess    *core.Session
	expires time.Time
}

// InMemoryStoreOptions configures an InMemoryStore.
type InMemoryStoreOptions struct {
	// TTL bounds session lifetime from last touch. Zero means DefaultTTL.
	TTL time.Duration
	// Now overrides the clock, used by tests for expiry control.
	Now func() time.Time
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryStoreOptions)) *InMemoryStore {
	opts := InMemoryStoreOptions{TTL: DefaultTTL, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	return &InMemoryStore{
		sessions: make(map[string]*entry),
		active:   make(map[string]struct{}),
		ttl:      opts.TTL,
		now:      opts.Now,
	}
}

// Create allocates a new active session owned by agentID.
func (s *InMemoryStore) Create(id, agentID string, metadata map[string]string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	sess := core.NewSession(id, agentID)
	for k, v := range metadata {
		sess.SetMetadata(k, v)
	}
	s.sessions[id] = &entry{sess: sess, expires: s.now().Add(s.ttl)}
	s.active[id] = struct{}{}
	return sess.Clone(), nil
}

// Get returns a clone of an existing, unexpired session.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return e.sess.Clone(), nil
}

// AppendTurn adds a turn to the session history.
func (s *InMemoryStore) AppendTurn(sessionID string, t core.Turn) error {
	return s.mutate(sessionID, func(sess *core.Session) { sess.AppendTurn(t) })
}

// LogToolCall appends a record to the session tool-call log.
func (s *InMemoryStore) LogToolCall(sessionID string, rec core.ToolCallRecord) error {
	return s.mutate(sessionID, func(sess *core.Session) { sess.LogToolCall(rec) })
}

// SetPolicyState records the current policy state machine position.
func (s *InMemoryStore) SetPolicyState(sessionID, state string) error {
	return s.mutate(sessionID, func(sess *core.Session) { sess.SetPolicyState(state) })
}

// SetMetadata writes one metadata key on the session.
func (s *InMemoryStore) SetMetadata(sessionID, key, value string) error {
	return s.mutate(sessionID, func(sess *core.Session) { sess.SetMetadata(key, value) })
}

// Escalate marks the session escalated. The session stays in the active
// index so operators still see it in ActiveSessions until it ends.
func (s *InMemoryStore) Escalate(sessionID, reason, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	e.sess.Escalate(reason, target)
	e.expires = s.now().Add(s.ttl)
	return nil
}

// End moves the session to the ended state and removes it from the active index.
func (s *InMemoryStore) End(sessionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	e.sess.End(reason)
	delete(s.active, sessionID)
	return nil
}

// ActiveSessions returns clones of all active or escalated sessions, pruning
// anything expired or ended that is still indexed.
func (s *InMemoryStore) ActiveSessions() ([]*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Session, 0, len(s.active))
	for id := range s.active {
		e, ok := s.sessions[id]
		if !ok || s.now().After(e.expires) || e.sess.GetStatus() == core.SessionEnded {
			delete(s.active, id)
			continue
		}
		out = append(out, e.sess.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) mutate(sessionID string, fn func(*core.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	fn(e.sess)
	e.expires = s.now().Add(s.ttl)
	return nil
}

func (s *InMemoryStore) lookupLocked(id string) (*entry, error) {
	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if s.now().After(e.expires) {
		return nil, fmt.Errorf("session %s expired", id)
	}
	return e, nil
}
