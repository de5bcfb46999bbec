package whatsapp

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
)

// SessionState is the runtime state of one live session.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StatePairing       SessionState = "pairing"
	StateActive        SessionState = "active"
	StateClosing       SessionState = "closing"
	StateInactive      SessionState = "inactive"
	StateError         SessionState = "error"
)

type session struct {
	id        string
	bot       bots.Bot
	provider  Provider
	limiter   *rate.Limiter
	inbox     *mailbox[InboundMessage]
	startedAt time.Time

	mu          sync.Mutex
	state       SessionState
	account     Account
	qr          string
	unsubscribe []func()
	waiter      *pairingWaiter
}

func newSession(bot bots.Bot, provider Provider, limiter *rate.Limiter) *session {
	return &session{
		id:        bot.SessionID,
		bot:       bot,
		provider:  provider,
		limiter:   limiter,
		startedAt: time.Now(),
		state:     StateUninitialized,
	}
}

func (s *session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) getState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) track(unsubscribe func()) {
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, unsubscribe)
	s.mu.Unlock()
}

// detach removes every lifetime listener.
func (s *session) detach() {
	s.mu.Lock()
	fns := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *session) setWaiter(w *pairingWaiter) {
	s.mu.Lock()
	s.waiter = w
	s.mu.Unlock()
}

// settleWaiter resolves the pending start call, if any.
func (s *session) settleWaiter(qr string, err error) {
	s.mu.Lock()
	w := s.waiter
	s.mu.Unlock()
	if w != nil {
		w.settle(qr, err)
	}
}

// settleSuccess resolves the pending start call with qr, running fn first.
// fn is skipped when the call already failed through stop, close or timeout.
func (s *session) settleSuccess(qr string, fn func()) bool {
	s.mu.Lock()
	w := s.waiter
	s.mu.Unlock()
	if w == nil {
		fn()
		return true
	}
	return w.succeed(qr, fn)
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		SessionID: s.id,
		BotID:     s.bot.ID,
		BotName:   s.bot.Name,
		State:     s.state,
		Phone:     s.account.Phone(),
		HasQR:     s.qr != "",
		StartedAt: s.startedAt,
	}
}

// SessionInfo is a point-in-time view of a live session.
type SessionInfo struct {
	SessionID string       `json:"session_id"`
	BotID     string       `json:"bot_id"`
	BotName   string       `json:"bot_name"`
	State     SessionState `json:"state"`
	Phone     string       `json:"phone,omitempty"`
	HasQR     bool         `json:"has_qr"`
	StartedAt time.Time    `json:"started_at"`
}

// Sessions is the registry of live sessions keyed by session id. At most
// one entry exists per id; insertion is check-then-act under one lock.
type Sessions struct {
	mu      sync.RWMutex
	entries map[string]*session
}

func NewSessions() *Sessions {
	return &Sessions{entries: map[string]*session{}}
}

// insert registers s unless its id is taken, in which case it returns
// ErrSessionAlreadyActive.
func (r *Sessions) insert(s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[s.id]; exists {
		return ErrSessionAlreadyActive
	}
	r.entries[s.id] = s
	return nil
}

func (r *Sessions) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[id]
	return s, ok
}

func (r *Sessions) remove(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return s, ok
}

// removeIf deletes id only while it still maps to s, so a stale event from a
// replaced session cannot evict its successor.
func (r *Sessions) removeIf(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[s.id]; ok && cur == s {
		delete(r.entries, s.id)
		return true
	}
	return false
}

func (r *Sessions) isCurrent(s *session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[s.id] == s
}

// findByAccount returns the session whose logged-in account matches account.
// Cloud sessions sharing one phone number id all match; the oldest wins.
func (r *Sessions) findByAccount(account string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *session
	for _, s := range r.entries {
		s.mu.Lock()
		match := s.account.User == account || s.account.Phone() == account
		s.mu.Unlock()
		if match && (found == nil || olderThan(s, found)) {
			found = s
		}
	}
	return found, found != nil
}

func olderThan(a, b *session) bool {
	if !a.startedAt.Equal(b.startedAt) {
		return a.startedAt.Before(b.startedAt)
	}
	return a.id < b.id
}

func (r *Sessions) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	return out
}

// IDs returns the live session ids, sorted.
func (r *Sessions) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns info for every live session, sorted by session id.
func (r *Sessions) Snapshot() []SessionInfo {
	items := r.all()
	out := make([]SessionInfo, 0, len(items))
	for _, s := range items {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
