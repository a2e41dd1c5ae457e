// Package session manages realtime AI sessions: creation, input dispatch,
// output assembly, reconnection and restore.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/live"
	"github.com/google/uuid"
)

// State is a session's lifecycle state
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InitParams are the caller-supplied parameters of a session. They are
// reused verbatim when the channel is reopened.
type InitParams struct {
	UserID        uuid.UUID
	SessionType   domain.SessionType
	Profile       string
	Language      string
	CustomPrompt  string
	SearchEnabled bool
}

// Info is a point-in-time view of a session
type Info struct {
	ID           string             `json:"id"`
	UserID       uuid.UUID          `json:"user_id"`
	SessionType  domain.SessionType `json:"session_type"`
	Profile      string             `json:"profile"`
	Language     string             `json:"language"`
	State        State              `json:"state"`
	TokensUsed   int64              `json:"tokens_used"`
	Turns        int                `json:"turns"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
}

type envelope struct {
	generation uint64
	event      live.Event
	terminal   error
}

const eventBuffer = 256

// Session is one logical conversation. Its id survives channel replacement
// and restore.
type Session struct {
	params    InitParams
	createdAt time.Time

	mu           sync.RWMutex
	id           string
	state        State
	channel      live.Channel
	history      []domain.ConversationTurn
	lastActivity time.Time
	observers    map[int]Observer
	nextObserver int

	generation   atomic.Uint64
	tokensUsed   atomic.Int64
	reconnecting atomic.Bool
	attempts     atomic.Int32

	events    chan envelope
	ctx       context.Context
	cancel    context.CancelFunc
	assembler Assembler
}

func newSession(id string, p InitParams, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		params:       p,
		createdAt:    now,
		id:           id,
		state:        StateInitializing,
		lastActivity: now,
		observers:    make(map[int]Observer),
		events:       make(chan envelope, eventBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) UserID() uuid.UUID {
	return s.params.UserID
}

func (s *Session) Params() InitParams {
	return s.params
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) TokensUsed() int64 {
	return s.tokensUsed.Load()
}

func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// History returns a copy of the completed turns, oldest first.
func (s *Session) History() []domain.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConversationTurn(nil), s.history...)
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:           s.id,
		UserID:       s.params.UserID,
		SessionType:  s.params.SessionType,
		Profile:      s.params.Profile,
		Language:     s.params.Language,
		State:        s.state,
		TokensUsed:   s.tokensUsed.Load(),
		Turns:        len(s.history),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

func (s *Session) currentChannel() live.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

// activate installs ch as the live channel. It fails when the session was
// closed meanwhile, in which case the caller owns ch.
func (s *Session) activate(ch live.Channel) (live.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false
	}
	old := s.channel
	s.channel = ch
	s.state = StateActive
	s.attempts.Store(0)
	return old, true
}

func (s *Session) markReconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.state = StateReconnecting
	return true
}

// markClosed transitions to Closed and returns the channel to close. Only
// the first caller gets ok.
func (s *Session) markClosed() (live.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false
	}
	s.state = StateClosed
	ch := s.channel
	s.channel = nil
	return ch, true
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Session) appendTurn(turn domain.ConversationTurn) {
	s.mu.Lock()
	s.history = append(s.history, turn)
	s.mu.Unlock()
}

// seedHistory prepends persisted turns ahead of anything recorded since.
func (s *Session) seedHistory(turns []domain.ConversationTurn) {
	if len(turns) == 0 {
		return
	}
	s.mu.Lock()
	s.history = append(append([]domain.ConversationTurn(nil), turns...), s.history...)
	s.mu.Unlock()
}

func (s *Session) attach(o Observer) func() {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = o
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) snapshotObservers() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		out = append(out, o)
	}
	return out
}

// sinkFor returns a sink tagging events with the given channel generation.
func (s *Session) sinkFor(generation uint64) live.Sink {
	return func(ev live.Event) {
		s.enqueue(envelope{generation: generation, event: ev})
	}
}

func (s *Session) enqueue(env envelope) {
	select {
	case s.events <- env:
	case <-s.ctx.Done():
	}
}

func (s *Session) liveConfig(model string) live.Config {
	return live.Config{
		Model:             model,
		Language:          s.params.Language,
		SystemInstruction: SystemPrompt(s.params.Profile, s.params.CustomPrompt, s.params.SearchEnabled),
		SearchEnabled:     s.params.SearchEnabled,
	}
}
