// Package session binds a conversation to an identifier so that presenters
// serving several users can route each request to the right memory.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

var ErrSessionNotFound = errors.New("session not found")

// Config bounds how many conversations a registry keeps in memory.
type Config struct {
	// IdleTTL evicts a session nobody used for this long; 0 keeps sessions
	// until the process exits.
	IdleTTL time.Duration `envconfig:"IDLE_TTL" split_words:"true" default:"30m"`
	// MaxSessions evicts the least recently used idle session when a new
	// one would exceed it; 0 means unbounded.
	MaxSessions   int           `envconfig:"MAX_SESSIONS" split_words:"true" default:"1000"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" split_words:"true" default:"1m"`
}

// Agent is what a session drives: one orchestrator per conversation.
type Agent interface {
	Run(ctx context.Context, query string) envelopex.Envelope
	History() []contractx.Exchange
}

// Factory builds a fresh agent with empty memory.
type Factory func() (Agent, error)

// Session serialises the turns of one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.Mutex
	agent Agent
	now   func() time.Time

	lastUsed atomic.Int64
	busy     atomic.Int32
}

// Ask runs one turn. Concurrent calls on the same session are queued so the
// memory sees exchanges in submission order. A session is never evicted
// while a turn is running.
func (s *Session) Ask(ctx context.Context, query string) envelopex.Envelope {
	s.busy.Add(1)
	defer s.busy.Add(-1)
	s.touch()
	defer s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent.Run(ctx, query)
}

func (s *Session) History() []contractx.Exchange {
	s.touch()
	return s.agent.History()
}

// LastUsed reports when the session was last asked or read.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

func (s *Session) idle() bool {
	return s.busy.Load() == 0
}

type Option func(*Registry)

func WithConfig(cfg Config) Option {
	return func(r *Registry) {
		r.cfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type Registry struct {
	factory Factory
	cfg     Config

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry(factory Factory, opts ...Option) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	r := &Registry{
		factory:  factory,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.cfg.IdleTTL < 0 {
		r.cfg.IdleTTL = 0
	}
	if r.cfg.MaxSessions < 0 {
		r.cfg.MaxSessions = 0
	}
	return r, nil
}

func (r *Registry) Create() (*Session, error) {
	agent, err := r.factory()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: r.now().UTC(),
		agent:     agent,
		now:       r.now,
	}
	s.touch()

	r.mu.Lock()
	r.sweepLocked()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.evictOldestLocked()
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Info().Str("session_id", s.ID).Msg("session: created")
	return s, nil
}

// Get returns a live session. An expired session is removed and reported
// as not found.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok && r.expired(s) {
		delete(r.sessions, id)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch()
	return s, nil
}

// GetOrCreate returns the session for id, or a new one when id is empty,
// malformed or unknown. created reports which case applied.
func (r *Registry) GetOrCreate(id string) (s *Session, created bool, err error) {
	if _, parseErr := uuid.Parse(id); parseErr == nil {
		if s, err := r.Get(id); err == nil {
			return s, false, nil
		}
	}
	s, err = r.Create()
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops every idle session older than the TTL and returns how many
// were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.cfg.IdleTTL <= 0 {
		return
	}
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Info().Int("evicted", n).Int("remaining", r.Len()).Msg("session: swept idle sessions")
			}
		}
	}
}

/* --- helpers --- */

func (r *Registry) expired(s *Session) bool {
	return r.cfg.IdleTTL > 0 && s.idle() && r.now().Sub(s.LastUsed()) > r.cfg.IdleTTL
}

func (r *Registry) sweepLocked() int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	removed := 0
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// evictOldestLocked drops the least recently used idle session. Busy
// sessions are kept even if that leaves the registry over its cap.
func (r *Registry) evictOldestLocked() {
	var oldest *Session
	for _, s := range r.sessions {
		if !s.idle() {
			continue
		}
		if oldest == nil || s.LastUsed().Before(oldest.LastUsed()) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(r.sessions, oldest.ID)
		log.Info().Str("session_id", oldest.ID).Msg("session: evicted least recently used")
	}
}
