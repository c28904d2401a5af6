package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

type fakeAgent struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeAgent) Run(_ context.Context, query string) envelopex.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return envelopex.Answer("echo: " + query)
}

func (f *fakeAgent) History() []contractx.Exchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]contractx.Exchange, 0, len(f.queries))
	for _, q := range f.queries {
		out = append(out, contractx.Exchange{Query: q})
	}
	return out
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(func() (Agent, error) { return &fakeAgent{}, nil })
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	a, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %s twice", a.ID)
	}

	env := a.Ask(context.Background(), "hello")
	if env.Answer == nil || *env.Answer != "echo: hello" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(a.History()) != 1 || len(b.History()) != 0 {
		t.Fatalf("expected history only on session a, got %d and %d", len(a.History()), len(b.History()))
	}
}

func TestGetOrCreate(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	first, created, err := r.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !created {
		t.Fatal("expected a new session for an empty id")
	}

	again, created, err := r.GetOrCreate(first.ID)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if created || again != first {
		t.Fatal("expected the existing session to be returned")
	}

	if _, created, _ := r.GetOrCreate("not-a-uuid"); !created {
		t.Fatal("expected a new session for a malformed id")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if _, err := r.Get("3f2504e0-4f89-11d3-9a0c-0305e82c3301"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFactoryErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for nil factory")
	}

	boom := errors.New("boom")
	r, err := NewRegistry(func() (Agent, error) { return nil, boom })
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := r.Create(); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("failed create must not register a session")
	}
}

func TestAskSerialisesTurns(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	s, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Ask(context.Background(), "q")
		}()
	}
	wg.Wait()

	if got := len(s.History()); got != 20 {
		t.Fatalf("expected 20 exchanges, got %d", got)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedRegistry(t *testing.T, cfg Config) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r, err := NewRegistry(func() (Agent, error) { return &fakeAgent{}, nil }, WithConfig(cfg), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r, clock
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	t.Parallel()

	r, clock := newClockedRegistry(t, Config{IdleTTL: 10 * time.Minute})
	stale, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(6 * time.Minute)
	fresh, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(6 * time.Minute)

	if got := r.Sweep(); got != 1 {
		t.Fatalf("Sweep() = %d, want 1", got)
	}
	if _, err := r.Get(stale.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected stale session to be gone, got %v", err)
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestGetRefreshesLastUse(t *testing.T) {
	t.Parallel()

	r, clock := newClockedRegistry(t, Config{IdleTTL: 10 * time.Minute})
	s, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		clock.Advance(8 * time.Minute)
		if _, err := r.Get(s.ID); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if got := r.Sweep(); got != 0 {
		t.Fatalf("Sweep() = %d, want 0", got)
	}

	clock.Advance(11 * time.Minute)
	if _, err := r.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be reported missing, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected expired session to be removed, %d left", r.Len())
	}
}

func TestMaxSessionsEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	r, clock := newClockedRegistry(t, Config{MaxSessions: 2})
	first, _ := r.Create()
	clock.Advance(time.Second)
	second, _ := r.Create()
	clock.Advance(time.Second)
	first.Ask(context.Background(), "keep me")
	clock.Advance(time.Second)

	third, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected cap of 2 sessions, got %d", r.Len())
	}
	if _, err := r.Get(second.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected least recently used session to be evicted, got %v", err)
	}
	for _, s := range []*Session{first, third} {
		if _, err := r.Get(s.ID); err != nil {
			t.Fatalf("Get(%s) error = %v", s.ID, err)
		}
	}
}

type blockingAgent struct {
	fakeAgent
	started chan struct{}
	release chan struct{}
}

func (b *blockingAgent) Run(ctx context.Context, query string) envelopex.Envelope {
	close(b.started)
	<-b.release
	return b.fakeAgent.Run(ctx, query)
}

func TestBusySessionIsNeverEvicted(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	agent := &blockingAgent{started: make(chan struct{}), release: make(chan struct{})}
	r, err := NewRegistry(func() (Agent, error) { return agent, nil },
		WithConfig(Config{IdleTTL: time.Minute, MaxSessions: 1}), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	s, err := r.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Ask(context.Background(), "slow")
	}()
	<-agent.started

	clock.Advance(time.Hour)
	if got := r.Sweep(); got != 0 {
		t.Fatalf("Sweep() = %d, want 0 while a turn is running", got)
	}
	r.factory = func() (Agent, error) { return &fakeAgent{}, nil }
	if _, err := r.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Get(s.ID); err != nil {
		t.Fatalf("busy session was evicted: %v", err)
	}

	close(agent.release)
	<-done
}

func TestZeroConfigKeepsSessions(t *testing.T) {
	t.Parallel()

	r, clock := newClockedRegistry(t, Config{})
	for i := 0; i < 5; i++ {
		if _, err := r.Create(); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	clock.Advance(24 * time.Hour)
	if got := r.Sweep(); got != 0 {
		t.Fatalf("Sweep() = %d, want 0", got)
	}
	if r.Len() != 5 {
		t.Fatalf("expected 5 sessions, got %d", r.Len())
	}
}
