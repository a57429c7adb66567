package authclient_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubGuard keeps one pending state per provider.
type stubGuard struct {
	mu      sync.Mutex
	pending map[string]string
	seq     int
}

func newStubGuard() *stubGuard {
	return &stubGuard{pending: map[string]string{}}
}

func (g *stubGuard) Begin(_ context.Context, provider string) (*authclient.RedirectIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	state := fmt.Sprintf("state-%d", g.seq)
	g.pending[provider] = state
	return &authclient.RedirectIntent{
		Provider: provider,
		URL:      "https://idp.example.com/authorize?state=" + state,
		State:    state,
		Nonce:    fmt.Sprintf("nonce-%d", g.seq),
	}, nil
}

func (g *stubGuard) Consume(_ context.Context, provider, returned string) (*authclient.RedirectState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	expected, ok := g.pending[provider]
	delete(g.pending, provider)
	if !ok || expected != returned {
		return nil, authclient.ErrForgery
	}
	return &authclient.RedirectState{CSRFToken: expected, CodeVerifier: "verifier-for-" + expected}, nil
}

// scriptedExchanger lets tests control refresh results.
type scriptedExchanger struct {
	onRefresh func()
	refresh   func(*authclient.Session) (*authclient.ExchangeResult, error)
	exchange  func(provider string) (*authclient.ExchangeResult, error)
	requests  []authclient.ExchangeRequest
}

func (s *scriptedExchanger) Exchange(_ context.Context, req authclient.ExchangeRequest) (*authclient.ExchangeResult, error) {
	s.requests = append(s.requests, req)
	if s.exchange == nil {
		return nil, authclient.ErrExchangeRejected
	}
	return s.exchange(req.Provider)
}

func (s *scriptedExchanger) Refresh(_ context.Context, sess *authclient.Session) (*authclient.ExchangeResult, error) {
	if s.onRefresh != nil {
		s.onRefresh()
	}
	if s.refresh == nil {
		return nil, authclient.ErrSessionExpired
	}
	return s.refresh(sess)
}

type fixture struct {
	cfg       authclient.Config
	clock     *testClock
	durable   *authclient.MemoryStore
	ephemeral *authclient.MemoryStore
	codec     *authclient.TokenCodec
	store     *authclient.SessionStore
	guard     *stubGuard
	manager   *authclient.Manager
}

func newFixture(t *testing.T, mutate func(*authclient.Config), opts ...authclient.ManagerOption) *fixture {
	t.Helper()

	cfg := authclient.DefaultConfig()
	cfg.SigningKey = "test-signing-key"
	cfg.Storage.Durable = authclient.DurableMemory
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		cfg:       cfg,
		clock:     newTestClock(),
		durable:   authclient.NewMemoryStore(),
		ephemeral: authclient.NewMemoryStore(),
		guard:     newStubGuard(),
	}
	f.codec = authclient.NewTokenCodec([]byte(cfg.SigningKey), cfg.Issuer, cfg.ExpiryPolicy,
		authclient.WithCodecClock(f.clock.Now),
		authclient.WithCodecLogger(authclient.NoopLogger()),
	)
	f.store = authclient.NewSessionStore(f.durable, f.ephemeral, f.codec,
		authclient.WithSessionStoreLogger(authclient.NoopLogger()))

	all := append([]authclient.ManagerOption{
		authclient.WithRedirectGuard(f.guard),
		authclient.WithLogger(authclient.NoopLogger()),
	}, opts...)
	m, err := authclient.NewManager(cfg, f.store, all...)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) restart(t *testing.T, opts ...authclient.ManagerOption) *authclient.Manager {
	t.Helper()
	store := authclient.NewSessionStore(f.durable, authclient.NewMemoryStore(), f.codec,
		authclient.WithSessionStoreLogger(authclient.NoopLogger()))
	all := append([]authclient.ManagerOption{
		authclient.WithRedirectGuard(f.guard),
		authclient.WithLogger(authclient.NoopLogger()),
	}, opts...)
	m, err := authclient.NewManager(f.cfg, store, all...)
	require.NoError(t, err)
	return m
}
