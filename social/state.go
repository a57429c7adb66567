package social

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	authclient "github.com/goliatone/go-auth-client"
)

// StateKeyPrefix prefixes the per-provider pending state key.
const StateKeyPrefix = "auth.redirect."

const defaultStateTTL = 10 * time.Minute

// RedirectState is the one-time record kept between Begin and Consume.
type RedirectState = authclient.RedirectState

// Guard issues and validates anti-forgery state for redirect flows. Pending
// state lives in the ephemeral tier, one slot per provider: starting a new
// flow for a provider invalidates the previous one.
type Guard struct {
	store     authclient.KVStore
	providers *Registry
	ttl       time.Duration
	now       func() time.Time
	logger    authclient.Logger
}

var _ authclient.RedirectGuard = (*Guard)(nil)

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithStateTTL bounds how long a pending state is accepted.
func WithStateTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardClock injects the clock.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(logger authclient.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a guard storing pending state in store.
func NewGuard(store authclient.KVStore, providers *Registry, opts ...GuardOption) *Guard {
	g := &Guard{
		store:     store,
		providers: providers,
		ttl:       defaultStateTTL,
		now:       time.Now,
		logger:    authclient.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Begin implements authclient.RedirectGuard.
func (g *Guard) Begin(ctx context.Context, provider string) (*authclient.RedirectIntent, error) {
	p, err := g.providers.Provider(provider)
	if err != nil {
		return nil, err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}
	state := RedirectState{
		Nonce:        generateNonce(),
		CSRFToken:    generateNonce(),
		CodeVerifier: verifier,
		CreatedAt:    g.now().Unix(),
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode redirect state: %w", err)
	}
	if err := g.store.Set(ctx, stateKey(provider), string(raw)); err != nil {
		return nil, fmt.Errorf("store redirect state: %w", err)
	}

	url := p.AuthCodeURL(state.CSRFToken,
		WithNonce(state.Nonce),
		WithPKCE(computeCodeChallenge(verifier), "S256"),
	)

	g.logger.Debug("redirect flow started", "provider", provider)
	return &authclient.RedirectIntent{
		Provider: provider,
		URL:      url,
		State:    state.CSRFToken,
		Nonce:    state.Nonce,
	}, nil
}

// Consume implements authclient.RedirectGuard. It validates returnedState
// against the pending state for provider and returns it. The pending state
// is deleted before comparison, so a second attempt with any value fails. Missing, mismatched and stale states all
// return authclient.ErrForgery.
func (g *Guard) Consume(ctx context.Context, provider, returnedState string) (*RedirectState, error) {
	key := stateKey(provider)
	raw, ok, err := g.store.Get(ctx, key)
	if delErr := g.store.Delete(ctx, key); delErr != nil {
		g.logger.Error("failed to delete redirect state", "provider", provider, "error", delErr)
	}
	if err != nil {
		g.logger.Error("failed to read redirect state", "provider", provider, "error", err)
		return nil, authclient.ErrForgery
	}
	if !ok {
		return nil, authclient.ErrForgery
	}

	var state RedirectState
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.CSRFToken == "" {
		return nil, authclient.ErrForgery
	}
	if subtle.ConstantTimeCompare([]byte(state.CSRFToken), []byte(returnedState)) != 1 {
		return nil, authclient.ErrForgery
	}
	if g.now().Sub(time.Unix(state.CreatedAt, 0)) > g.ttl {
		return nil, authclient.ErrForgery
	}
	return &state, nil
}

func stateKey(provider string) string {
	return StateKeyPrefix + provider
}

func generateNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
