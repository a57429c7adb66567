package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/social"
)

// Durable keys owned by the link. They are never touched by logout.
const (
	KeyToken     = "secondary.link.token"
	KeyConnected = "secondary.link.connected"
	KeyMethod    = "secondary.link.method"
	KeyProfile   = "secondary.link.profile"
)

// ProviderName is the guard and registry name of the link OAuth flow.
const ProviderName = "github-link"

var linkKeys = []string{KeyConnected, KeyToken, KeyMethod, KeyProfile}

// Method is how the secondary account was connected.
type Method string

const (
	MethodToken Method = "token"
	MethodOAuth Method = "oauth"
)

// Link describes the connected secondary account.
type Link struct {
	Method      Method    `json:"method"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	ProfileURL  string    `json:"profileUrl,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Annotation returns the user annotation for the link.
func (l *Link) Annotation() *authclient.SecondaryAnnotation {
	if l == nil {
		return nil
	}
	return &authclient.SecondaryAnnotation{Username: l.Username, AvatarURL: l.AvatarURL}
}

// Prober resolves the account behind a secondary credential.
type Prober interface {
	Probe(ctx context.Context, accessToken string) (*social.Profile, error)
}

// Manager owns the secondary account link. Its lifecycle is independent of
// the primary session.
type Manager struct {
	mu       sync.Mutex
	features authclient.Features
	durable  authclient.KVStore
	sessions *authclient.SessionStore
	prober   Prober
	provider social.Provider
	guard    *social.Guard
	now      func() time.Time
	logger   authclient.Logger
	metrics  *authclient.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithProber sets the identity lookup used to validate credentials.
func WithProber(p Prober) Option {
	return func(m *Manager) {
		m.prober = p
	}
}

// WithOAuth enables the redirect variant through provider and guard.
func WithOAuth(provider social.Provider, guard *social.Guard) Option {
	return func(m *Manager) {
		m.provider = provider
		m.guard = guard
	}
}

// WithSessionStore lets the manager annotate the current user.
func WithSessionStore(s *authclient.SessionStore) Option {
	return func(m *Manager) {
		m.sessions = s
	}
}

// WithClock injects the clock used for ConnectedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger authclient.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *authclient.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a link manager over the durable tier.
func NewManager(features authclient.Features, durable authclient.KVStore, opts ...Option) *Manager {
	m := &Manager{
		features: features,
		durable:  durable,
		now:      time.Now,
		logger:   authclient.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// ConnectOption configures a Connect call.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	state string
}

// WithState passes the state returned on the OAuth callback.
func WithState(state string) ConnectOption {
	return func(c *connectConfig) {
		c.state = state
	}
}

// BeginOAuth starts the redirect variant and returns where to send the user.
func (m *Manager) BeginOAuth(ctx context.Context) (*authclient.RedirectIntent, error) {
	if err := m.enabled(MethodOAuth); err != nil {
		return nil, err
	}
	return m.guard.Begin(ctx, ProviderName)
}

// Connect validates credentialOrCode and persists the link. For MethodToken
// it is a personal access token; for MethodOAuth it is the callback code and
// WithState must carry the callback state. A failed connect leaves any
// existing link and the primary session untouched.
func (m *Manager) Connect(ctx context.Context, credentialOrCode string, method Method, opts ...ConnectOption) (*Link, error) {
	link, err := m.connect(ctx, credentialOrCode, method, opts...)
	m.metrics.LinkOperation("connect", err)
	return link, err
}

func (m *Manager) connect(ctx context.Context, credentialOrCode string, method Method, opts ...ConnectOption) (*Link, error) {
	if err := m.enabled(method); err != nil {
		return nil, err
	}
	if m.prober == nil {
		return nil, fmt.Errorf("%w: no account prober configured", authclient.ErrFeatureDisabled)
	}

	cfg := connectConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	token := strings.TrimSpace(credentialOrCode)
	if method == MethodOAuth {
		var err error
		if token, err = m.exchange(ctx, token, cfg.state); err != nil {
			return nil, err
		}
	}

	profile, err := m.prober.Probe(ctx, token)
	if err != nil {
		args := []any{"method", method, "error", err}
		var perr *social.ProviderError
		if errors.As(err, &perr) {
			args = append(args, perr.LogArgs()...)
		}
		m.logger.Info("secondary account probe failed", args...)
		return nil, err
	}

	link := &Link{
		Method:      method,
		Username:    profile.Username,
		AvatarURL:   profile.AvatarURL,
		ProfileURL:  profile.ProfileURL,
		ConnectedAt: m.now().UTC().Truncate(time.Second),
	}
	if err := m.write(ctx, token, link); err != nil {
		return nil, err
	}

	m.annotate(ctx, link.Annotation())
	m.logger.Info("secondary account connected", "method", method, "username", link.Username)
	return link, nil
}

// Disconnect removes the link and strips the user annotation. Disconnecting
// when nothing is linked succeeds.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	err := m.durable.Delete(ctx, linkKeys...)
	m.mu.Unlock()

	m.metrics.LinkOperation("disconnect", err)
	if err != nil {
		return fmt.Errorf("clear secondary link: %w", err)
	}

	m.annotate(ctx, nil)
	m.logger.Info("secondary account disconnected")
	return nil
}

// IsConnected reports whether a link is stored.
func (m *Manager) IsConnected(ctx context.Context) bool {
	v, ok, err := m.durable.Get(ctx, KeyConnected)
	if err != nil {
		m.logger.Error("failed to read secondary link", "error", err)
		return false
	}
	return ok && v == "true"
}

// Link returns the stored link, or nil when none exists.
func (m *Manager) Link(ctx context.Context) (*Link, error) {
	if !m.IsConnected(ctx) {
		return nil, nil
	}
	raw, ok, err := m.durable.Get(ctx, KeyProfile)
	if err != nil {
		return nil, fmt.Errorf("read secondary link: %w", err)
	}
	if !ok {
		return nil, nil
	}
	link := &Link{}
	if err := json.Unmarshal([]byte(raw), link); err != nil {
		return nil, fmt.Errorf("decode secondary link: %w", err)
	}
	return link, nil
}

// Token returns the stored secondary credential, or "" when none exists.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if !m.IsConnected(ctx) {
		return "", nil
	}
	token, _, err := m.durable.Get(ctx, KeyToken)
	return token, err
}

func (m *Manager) enabled(method Method) error {
	if !m.features.SecondaryLink {
		return fmt.Errorf("%w: secondary account link", authclient.ErrFeatureDisabled)
	}
	switch method {
	case MethodToken:
		return nil
	case MethodOAuth:
		if !m.features.SecondaryOAuth {
			return fmt.Errorf("%w: secondary account oauth", authclient.ErrFeatureDisabled)
		}
		if m.provider == nil || m.guard == nil {
			return fmt.Errorf("%w: secondary account oauth is not configured", authclient.ErrFeatureDisabled)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown link method %q", authclient.ErrInvalidInput, method)
	}
}

func (m *Manager) exchange(ctx context.Context, code, state string) (string, error) {
	pending, err := m.guard.Consume(ctx, ProviderName, state)
	if err != nil {
		m.logger.Warn("secondary account callback rejected", "error", err)
		return "", err
	}
	if code == "" {
		return "", fmt.Errorf("%w: missing authorization code", authclient.ErrInvalidInput)
	}
	tok, err := m.provider.Exchange(ctx, code, social.WithCodeVerifier(pending.CodeVerifier))
	if err != nil {
		return "", social.ClassifyProviderError(err, authclient.ErrExchangeRejected)
	}
	return tok.AccessToken, nil
}

func (m *Manager) write(ctx context.Context, token string, link *Link) error {
	raw, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("encode secondary link: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	values := []struct{ key, value string }{
		{KeyToken, token},
		{KeyMethod, string(link.Method)},
		{KeyProfile, string(raw)},
		{KeyConnected, "true"},
	}
	for _, v := range values {
		if err := m.durable.Set(ctx, v.key, v.value); err != nil {
			return fmt.Errorf("write %s: %w", v.key, err)
		}
	}
	return nil
}

func (m *Manager) annotate(ctx context.Context, a *authclient.SecondaryAnnotation) {
	if m.sessions == nil {
		return
	}
	if _, err := m.sessions.AnnotateUser(ctx, func(u *authclient.User) { u.Annotate(a) }); err != nil {
		m.logger.Warn("failed to annotate current user", "error", err)
	}
}
