package authclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const initTimeout = 5 * time.Second

// Manager is the primary identity manager. It owns the session lifecycle for
// the configured login scheme and never touches secondary link state.
type Manager struct {
	cfg       Config
	store     *SessionStore
	codec     *TokenCodec
	directory CredentialDirectory
	guard     RedirectGuard
	exchanger CodeExchanger
	logger    Logger
	metrics   *Metrics
	sm        *sessionStateMachine
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCredentialDirectory sets the directory used by LoginWithCredential.
func WithCredentialDirectory(d CredentialDirectory) ManagerOption {
	return func(m *Manager) {
		m.directory = d
	}
}

// WithRedirectGuard sets the anti-forgery guard used by redirect logins.
func WithRedirectGuard(g RedirectGuard) ManagerOption {
	return func(m *Manager) {
		m.guard = g
	}
}

// WithCodeExchanger overrides the exchange strategy picked from Config.
func WithCodeExchanger(e CodeExchanger) ManagerOption {
	return func(m *Manager) {
		m.exchanger = e
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager builds a manager over store. The exchange strategy follows
// cfg.Simulated and cfg.FallbackToSimulated unless overridden.
func NewManager(cfg Config, store *SessionStore, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrInvalidConfig)
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		codec:  store.Codec(),
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.sm = newSessionStateMachine(m.codec.Now)

	if m.exchanger == nil {
		m.exchanger = ExchangerFromConfig(cfg, m.codec, m.logger)
	}

	if m.directory == nil && cfg.Simulated {
		dir, err := NewDemoDirectory()
		if err != nil {
			return nil, err
		}
		m.directory = dir
	}

	return m, nil
}

// ExchangerFromConfig picks the exchange strategy described by cfg.
func ExchangerFromConfig(cfg Config, codec *TokenCodec, logger Logger) CodeExchanger {
	simulated := NewSimulatedExchanger(codec, cfg.SessionTimeout, cfg.Enterprise.TenantID)
	if cfg.Simulated {
		return simulated
	}
	backend := NewBackendExchanger(cfg.BackendURL, WithBackendLogger(logger))
	if cfg.FallbackToSimulated {
		return NewFallbackExchanger(backend, simulated, logger)
	}
	return backend
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// Store returns the session store.
func (m *Manager) Store() *SessionStore { return m.store }

// State returns the current lifecycle state.
func (m *Manager) State() SessionState { return m.sm.current() }

// OnStateChange registers l and returns a function that removes it.
func (m *Manager) OnStateChange(l StateListener) func() {
	return m.sm.subscribe(l)
}

// InitializeFromStorage restores a stored session on startup. Failures leave
// the manager Unauthenticated; they are logged, not returned.
func (m *Manager) InitializeFromStorage(ctx context.Context) *Session {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if !m.store.IsAuthenticated(ctx) {
		m.transition(StateUnauthenticated, nil, nil)
		return nil
	}

	sess, err := m.store.Read(ctx)
	if err != nil || sess == nil {
		m.logger.Error("failed to restore stored session", "error", err)
		m.transition(StateUnauthenticated, nil, err)
		return nil
	}

	m.logger.Info("restored session", "method", sess.Method.String(), "tier", sess.StorageTier)
	m.transition(StateAuthenticated, sess, nil)
	return sess
}

// IsAuthenticated reports whether a non-expired session is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.store.IsAuthenticated(ctx)
}

// CurrentSession returns the stored session when it is still valid.
func (m *Manager) CurrentSession(ctx context.Context) (*Session, error) {
	if !m.store.IsAuthenticated(ctx) {
		return nil, nil
	}
	return m.store.Read(ctx)
}

// CurrentUser returns the user of the valid session, or nil.
func (m *Manager) CurrentUser(ctx context.Context) (*User, error) {
	sess, err := m.CurrentSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	return sess.User, nil
}

type credentialInput struct {
	Identifier string
	Secret     string
}

func (c credentialInput) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Identifier, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&c.Secret, validation.Required, validation.Length(1, 256)),
	)
}

// LoginWithCredential authenticates identifier/secret against the credential
// directory. remember picks the durable tier.
func (m *Manager) LoginWithCredential(ctx context.Context, identifier, secret string, remember bool) (*Session, error) {
	method := EmailPasswordMethod()

	if err := m.cfg.CredentialLoginEnabled(); err != nil {
		return nil, err
	}

	input := credentialInput{Identifier: strings.TrimSpace(identifier), Secret: secret}
	if err := input.Validate(); err != nil {
		m.metrics.login(method, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if m.directory == nil {
		return nil, fmt.Errorf("%w: no credential directory configured", ErrFeatureDisabled)
	}

	m.transition(StateAuthenticating, nil, nil)

	user, err := m.directory.VerifyCredential(ctx, input.Identifier, input.Secret)
	if err != nil {
		m.metrics.login(method, err)
		if errors.Is(err, ErrInvalidCredential) {
			m.logger.Info("credential login rejected")
			err = ErrInvalidCredential
		} else {
			m.logger.Error("credential lookup failed", "error", err)
		}
		m.settle(ctx, err)
		return nil, err
	}

	token, exp, err := m.codec.Issue(user, m.cfg.SessionTimeout)
	if err != nil {
		m.metrics.login(method, err)
		m.settle(ctx, err)
		return nil, err
	}

	tier := TierEphemeral
	if remember {
		tier = TierDurable
	}
	sess := &Session{
		Token:       token,
		User:        user,
		Method:      method,
		ExpiresAt:   exp,
		StorageTier: tier,
	}
	if err := m.store.Write(ctx, sess); err != nil {
		m.metrics.login(method, err)
		m.settle(ctx, err)
		return nil, err
	}

	m.metrics.login(method, nil)
	m.logger.Info("credential login succeeded", "user", user.ID, "tier", tier)
	m.transition(StateAuthenticated, sess, nil)
	return sess, nil
}

// LoginResult is returned by LoginWithRedirectProvider. Exactly one of
// Session (simulated provider) or Redirect.URL (real provider) is meaningful.
type LoginResult struct {
	Session  *Session
	Redirect *RedirectIntent
}

// LoginWithRedirectProvider starts a redirect login. With the simulated
// provider the flow completes immediately through the same guard.
func (m *Manager) LoginWithRedirectProvider(ctx context.Context, provider string) (*LoginResult, error) {
	if err := m.cfg.ProviderEnabled(provider); err != nil {
		return nil, err
	}
	if m.guard == nil {
		return nil, fmt.Errorf("%w: no redirect guard configured", ErrFeatureDisabled)
	}

	intent, err := m.guard.Begin(ctx, provider)
	if err != nil {
		return nil, err
	}

	if !m.cfg.Simulated {
		m.transition(StateAuthenticating, nil, nil)
		return &LoginResult{Redirect: intent}, nil
	}

	sess, err := m.HandleRedirectCallback(ctx, provider, "simulated-"+intent.Nonce, intent.State)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: sess, Redirect: intent}, nil
}

// HandleRedirectCallback validates state, exchanges code and stores the
// resulting session in the durable tier. Security errors are returned unchanged.
func (m *Manager) HandleRedirectCallback(ctx context.Context, provider, code, state string) (*Session, error) {
	method := m.cfg.MethodFor(provider)

	if err := m.cfg.ProviderEnabled(provider); err != nil {
		return nil, err
	}
	if m.guard == nil {
		return nil, fmt.Errorf("%w: no redirect guard configured", ErrFeatureDisabled)
	}

	pending, err := m.guard.Consume(ctx, provider, state)
	if err != nil {
		m.logger.Warn("redirect callback rejected", "provider", provider, "error", err)
		m.metrics.rejected(provider)
		m.metrics.login(method, err)
		m.settle(ctx, err)
		return nil, err
	}

	m.transition(StateAuthenticating, nil, nil)

	req := ExchangeRequest{Provider: provider, Code: code, RedirectURI: m.cfg.RedirectURI}
	if pending != nil {
		req.CodeVerifier = pending.CodeVerifier
	}
	res, err := m.exchanger.Exchange(ctx, req)
	if err != nil {
		m.logger.Error("code exchange failed", "provider", provider, "error", err)
		m.metrics.login(method, err)
		m.settle(ctx, err)
		return nil, err
	}

	sess, err := m.sessionFromExchange(res, provider, method)
	if err != nil {
		m.metrics.login(method, err)
		m.settle(ctx, err)
		return nil, err
	}

	if err := m.store.Write(ctx, sess); err != nil {
		m.metrics.login(method, err)
		m.settle(ctx, err)
		return nil, err
	}

	m.metrics.login(method, nil)
	m.logger.Info("redirect login succeeded", "provider", provider, "user", sess.User.ID, "degraded", sess.Degraded)
	m.transition(StateAuthenticated, sess, nil)
	return sess, nil
}

// RefreshToken re-issues the bearer token for the current session, keeping
// its user, method and tier. A failed refresh clears the session.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	sess, err := m.store.Read(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		m.metrics.refresh(ErrSessionExpired)
		return "", ErrSessionExpired
	}

	m.transition(StateRefreshing, sess, nil)

	res, err := m.exchanger.Refresh(ctx, sess)
	if err != nil {
		m.logger.Warn("token refresh failed, clearing session", "error", err)
		m.metrics.refresh(err)
		if _, clearErr := m.store.ClearIf(ctx, sess.Token); clearErr != nil {
			m.logger.Error("failed to clear session after refresh failure", "error", clearErr)
		}
		m.settle(ctx, ErrSessionExpired)
		return "", ErrSessionExpired
	}

	refreshed := &Session{
		Token:       res.AccessToken,
		User:        sess.User,
		Method:      sess.Method,
		StorageTier: sess.StorageTier,
		Degraded:    sess.Degraded || res.Degraded,
	}
	exp, err := m.codec.DecodeExpiry(res.AccessToken)
	if err != nil {
		if m.codec.Policy() != FailOpen {
			m.metrics.refresh(err)
			_, _ = m.store.ClearIf(ctx, sess.Token)
			m.settle(ctx, ErrSessionExpired)
			return "", ErrSessionExpired
		}
		exp = m.codec.Now().Add(m.cfg.SessionTimeout)
	}
	refreshed.ExpiresAt = exp

	// The session may have been cleared or replaced while the refresh was in
	// flight; Replace only writes over the token we started from.
	if err := m.store.Replace(ctx, sess.Token, refreshed); err != nil {
		m.logger.Info("session changed during refresh, discarding result", "error", err)
		m.metrics.refresh(err)
		m.settle(ctx, err)
		return "", ErrSessionExpired
	}

	m.metrics.refresh(nil)
	m.transition(StateAuthenticated, refreshed, nil)
	return refreshed.Token, nil
}

// Logout clears the session from both tiers. Secondary link state is kept.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("logout failed to clear session", "error", err)
		return err
	}
	m.logger.Info("logged out")
	m.transition(StateUnauthenticated, nil, nil)
	return nil
}

func (m *Manager) sessionFromExchange(res *ExchangeResult, provider string, method Method) (*Session, error) {
	if res == nil || res.User == nil || res.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty exchange result", ErrExchangeRejected)
	}

	user := res.User.Clone()
	if user.Provider == "" {
		user.Provider = provider
	}
	if method.Kind == MethodEnterpriseRedirect && user.TenantID == "" {
		user.TenantID = m.cfg.Enterprise.TenantID
	}

	exp, err := m.codec.DecodeExpiry(res.AccessToken)
	if err != nil {
		if m.codec.Policy() != FailOpen {
			return nil, fmt.Errorf("%w: undecodable access token", ErrExchangeRejected)
		}
		exp = m.codec.Now().Add(m.cfg.SessionTimeout)
	}

	return &Session{
		Token:       res.AccessToken,
		User:        user,
		Method:      method,
		ExpiresAt:   exp,
		StorageTier: TierDurable,
		Degraded:    res.Degraded,
	}, nil
}

// settle moves to the state implied by what is stored after a failed operation.
func (m *Manager) settle(ctx context.Context, cause error) {
	if m.store.IsAuthenticated(ctx) {
		sess, err := m.store.Read(ctx)
		if err == nil && sess != nil {
			m.transition(StateAuthenticated, sess, cause)
			return
		}
	}
	m.transition(StateUnauthenticated, nil, cause)
}

func (m *Manager) transition(target SessionState, sess *Session, cause error) {
	if err := m.sm.transition(target, sess, cause); err != nil {
		m.logger.Debug("ignored state transition", "error", err)
	}
}
