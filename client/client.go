// Package client composes the identity manager, the redirect guard and the
// secondary link into the surface dashboard code calls.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/link"
	"github.com/goliatone/go-auth-client/social"
	"github.com/goliatone/go-auth-client/social/providers/enterprise"
	"github.com/goliatone/go-auth-client/social/providers/github"
	"github.com/goliatone/go-auth-client/social/providers/google"
)

// State is the snapshot delivered to subscribers.
type State struct {
	User          *authclient.User
	Token         string
	Authenticated bool
	Status        authclient.SessionState
	LastError     error
	ErrorKind     authclient.ErrorKind
	// Degraded is true when the session came from the simulated fallback.
	Degraded bool
	Link     *link.Link
}

// Client is the public call contract.
type Client struct {
	cfg      authclient.Config
	manager  *authclient.Manager
	sessions *authclient.SessionStore
	links    *link.Manager
	guard    *social.Guard
	registry *social.Registry
	logger   authclient.Logger
	closer   io.Closer

	mu          sync.Mutex
	lastErr     error
	listeners   map[int]func(State)
	nextID      int
	unsubscribe func()
}

type options struct {
	durable    authclient.KVStore
	ephemeral  authclient.KVStore
	logger     authclient.Logger
	metrics    *authclient.Metrics
	httpClient *http.Client
	directory  authclient.CredentialDirectory
	exchanger  authclient.CodeExchanger
	prober     link.Prober
	now        func() time.Time
}

// Option configures New.
type Option func(*options)

// WithDurableStore overrides the durable tier picked from Config.Storage.
// The caller keeps ownership of it.
func WithDurableStore(kv authclient.KVStore) Option {
	return func(o *options) { o.durable = kv }
}

// WithEphemeralStore overrides the in-memory ephemeral tier.
func WithEphemeralStore(kv authclient.KVStore) Option {
	return func(o *options) { o.ephemeral = kv }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger authclient.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *authclient.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithCredentialDirectory sets the email/password directory.
func WithCredentialDirectory(d authclient.CredentialDirectory) Option {
	return func(o *options) { o.directory = d }
}

// WithCodeExchanger overrides the exchange strategy picked from Config.
func WithCodeExchanger(e authclient.CodeExchanger) Option {
	return func(o *options) { o.exchanger = e }
}

// WithProber overrides the secondary account lookup.
func WithProber(p link.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithClock injects the clock used for tokens, redirect state and links.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and wires every component.
func New(ctx context.Context, cfg authclient.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: authclient.DefaultLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	c := &Client{
		cfg:       cfg,
		logger:    o.logger,
		listeners: make(map[int]func(State)),
	}

	if o.durable == nil {
		kv, closer, err := OpenDurableStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		o.durable, c.closer = kv, closer
	}
	if o.ephemeral == nil {
		o.ephemeral = authclient.NewMemoryStore()
	}

	registry, linkProvider, err := buildRegistry(ctx, cfg, o)
	if err != nil {
		_ = c.close()
		return nil, err
	}
	c.registry = registry

	codec := authclient.NewTokenCodec([]byte(cfg.SigningKey), cfg.Issuer, cfg.ExpiryPolicy,
		authclient.WithCodecClock(o.now),
		authclient.WithCodecLogger(o.logger),
	)
	c.sessions = authclient.NewSessionStore(o.durable, o.ephemeral, codec,
		authclient.WithSessionStoreLogger(o.logger))

	c.guard = social.NewGuard(o.ephemeral, registry,
		social.WithStateTTL(cfg.RedirectStateTTL),
		social.WithGuardClock(o.now),
		social.WithGuardLogger(o.logger),
	)

	managerOpts := []authclient.ManagerOption{
		authclient.WithRedirectGuard(c.guard),
		authclient.WithLogger(o.logger),
		authclient.WithMetrics(o.metrics),
	}
	if o.directory != nil {
		managerOpts = append(managerOpts, authclient.WithCredentialDirectory(o.directory))
	}
	if o.exchanger != nil {
		managerOpts = append(managerOpts, authclient.WithCodeExchanger(o.exchanger))
	}
	c.manager, err = authclient.NewManager(cfg, c.sessions, managerOpts...)
	if err != nil {
		_ = c.close()
		return nil, err
	}

	var prober link.Prober = linkProvider
	if o.prober != nil {
		prober = o.prober
	}
	c.links = link.NewManager(cfg.Features, o.durable,
		link.WithProber(prober),
		link.WithOAuth(linkProvider, c.guard),
		link.WithSessionStore(c.sessions),
		link.WithClock(o.now),
		link.WithLogger(o.logger),
		link.WithMetrics(o.metrics),
	)

	c.unsubscribe = c.manager.OnStateChange(func(change authclient.StateChange) {
		c.publish(c.stateFor(context.Background(), change.To, change.Session))
	})
	return c, nil
}

func buildRegistry(ctx context.Context, cfg authclient.Config, o *options) (*social.Registry, *github.Provider, error) {
	registry := social.NewRegistry()

	if cfg.Mode == authclient.ModeEnterprise {
		ecfg := enterprise.Config{
			ClientID:    cfg.Enterprise.ClientID,
			CallbackURL: cfg.RedirectURI,
			Scopes:      cfg.Enterprise.Scopes,
			TenantID:    cfg.Enterprise.TenantID,
			HTTPClient:  o.httpClient,
		}
		// The simulated provider never calls the identity provider.
		if !cfg.Simulated {
			ecfg.IssuerURL = cfg.Enterprise.IssuerURL
		}
		p, err := enterprise.New(ctx, ecfg)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
	}

	for name, pc := range cfg.Social {
		switch name {
		case authclient.ProviderGoogle:
			registry.Register(google.New(google.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				CallbackURL:  cfg.RedirectURI,
				Scopes:       pc.Scopes,
				HTTPClient:   o.httpClient,
			}))
		case authclient.ProviderGitHub:
			registry.Register(github.New(github.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				CallbackURL:  cfg.RedirectURI,
				Scopes:       pc.Scopes,
				HTTPClient:   o.httpClient,
			}))
		default:
			o.logger.Warn("no client for social provider, skipping", "provider", name)
		}
	}

	linkProvider := github.New(github.Config{
		Name:         link.ProviderName,
		ClientID:     cfg.Secondary.ClientID,
		ClientSecret: cfg.Secondary.ClientSecret,
		CallbackURL:  cfg.Secondary.RedirectURI,
		Scopes:       cfg.Secondary.Scopes,
		APIURL:       cfg.Secondary.APIURL,
		HTTPClient:   o.httpClient,
	})
	registry.Register(linkProvider)

	return registry, linkProvider, nil
}

// Initialize restores a stored session and reconciles the link annotation.
func (c *Client) Initialize(ctx context.Context) State {
	if sess := c.manager.InitializeFromStorage(ctx); sess != nil {
		c.syncAnnotation(ctx)
	}
	state := c.Snapshot(ctx)
	c.publish(state)
	return state
}

// IsAuthenticated reports whether a valid session is stored.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.manager.IsAuthenticated(ctx)
}

// CurrentUser returns the signed-in user with the current link annotation,
// or nil.
func (c *Client) CurrentUser(ctx context.Context) (*authclient.User, error) {
	user, err := c.manager.CurrentUser(ctx)
	if err != nil || user == nil {
		return nil, err
	}
	return c.overlay(ctx, user), nil
}

// LoginWithCredential signs in with email and password.
func (c *Client) LoginWithCredential(ctx context.Context, identifier, secret string, remember bool) (*authclient.Session, error) {
	sess, err := c.manager.LoginWithCredential(ctx, identifier, secret, remember)
	if err == nil {
		c.syncAnnotation(ctx)
	}
	c.finish(ctx, err)
	return sess, err
}

// LoginWithRedirectProvider starts a redirect login. In simulated mode the
// returned result already carries the session.
func (c *Client) LoginWithRedirectProvider(ctx context.Context, provider string) (*authclient.LoginResult, error) {
	res, err := c.manager.LoginWithRedirectProvider(ctx, provider)
	if err == nil && res.Session != nil {
		c.syncAnnotation(ctx)
	}
	c.finish(ctx, err)
	return res, err
}

// HandleRedirectCallback completes a redirect login.
func (c *Client) HandleRedirectCallback(ctx context.Context, provider, code, state string) (*authclient.Session, error) {
	sess, err := c.manager.HandleRedirectCallback(ctx, provider, code, state)
	if err == nil {
		c.syncAnnotation(ctx)
	}
	c.finish(ctx, err)
	return sess, err
}

// RefreshToken re-issues the bearer token.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	token, err := c.manager.RefreshToken(ctx)
	c.finish(ctx, err)
	return token, err
}

// Logout clears the session. The secondary link is kept.
func (c *Client) Logout(ctx context.Context) error {
	err := c.manager.Logout(ctx)
	c.finish(ctx, err)
	return err
}

// BeginSecondaryOAuth starts the redirect variant of the account link.
func (c *Client) BeginSecondaryOAuth(ctx context.Context) (*authclient.RedirectIntent, error) {
	intent, err := c.links.BeginOAuth(ctx)
	if err != nil {
		c.finish(ctx, err)
	}
	return intent, err
}

// ConnectSecondaryAccount links the source-forge account.
func (c *Client) ConnectSecondaryAccount(ctx context.Context, credentialOrCode string, method link.Method, opts ...link.ConnectOption) (*link.Link, error) {
	l, err := c.links.Connect(ctx, credentialOrCode, method, opts...)
	c.finish(ctx, err)
	return l, err
}

// DisconnectSecondaryAccount removes the link.
func (c *Client) DisconnectSecondaryAccount(ctx context.Context) error {
	err := c.links.Disconnect(ctx)
	c.finish(ctx, err)
	return err
}

// SecondaryLink returns the stored link, or nil.
func (c *Client) SecondaryLink(ctx context.Context) (*link.Link, error) {
	return c.links.Link(ctx)
}

// ClearError resets the last error.
func (c *Client) ClearError() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.publish(c.Snapshot(context.Background()))
}

// LastError returns the error of the most recent failed call, if not cleared.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe registers fn for state snapshots and returns a function that
// removes it. fn runs synchronously and must not call back into Subscribe.
func (c *Client) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Snapshot reads the current state from storage.
func (c *Client) Snapshot(ctx context.Context) State {
	sess, err := c.manager.CurrentSession(ctx)
	if err != nil {
		c.logger.Error("failed to read session", "error", err)
	}
	return c.stateFor(ctx, c.manager.State(), sess)
}

// Config returns the validated configuration.
func (c *Client) Config() authclient.Config { return c.cfg }

// Manager exposes the primary identity manager.
func (c *Client) Manager() *authclient.Manager { return c.manager }

// Providers returns the registered redirect provider names.
func (c *Client) Providers() []string { return c.registry.Names() }

// Close detaches listeners and releases the durable tier if New opened it.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.close()
}

func (c *Client) close() error {
	if c.closer == nil {
		return nil
	}
	if err := c.closer.Close(); err != nil {
		return fmt.Errorf("close durable store: %w", err)
	}
	return nil
}

func (c *Client) stateFor(ctx context.Context, status authclient.SessionState, sess *authclient.Session) State {
	c.mu.Lock()
	lastErr := c.lastErr
	c.mu.Unlock()

	state := State{
		Status:    status,
		LastError: lastErr,
		ErrorKind: authclient.KindOf(lastErr),
	}
	if l, err := c.links.Link(ctx); err == nil {
		state.Link = l
	}
	// The store decides validity so fail_open sessions with an undecodable
	// token report the same answer as IsAuthenticated.
	if sess != nil && sess.User != nil && c.sessions.IsAuthenticated(ctx) {
		state.Authenticated = true
		state.Token = sess.Token
		state.Degraded = sess.Degraded
		state.User = sess.User.Clone()
		state.User.Annotate(state.Link.Annotation())
	}
	return state
}

func (c *Client) finish(ctx context.Context, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.publish(c.Snapshot(ctx))
}

func (c *Client) publish(state State) {
	c.mu.Lock()
	listeners := make([]func(State), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (c *Client) overlay(ctx context.Context, user *authclient.User) *authclient.User {
	l, err := c.links.Link(ctx)
	if err != nil {
		c.logger.Warn("failed to read secondary link", "error", err)
		return user
	}
	out := user.Clone()
	out.Annotate(l.Annotation())
	return out
}

// syncAnnotation copies the stored link onto the freshly stored user, so a
// re-login after logout still shows the connected account.
func (c *Client) syncAnnotation(ctx context.Context) {
	l, err := c.links.Link(ctx)
	if err != nil {
		c.logger.Warn("failed to read secondary link", "error", err)
		return
	}
	annotation := l.Annotation()
	if _, err := c.sessions.AnnotateUser(ctx, func(u *authclient.User) { u.Annotate(annotation) }); err != nil {
		c.logger.Warn("failed to annotate current user", "error", err)
	}
}
