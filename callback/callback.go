// Package callback receives redirect callbacks on a loopback HTTP server.
package callback

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/gofiber/fiber/v2"
	authclient "github.com/goliatone/go-auth-client"
)

// Result is what the identity provider sent back.
type Result struct {
	Path             string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Err reports a provider-side failure carried on the callback.
func (r *Result) Err() error {
	if r == nil || r.Error == "" {
		return nil
	}
	if r.ErrorDescription != "" {
		return fmt.Errorf("%w: %s: %s", authclient.ErrExchangeRejected, r.Error, r.ErrorDescription)
	}
	return fmt.Errorf("%w: %s", authclient.ErrExchangeRejected, r.Error)
}

// Receiver serves the callback paths and hands the first callback to Wait.
type Receiver struct {
	app      *fiber.App
	addr     string
	paths    []string
	results  chan Result
	logger   authclient.Logger
	mu       sync.Mutex
	listener net.Listener
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithPath adds a callback path.
func WithPath(path string) Option {
	return func(r *Receiver) {
		if path != "" {
			r.paths = append(r.paths, path)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger authclient.Logger) Option {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a receiver listening on addr once started.
func New(addr string, opts ...Option) *Receiver {
	r := &Receiver{
		addr:    addr,
		results: make(chan Result, 1),
		logger:  authclient.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if len(r.paths) == 0 {
		r.paths = []string{"/callback"}
	}

	r.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "devdash-auth-callback",
		// Results outlive the handler.
		Immutable: true,
	})
	for _, p := range r.paths {
		r.app.Get(p, r.handle)
	}
	return r
}

// FromRedirectURI builds a receiver for the host and path of redirectURI.
// Only loopback hosts are accepted.
func FromRedirectURI(redirectURI string, opts ...Option) (*Receiver, error) {
	addr, path, err := SplitRedirectURI(redirectURI)
	if err != nil {
		return nil, err
	}
	return New(addr, append([]Option{WithPath(path)}, opts...)...), nil
}

// SplitRedirectURI returns the listen address and path of a loopback redirect URI.
func SplitRedirectURI(redirectURI string) (string, string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("%w: redirect uri: %v", authclient.ErrInvalidConfig, err)
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return "", "", fmt.Errorf("%w: redirect uri host %q is not loopback", authclient.ErrInvalidConfig, host)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return net.JoinHostPort(host, port), path, nil
}

// App exposes the fiber app, mainly for tests.
func (r *Receiver) App() *fiber.App {
	return r.app
}

// Start binds the listener and serves in the background. It returns the
// bound address, which differs from the configured one for port 0.
func (r *Receiver) Start() (string, error) {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return "", authclient.NetworkError(fmt.Errorf("listen on %s: %w", r.addr, err), "callback")
	}

	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	go func() {
		if err := r.app.Listener(ln); err != nil {
			r.logger.Error("callback server stopped", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Wait blocks until a callback arrives or ctx is done.
func (r *Receiver) Wait(ctx context.Context) (*Result, error) {
	select {
	case res := <-r.results:
		return &res, res.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the server.
func (r *Receiver) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	started := r.listener != nil
	r.mu.Unlock()
	if !started {
		return nil
	}
	return r.app.ShutdownWithContext(ctx)
}

func (r *Receiver) handle(c *fiber.Ctx) error {
	res := Result{
		Path:             c.Path(),
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	}
	if res.Error == "" && res.Code == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Missing authorization code.")
	}

	select {
	case r.results <- res:
	default:
		r.logger.Warn("duplicate redirect callback ignored", "path", res.Path)
		return c.Status(fiber.StatusConflict).SendString("A callback was already received. You can close this window.")
	}

	if res.Error != "" {
		r.logger.Info("identity provider returned an error", "path", res.Path, "error", res.Error)
		return c.Status(fiber.StatusBadRequest).SendString("Sign-in was not completed. You can close this window.")
	}
	return c.SendString("Sign-in received. You can close this window and return to the terminal.")
}
