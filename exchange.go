package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SimulatedExchanger stands in for a real identity provider. Users are
// derived deterministically from the provider name.
type SimulatedExchanger struct {
	codec    *TokenCodec
	ttl      time.Duration
	tenantID string
}

var _ CodeExchanger = (*SimulatedExchanger)(nil)

// NewSimulatedExchanger issues tokens with codec for ttl.
func NewSimulatedExchanger(codec *TokenCodec, ttl time.Duration, tenantID string) *SimulatedExchanger {
	return &SimulatedExchanger{codec: codec, ttl: ttl, tenantID: tenantID}
}

// SimulatedUser returns the identity the simulated provider produces for provider.
func SimulatedUser(provider, tenantID string) *User {
	title := provider
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}
	u := &User{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("devdash:simulated:"+provider)).String(),
		Email:       fmt.Sprintf("demo.%s@devdash.com", provider),
		DisplayName: fmt.Sprintf("Demo %s User", title),
		Role:        string(RoleDeveloper),
		Provider:    provider,
	}
	if provider == ProviderEnterprise {
		u.TenantID = tenantID
		if u.TenantID == "" {
			u.TenantID = "simulated-tenant"
		}
	}
	return u
}

// Exchange implements CodeExchanger. The code is not inspected.
func (s *SimulatedExchanger) Exchange(_ context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	user := SimulatedUser(req.Provider, s.tenantID)
	token, _, err := s.codec.Issue(user, s.ttl)
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{AccessToken: token, User: user}, nil
}

// Refresh implements CodeExchanger by re-issuing for the same user.
func (s *SimulatedExchanger) Refresh(_ context.Context, session *Session) (*ExchangeResult, error) {
	if session == nil || session.User == nil {
		return nil, ErrSessionExpired
	}
	token, _, err := s.codec.Issue(session.User, s.ttl)
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{AccessToken: token, User: session.User.Clone()}, nil
}

// BackendExchanger talks to the backend's code-exchange and refresh endpoints.
type BackendExchanger struct {
	baseURL    string
	httpClient *http.Client
	logger     Logger
}

var _ CodeExchanger = (*BackendExchanger)(nil)

// BackendOption customizes a BackendExchanger.
type BackendOption func(*BackendExchanger)

// WithBackendHTTPClient overrides the HTTP client.
func WithBackendHTTPClient(client *http.Client) BackendOption {
	return func(b *BackendExchanger) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// WithBackendLogger sets the logger.
func WithBackendLogger(logger Logger) BackendOption {
	return func(b *BackendExchanger) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackendExchanger creates an exchanger for baseURL.
func NewBackendExchanger(baseURL string, opts ...BackendOption) *BackendExchanger {
	b := &BackendExchanger{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

type exchangeRequest struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirectUri"`
	Provider     string `json:"provider,omitempty"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
}

// Exchange implements CodeExchanger. The backend performs the provider token
// request, so the PKCE verifier travels with the code.
func (b *BackendExchanger) Exchange(ctx context.Context, in ExchangeRequest) (*ExchangeResult, error) {
	body, err := json.Marshal(exchangeRequest{
		Code:         in.Code,
		RedirectURI:  in.RedirectURI,
		Provider:     in.Provider,
		CodeVerifier: in.CodeVerifier,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/auth/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, "exchange")
}

// Refresh implements CodeExchanger.
func (b *BackendExchanger) Refresh(ctx context.Context, session *Session) (*ExchangeResult, error) {
	if session == nil || session.Token == "" {
		return nil, ErrSessionExpired
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/auth/refresh", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)
	return b.do(req, "refresh")
}

func (b *BackendExchanger) do(req *http.Request, operation string) (*ExchangeResult, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Warn("backend request failed", "operation", operation, "error", err)
		return nil, NetworkError(err, operation)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(err, operation)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, NetworkError(fmt.Errorf("backend returned %d", resp.StatusCode), operation)
	case resp.StatusCode != http.StatusOK:
		b.logger.Info("backend rejected request", "operation", operation, "status", resp.StatusCode)
		if operation == "refresh" {
			return nil, ErrSessionExpired
		}
		return nil, ErrExchangeRejected
	}

	var result ExchangeResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed backend response", ErrExchangeRejected)
	}
	if result.AccessToken == "" || result.User == nil {
		return nil, fmt.Errorf("%w: backend response missing token or user", ErrExchangeRejected)
	}
	return &result, nil
}

// FallbackExchanger uses primary and, on network failure only, fallback.
// Results from fallback are marked Degraded.
type FallbackExchanger struct {
	primary  CodeExchanger
	fallback CodeExchanger
	logger   Logger
}

var _ CodeExchanger = (*FallbackExchanger)(nil)

// NewFallbackExchanger wraps primary with fallback.
func NewFallbackExchanger(primary, fallback CodeExchanger, logger Logger) *FallbackExchanger {
	if logger == nil {
		logger = defLogger{}
	}
	return &FallbackExchanger{primary: primary, fallback: fallback, logger: logger}
}

// Exchange implements CodeExchanger.
func (f *FallbackExchanger) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	res, err := f.primary.Exchange(ctx, req)
	if err == nil || !IsNetworkError(err) {
		return res, err
	}
	f.logger.Warn("backend unreachable, using simulated identity", "operation", "exchange", "provider", req.Provider)
	return markDegraded(f.fallback.Exchange(ctx, req))
}

// Refresh implements CodeExchanger.
func (f *FallbackExchanger) Refresh(ctx context.Context, session *Session) (*ExchangeResult, error) {
	res, err := f.primary.Refresh(ctx, session)
	if err == nil || !IsNetworkError(err) {
		return res, err
	}
	f.logger.Warn("backend unreachable, using simulated identity", "operation", "refresh")
	return markDegraded(f.fallback.Refresh(ctx, session))
}

func markDegraded(res *ExchangeResult, err error) (*ExchangeResult, error) {
	if res != nil {
		res.Degraded = true
	}
	return res, err
}
