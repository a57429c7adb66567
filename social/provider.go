package social

import (
	"context"
	"time"
)

// Provider is a redirect identity provider: it builds the authorization URL
// and trades the returned code for a token.
type Provider interface {
	// Name is the registry key, e.g. "google" or "github-link".
	Name() string

	// AuthCodeURL returns the URL the user is sent to. state is echoed back
	// on the callback and must be validated by the caller.
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)
}

// AuthCodeConfig is the resolved set of authorization URL options.
type AuthCodeConfig struct {
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Prompt              string
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*AuthCodeConfig)

// WithScopes adds scopes to the provider defaults.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Scopes = append(c.Scopes, scopes...)
	}
}

// WithPKCE sets the code challenge. An empty method means S256.
func WithPKCE(codeChallenge, method string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.CodeChallenge = codeChallenge
		c.CodeChallengeMethod = method
	}
}

// WithNonce sets the OIDC nonce parameter.
func WithNonce(nonce string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Nonce = nonce
	}
}

// WithPrompt sets the prompt parameter, e.g. "select_account".
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Prompt = prompt
	}
}

// ApplyAuthCodeOptions resolves opts on top of the provider's default scopes.
func ApplyAuthCodeOptions(scopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := AuthCodeConfig{Scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.CodeChallenge != "" && cfg.CodeChallengeMethod == "" {
		cfg.CodeChallengeMethod = "S256"
	}
	return cfg
}

// ExchangeConfig is the resolved set of code exchange options.
type ExchangeConfig struct {
	CodeVerifier string
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*ExchangeConfig)

// WithCodeVerifier sets the PKCE verifier sent with the code.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *ExchangeConfig) {
		c.CodeVerifier = verifier
	}
}

// ApplyExchangeOptions resolves opts.
func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	var cfg ExchangeConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Token is the result of a code exchange.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Scopes       []string
}

// Profile is the normalized account a provider reports for a token.
type Profile struct {
	ProviderUserID string
	Provider       string
	Email          string
	Name           string
	Username       string
	AvatarURL      string
	ProfileURL     string
}
