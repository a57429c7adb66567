package authclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging surface used across the module. Args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// KVStore is a string key/value backend for one storage tier.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// ConditionalWriter is implemented by KVStore backends shared between
// processes. WriteIf applies values in one atomic step only while key still
// holds expected, and reports whether it wrote.
type ConditionalWriter interface {
	WriteIf(ctx context.Context, key, expected string, values map[string]string) (bool, error)
}

// StorageTier identifies where a session lives.
type StorageTier string

const (
	// TierDurable survives process restarts.
	TierDurable StorageTier = "durable"
	// TierEphemeral is scoped to the running process.
	TierEphemeral StorageTier = "ephemeral"
)

// MethodKind is the login variant that produced a session.
type MethodKind string

const (
	MethodEmailPassword      MethodKind = "email"
	MethodSocialOAuth        MethodKind = "social"
	MethodEnterpriseRedirect MethodKind = "enterprise"
)

// Method describes how a session was created. Provider is set for social logins.
type Method struct {
	Kind     MethodKind
	Provider string
}

// EmailPasswordMethod returns the credential login method.
func EmailPasswordMethod() Method {
	return Method{Kind: MethodEmailPassword}
}

// SocialMethod returns the social OAuth method for provider.
func SocialMethod(provider string) Method {
	return Method{Kind: MethodSocialOAuth, Provider: provider}
}

// EnterpriseMethod returns the enterprise redirect method.
func EnterpriseMethod() Method {
	return Method{Kind: MethodEnterpriseRedirect}
}

// IsRedirect reports whether the method leaves the application to authenticate.
func (m Method) IsRedirect() bool {
	return m.Kind == MethodSocialOAuth || m.Kind == MethodEnterpriseRedirect
}

// String returns the persisted method tag, e.g. "email", "social:github", "enterprise".
func (m Method) String() string {
	if m.Kind == MethodSocialOAuth && m.Provider != "" {
		return string(m.Kind) + ":" + m.Provider
	}
	return string(m.Kind)
}

// ParseMethod parses a tag produced by Method.String.
func ParseMethod(tag string) (Method, error) {
	kind, provider, _ := strings.Cut(strings.TrimSpace(tag), ":")
	switch MethodKind(kind) {
	case MethodEmailPassword:
		return EmailPasswordMethod(), nil
	case MethodEnterpriseRedirect:
		return EnterpriseMethod(), nil
	case MethodSocialOAuth:
		if provider == "" {
			return Method{}, fmt.Errorf("social method without provider: %q", tag)
		}
		return SocialMethod(provider), nil
	}
	return Method{}, fmt.Errorf("unknown login method: %q", tag)
}

// User is the identity attached to a session. The Secondary* fields are
// annotations owned by the link manager.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
	Provider    string `json:"provider,omitempty"`

	SecondaryConnected bool   `json:"secondaryConnected,omitempty"`
	SecondaryUsername  string `json:"secondaryUsername,omitempty"`
	SecondaryAvatarURL string `json:"secondaryAvatarUrl,omitempty"`
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// SecondaryAnnotation is the subset of User the link manager may write.
type SecondaryAnnotation struct {
	Username  string
	AvatarURL string
}

// Annotate sets the secondary fields. A nil annotation strips them.
func (u *User) Annotate(a *SecondaryAnnotation) {
	if u == nil {
		return
	}
	if a == nil {
		u.SecondaryConnected = false
		u.SecondaryUsername = ""
		u.SecondaryAvatarURL = ""
		return
	}
	u.SecondaryConnected = true
	u.SecondaryUsername = a.Username
	u.SecondaryAvatarURL = a.AvatarURL
}

// Session is the active authenticated identity.
type Session struct {
	Token  string
	User   *User
	Method Method
	// ExpiresAt is zero when the token carries no readable expiry, which
	// only happens under FailOpen.
	ExpiresAt   time.Time
	StorageTier StorageTier
	// Degraded is true when the identity came from the simulated provider
	// because the backend could not be reached.
	Degraded bool
}

// CredentialDirectory resolves credential records for email/password login.
// Implementations must return ErrInvalidCredential for both unknown
// identifiers and wrong secrets.
type CredentialDirectory interface {
	VerifyCredential(ctx context.Context, identifier, secret string) (*User, error)
}

// ExchangeResult is what a code exchange or refresh returns.
type ExchangeResult struct {
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user"`
	// Degraded marks results produced by the simulated fallback.
	Degraded bool `json:"-"`
}

// ExchangeRequest carries a redirect callback to a CodeExchanger.
// CodeVerifier is the PKCE verifier paired with the challenge sent on the
// authorization URL; providers enforcing PKCE reject the code without it.
type ExchangeRequest struct {
	Provider     string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// CodeExchanger trades redirect codes and refreshes bearer tokens.
type CodeExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error)
	Refresh(ctx context.Context, session *Session) (*ExchangeResult, error)
}

// RedirectGuard issues and validates one-time anti-forgery state for redirect logins.
type RedirectGuard interface {
	Begin(ctx context.Context, provider string) (*RedirectIntent, error)
	// Consume validates returnedState and returns the pending state it
	// matched. The pending state is gone afterwards, whatever the outcome.
	Consume(ctx context.Context, provider, returnedState string) (*RedirectState, error)
}

// RedirectState is the one-time record kept between Begin and Consume.
type RedirectState struct {
	Nonce        string `json:"nonce"`
	CSRFToken    string `json:"csrfToken"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// RedirectIntent is the outcome of starting a redirect flow.
type RedirectIntent struct {
	Provider string
	URL      string
	State    string
	Nonce    string
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) { logLine("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { logLine("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { logLine("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { logLine("ERR", msg, args...) }

func logLine(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH " + msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	fmt.Println(b.String())
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards everything. Handy in tests.
func NoopLogger() Logger { return noopLogger{} }

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger { return defLogger{} }
