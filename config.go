package authclient

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

// LoginMode picks which primary scheme is active.
type LoginMode string

const (
	// ModeEnterprise uses the enterprise redirect identity provider.
	ModeEnterprise LoginMode = "enterprise"
	// ModeAlternate uses email/password plus social OAuth providers.
	ModeAlternate LoginMode = "alternate"
)

// ExpiryPolicy decides how an undecodable token is treated.
type ExpiryPolicy string

const (
	// FailClosed treats undecodable tokens as expired.
	FailClosed ExpiryPolicy = "fail_closed"
	// FailOpen treats undecodable tokens as valid.
	FailOpen ExpiryPolicy = "fail_open"
)

// Provider names understood by the redirect registry.
const (
	ProviderEnterprise = "enterprise"
	ProviderGoogle     = "google"
	ProviderGitHub     = "github"
)

// Config enumerates every option the client core recognizes.
type Config struct {
	Mode LoginMode `yaml:"mode"`

	// SessionTimeout is the lifetime of issued tokens.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// RedirectStateTTL bounds how long a pending redirect state stays valid.
	RedirectStateTTL time.Duration `yaml:"redirect_state_ttl"`
	ExpiryPolicy     ExpiryPolicy  `yaml:"expiry_policy"`

	// SigningKey signs locally issued tokens. The signature is not
	// authoritative; an empty key gets a random per-process key.
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`

	// Simulated selects the local identity provider instead of the backend.
	Simulated bool `yaml:"simulated"`
	// FallbackToSimulated lets network failures degrade to the simulated provider.
	FallbackToSimulated bool   `yaml:"fallback_to_simulated"`
	BackendURL          string `yaml:"backend_url"`
	RedirectURI         string `yaml:"redirect_uri"`

	Enterprise EnterpriseConfig          `yaml:"enterprise"`
	Social     map[string]ProviderConfig `yaml:"social"`
	Features   Features                  `yaml:"features"`
	Secondary  SecondaryConfig           `yaml:"secondary"`
	Storage    StorageConfig             `yaml:"storage"`
}

// EnterpriseConfig configures the enterprise redirect provider.
type EnterpriseConfig struct {
	ClientID string `yaml:"client_id"`
	TenantID string `yaml:"tenant_id"`
	// IssuerURL enables OIDC discovery; otherwise the tenant endpoints are used.
	IssuerURL string   `yaml:"issuer_url"`
	Scopes    []string `yaml:"scopes"`
}

// ProviderConfig configures one social OAuth provider.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Features toggles optional login methods.
type Features struct {
	EmailPassword  bool `yaml:"email_password"`
	SocialLogin    bool `yaml:"social_login"`
	SecondaryLink  bool `yaml:"secondary_link"`
	SecondaryOAuth bool `yaml:"secondary_oauth"`
}

// SecondaryConfig configures the source-forge account link.
type SecondaryConfig struct {
	APIURL       string   `yaml:"api_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
}

// StorageConfig selects the durable tier backend.
type StorageConfig struct {
	Durable  string `yaml:"durable"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// Durable backends.
const (
	DurableBBolt  = "bbolt"
	DurableRedis  = "redis"
	DurableMemory = "memory"
)

// DefaultConfig returns the demo configuration: alternate mode, simulated
// identity provider, every feature on.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeAlternate,
		SessionTimeout:      8 * time.Hour,
		RedirectStateTTL:    10 * time.Minute,
		ExpiryPolicy:        FailClosed,
		Issuer:              "devdash",
		Simulated:           true,
		FallbackToSimulated: true,
		RedirectURI:         "http://127.0.0.1:8765/callback",
		Enterprise: EnterpriseConfig{
			TenantID: "common",
			Scopes:   []string{"openid", "profile", "email"},
		},
		Social: map[string]ProviderConfig{
			ProviderGoogle: {Scopes: []string{"openid", "profile", "email"}},
			ProviderGitHub: {Scopes: []string{"read:user", "user:email"}},
		},
		Features: Features{
			EmailPassword:  true,
			SocialLogin:    true,
			SecondaryLink:  true,
			SecondaryOAuth: true,
		},
		Secondary: SecondaryConfig{
			APIURL:      "https://api.github.com",
			RedirectURI: "http://127.0.0.1:8765/link/callback",
			Scopes:      []string{"repo", "read:user"},
		},
		Storage: StorageConfig{
			Durable: DurableBBolt,
			Path:    "devdash-session.db",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration once at startup.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In(ModeEnterprise, ModeAlternate)),
		validation.Field(&c.SessionTimeout, validation.Required, validation.By(positiveDuration)),
		validation.Field(&c.RedirectStateTTL, validation.Required, validation.By(positiveDuration)),
		validation.Field(&c.ExpiryPolicy, validation.Required, validation.In(FailClosed, FailOpen)),
		validation.Field(&c.RedirectURI, validation.Required, is.URL),
		validation.Field(&c.BackendURL, validation.By(c.requireBackend), is.URL),
		validation.Field(&c.Storage),
		validation.Field(&c.Enterprise, validation.By(c.requireEnterprise)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate implements validation.Validatable.
func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Durable, validation.Required, validation.In(DurableBBolt, DurableRedis, DurableMemory)),
		validation.Field(&s.Path, validation.By(func(value interface{}) error {
			if s.Durable == DurableBBolt && s.Path == "" {
				return fmt.Errorf("path is required for bbolt storage")
			}
			return nil
		})),
		validation.Field(&s.RedisURL, validation.By(func(value interface{}) error {
			if s.Durable == DurableRedis && s.RedisURL == "" {
				return fmt.Errorf("redis_url is required for redis storage")
			}
			return nil
		})),
	)
}

func (c Config) requireBackend(value interface{}) error {
	if !c.Simulated && c.BackendURL == "" {
		return fmt.Errorf("backend_url is required when simulated is false")
	}
	return nil
}

func (c Config) requireEnterprise(value interface{}) error {
	if c.Mode != ModeEnterprise || c.Simulated {
		return nil
	}
	if c.Enterprise.ClientID == "" {
		return fmt.Errorf("client_id is required in enterprise mode")
	}
	if c.Enterprise.TenantID == "" && c.Enterprise.IssuerURL == "" {
		return fmt.Errorf("tenant_id or issuer_url is required in enterprise mode")
	}
	return nil
}

func positiveDuration(value interface{}) error {
	d, _ := value.(time.Duration)
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

// ProviderEnabled reports whether a redirect provider is usable under the
// current mode and feature toggles.
func (c Config) ProviderEnabled(provider string) error {
	switch provider {
	case ProviderEnterprise:
		if c.Mode != ModeEnterprise {
			return fmt.Errorf("%w: enterprise login requires enterprise mode", ErrFeatureDisabled)
		}
		return nil
	case "":
		return ErrUnknownProvider
	}
	if c.Mode != ModeAlternate || !c.Features.SocialLogin {
		return fmt.Errorf("%w: social login", ErrFeatureDisabled)
	}
	if _, ok := c.Social[provider]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return nil
}

// CredentialLoginEnabled reports whether email/password login is usable.
func (c Config) CredentialLoginEnabled() error {
	if c.Mode != ModeAlternate || !c.Features.EmailPassword {
		return fmt.Errorf("%w: email/password login", ErrFeatureDisabled)
	}
	return nil
}

// MethodFor returns the session method a redirect provider produces.
func (c Config) MethodFor(provider string) Method {
	if provider == ProviderEnterprise {
		return EnterpriseMethod()
	}
	return SocialMethod(provider)
}
