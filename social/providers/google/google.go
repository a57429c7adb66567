package google

import (
	"net/http"

	"github.com/goliatone/go-auth-client/social"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Name is the registry name of the Google provider.
const Name = "google"

// Config holds Google OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// New creates the Google provider. The authorization request always asks
// the user to pick an account.
func New(cfg Config) social.Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	endpoint := endpoints.Google
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	base := social.NewOAuth2Provider(Name, &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		Endpoint:     endpoint,
	}, social.WithHTTPClient(cfg.HTTPClient))
	return &provider{OAuth2Provider: base}
}

type provider struct {
	*social.OAuth2Provider
}

func (p *provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	return p.OAuth2Provider.AuthCodeURL(state, append([]social.AuthCodeOption{social.WithPrompt("select_account")}, opts...)...)
}
