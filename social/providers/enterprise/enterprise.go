package enterprise

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/social"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Name is the registry name of the enterprise provider.
const Name = authclient.ProviderEnterprise

// Config holds the enterprise identity provider configuration.
type Config struct {
	ClientID    string
	CallbackURL string
	Scopes      []string

	// TenantID selects the directory tenant endpoints.
	TenantID string
	// IssuerURL, when set, is used for OIDC discovery instead of TenantID.
	IssuerURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default enterprise scopes.
func DefaultScopes() []string {
	return []string{oidc.ScopeOpenID, "profile", "email"}
}

// New builds the enterprise provider. With an IssuerURL the endpoints come
// from the issuer's discovery document; otherwise the tenant endpoints are
// used and no network call is made.
func New(ctx context.Context, cfg Config) (*social.OAuth2Provider, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}

	endpoint, err := resolveEndpoint(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return social.NewOAuth2Provider(Name, &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.CallbackURL,
		Scopes:      cfg.Scopes,
		Endpoint:    endpoint,
	}, social.WithHTTPClient(cfg.HTTPClient)), nil
}

func resolveEndpoint(ctx context.Context, cfg Config) (oauth2.Endpoint, error) {
	if cfg.IssuerURL == "" {
		tenant := cfg.TenantID
		if tenant == "" {
			tenant = "common"
		}
		return endpoints.AzureAD(tenant), nil
	}

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return oauth2.Endpoint{}, authclient.NetworkError(fmt.Errorf("oidc discovery for %s: %w", cfg.IssuerURL, err), "discovery")
	}
	return provider.Endpoint(), nil
}
