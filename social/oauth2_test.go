package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestOAuth2ProviderAuthCodeURL(t *testing.T) {
	p := NewOAuth2Provider("enterprise", &oauth2.Config{
		ClientID:    "app",
		RedirectURL: "http://127.0.0.1:8765/callback",
		Scopes:      []string{"openid"},
		Endpoint:    oauth2.Endpoint{AuthURL: "https://login.example.com/authorize"},
	})

	raw := p.AuthCodeURL("state-1", WithScopes("email"), WithNonce("n-1"), WithPKCE("challenge", ""), WithPrompt("select_account"))
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Equal(t, "n-1", q.Get("nonce"))
	assert.Equal(t, "challenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "http://127.0.0.1:8765/callback", q.Get("redirect_uri"))
	assert.Equal(t, []string{"openid"}, p.Config().Scopes)
}

func TestOAuth2ProviderExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "verifier", r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"token_type":    "Bearer",
			"refresh_token": "refresh",
			"id_token":      "id.token.value",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	p := NewOAuth2Provider("google", &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	}, WithHTTPClient(server.Client()))

	tok, err := p.Exchange(context.Background(), "the-code", WithCodeVerifier("verifier"))
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, "id.token.value", tok.IDToken)
	assert.False(t, tok.ExpiresAt.IsZero())
}

func TestOAuth2ProviderExchangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		network bool
	}{
		{name: "rejected", status: http.StatusBadRequest},
		{name: "unavailable", status: http.StatusServiceUnavailable, network: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
			}))
			defer server.Close()

			p := NewOAuth2Provider("google", &oauth2.Config{
				ClientID: "client",
				Endpoint: oauth2.Endpoint{TokenURL: server.URL, AuthStyle: oauth2.AuthStyleInParams},
			})

			_, err := p.Exchange(context.Background(), "code")
			require.Error(t, err)

			var perr *ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.Status)
			assert.Subset(t, perr.LogArgs(), []any{"provider", "google", "status", tt.status})

			classified := ClassifyProviderError(err, authclient.ErrExchangeRejected)
			if tt.network {
				assert.True(t, authclient.IsNetworkError(classified))
				return
			}
			assert.Equal(t, "invalid_grant", perr.Code)
			assert.ErrorIs(t, classified, authclient.ErrExchangeRejected)
			assert.True(t, errors.As(classified, &perr))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewOAuth2Provider("google", &oauth2.Config{}),
		NewOAuth2Provider("enterprise", &oauth2.Config{}),
	)
	r.Register(nil)

	assert.Equal(t, []string{"enterprise", "google"}, r.Names())

	p, err := r.Provider("google")
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())

	_, err = r.Provider("github")
	assert.ErrorIs(t, err, authclient.ErrUnknownProvider)
}

func TestClassifyTransportFailure(t *testing.T) {
	err := ClassifyProviderError(errors.New("dial tcp: connection refused"), authclient.ErrInvalidLinkToken)
	assert.True(t, authclient.IsNetworkError(err))
	assert.Nil(t, ClassifyProviderError(nil, authclient.ErrInvalidLinkToken))
}
