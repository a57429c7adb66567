package authclient_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginWithCredentialWithoutRememberUsesEphemeralTier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", false)
	require.NoError(t, err)

	assert.Equal(t, authclient.TierEphemeral, sess.StorageTier)
	assert.Equal(t, authclient.EmailPasswordMethod(), sess.Method)
	assert.Equal(t, "admin", sess.User.Role)
	assert.Equal(t, f.clock.Now().Add(8*time.Hour), sess.ExpiresAt)
	assert.Equal(t, authclient.StateAuthenticated, f.manager.State())

	token, ok, _ := f.ephemeral.Get(ctx, authclient.KeyToken)
	require.True(t, ok)
	assert.Equal(t, sess.Token, token)

	_, ok, _ = f.durable.Get(ctx, authclient.KeyToken)
	assert.False(t, ok)
	_, ok, _ = f.durable.Get(ctx, authclient.KeyRememberMe)
	assert.False(t, ok)
}

func TestLoginWithCredentialRememberUsesDurableTier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.manager.LoginWithCredential(ctx, "Developer@DevDash.com ", "dev123", true)
	require.NoError(t, err)
	assert.Equal(t, authclient.TierDurable, sess.StorageTier)
	assert.Equal(t, "developer", sess.User.Role)

	marker, ok, _ := f.durable.Get(ctx, authclient.KeyRememberMe)
	require.True(t, ok)
	assert.Equal(t, "true", marker)
	assert.Zero(t, f.ephemeral.Len())

	restarted := f.restart(t)
	restored := restarted.InitializeFromStorage(ctx)
	require.NotNil(t, restored)
	assert.Equal(t, sess.Token, restored.Token)
	assert.Equal(t, sess.User.ID, restored.User.ID)
	assert.Equal(t, authclient.StateAuthenticated, restarted.State())
}

func TestLoginWithCredentialRejectsWithoutDisclosure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, wrongSecret := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "nope", false)
	_, unknownUser := f.manager.LoginWithCredential(ctx, "ghost@devdash.com", "nope", false)

	require.ErrorIs(t, wrongSecret, authclient.ErrInvalidCredential)
	require.ErrorIs(t, unknownUser, authclient.ErrInvalidCredential)
	assert.Equal(t, wrongSecret.Error(), unknownUser.Error())
	assert.Equal(t, authclient.KindValidation, authclient.KindOf(wrongSecret))

	assert.Equal(t, authclient.StateUnauthenticated, f.manager.State())
	assert.Zero(t, f.ephemeral.Len())
	assert.Zero(t, f.durable.Len())
}

func TestLoginWithCredentialValidatesInput(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		identifier string
		secret     string
	}{
		{name: "empty identifier", identifier: "", secret: "admin123"},
		{name: "empty secret", identifier: "admin@devdash.com", secret: ""},
		{name: "not an email", identifier: "admin", secret: "admin123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.LoginWithCredential(context.Background(), tt.identifier, tt.secret, false)
			assert.ErrorIs(t, err, authclient.ErrInvalidInput)
		})
	}
	assert.Equal(t, authclient.StateUnauthenticated, f.manager.State())
}

func TestLoginWithCredentialDisabledByConfig(t *testing.T) {
	f := newFixture(t, func(cfg *authclient.Config) {
		cfg.Features.EmailPassword = false
	})

	_, err := f.manager.LoginWithCredential(context.Background(), "admin@devdash.com", "admin123", false)
	assert.ErrorIs(t, err, authclient.ErrFeatureDisabled)
	assert.Equal(t, authclient.KindConfiguration, authclient.KindOf(err))
}

func TestExpiredSessionIsClearedOnCheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.LoginWithCredential(ctx, "viewer@devdash.com", "viewer123", true)
	require.NoError(t, err)
	require.True(t, f.manager.IsAuthenticated(ctx))

	f.clock.Advance(8*time.Hour + time.Second)

	assert.False(t, f.manager.IsAuthenticated(ctx))
	assert.Zero(t, f.durable.Len())
	assert.Zero(t, f.ephemeral.Len())

	user, err := f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestInitializeFromStorageWithExpiredSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", true)
	require.NoError(t, err)
	f.clock.Advance(9 * time.Hour)

	restarted := f.restart(t)
	assert.Nil(t, restarted.InitializeFromStorage(ctx))
	assert.Equal(t, authclient.StateUnauthenticated, restarted.State())
	assert.Zero(t, f.durable.Len())
}

func TestLoginWithRedirectProviderSimulated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.manager.LoginWithRedirectProvider(ctx, authclient.ProviderGitHub)
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	sess := result.Session
	assert.Equal(t, authclient.SocialMethod("github"), sess.Method)
	assert.Equal(t, authclient.TierDurable, sess.StorageTier)
	assert.Equal(t, "demo.github@devdash.com", sess.User.Email)
	assert.Equal(t, "github", sess.User.Provider)
	assert.False(t, sess.Degraded)

	stored, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "social:github", stored.Method.String())
}

func TestLoginWithRedirectProviderEnterpriseSetsTenant(t *testing.T) {
	f := newFixture(t, func(cfg *authclient.Config) {
		cfg.Mode = authclient.ModeEnterprise
		cfg.Enterprise.TenantID = "acme"
	})

	result, err := f.manager.LoginWithRedirectProvider(context.Background(), authclient.ProviderEnterprise)
	require.NoError(t, err)
	assert.Equal(t, authclient.EnterpriseMethod(), result.Session.Method)
	assert.Equal(t, "acme", result.Session.User.TenantID)
}

func TestLoginWithRedirectProviderRespectsMode(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.LoginWithRedirectProvider(context.Background(), authclient.ProviderEnterprise)
	assert.ErrorIs(t, err, authclient.ErrFeatureDisabled)

	_, err = f.manager.LoginWithRedirectProvider(context.Background(), "myspace")
	assert.ErrorIs(t, err, authclient.ErrUnknownProvider)
}

func TestLoginWithRedirectProviderRealReturnsURL(t *testing.T) {
	f := newFixture(t, func(cfg *authclient.Config) {
		cfg.Simulated = false
		cfg.BackendURL = "http://backend.invalid"
	})

	result, err := f.manager.LoginWithRedirectProvider(context.Background(), authclient.ProviderGoogle)
	require.NoError(t, err)
	assert.Nil(t, result.Session)
	require.NotNil(t, result.Redirect)
	assert.Contains(t, result.Redirect.URL, result.Redirect.State)
	assert.Equal(t, authclient.StateAuthenticating, f.manager.State())
}

func TestRedirectCallbackPassesVerifierToExchanger(t *testing.T) {
	ex := &scriptedExchanger{}
	f := newFixture(t, func(cfg *authclient.Config) {
		cfg.Simulated = false
		cfg.BackendURL = "http://backend.invalid"
	}, authclient.WithCodeExchanger(ex))
	ex.exchange = func(provider string) (*authclient.ExchangeResult, error) {
		user := &authclient.User{ID: "gh-1", Email: "octo@example.com", Role: "viewer"}
		token, _, err := f.codec.Issue(user, time.Hour)
		if err != nil {
			return nil, err
		}
		return &authclient.ExchangeResult{AccessToken: token, User: user}, nil
	}
	ctx := context.Background()

	result, err := f.manager.LoginWithRedirectProvider(ctx, authclient.ProviderGitHub)
	require.NoError(t, err)
	_, err = f.manager.HandleRedirectCallback(ctx, authclient.ProviderGitHub, "auth-code", result.Redirect.State)
	require.NoError(t, err)

	require.Len(t, ex.requests, 1)
	req := ex.requests[0]
	assert.Equal(t, authclient.ProviderGitHub, req.Provider)
	assert.Equal(t, "auth-code", req.Code)
	assert.Equal(t, f.cfg.RedirectURI, req.RedirectURI)
	assert.Equal(t, "verifier-for-"+result.Redirect.State, req.CodeVerifier)
}

func TestForgedCallbackKeepsPriorSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	prior, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", false)
	require.NoError(t, err)

	_, err = f.guard.Begin(ctx, authclient.ProviderGitHub)
	require.NoError(t, err)

	_, err = f.manager.HandleRedirectCallback(ctx, authclient.ProviderGitHub, "code", "attacker-state")
	require.ErrorIs(t, err, authclient.ErrForgery)
	assert.True(t, authclient.IsSecurityError(err))

	current, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, prior.Token, current.Token)
	assert.Equal(t, authclient.StateAuthenticated, f.manager.State())
}

func TestCallbackWithoutBeginIsForgery(t *testing.T) {
	f := newFixture(t, nil)

	var changes []authclient.StateChange
	f.manager.OnStateChange(func(change authclient.StateChange) { changes = append(changes, change) })

	_, err := f.manager.HandleRedirectCallback(context.Background(), authclient.ProviderGoogle, "code", "any")
	assert.ErrorIs(t, err, authclient.ErrForgery)
	assert.Equal(t, authclient.StateUnauthenticated, f.manager.State())
	assert.Zero(t, f.durable.Len())

	require.Len(t, changes, 1)
	assert.Equal(t, authclient.StateUnauthenticated, changes[0].From)
	assert.Equal(t, authclient.StateUnauthenticated, changes[0].To)
	assert.ErrorIs(t, changes[0].Err, authclient.ErrForgery)
}

func TestRefreshTokenWithoutSession(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.RefreshToken(context.Background())
	assert.ErrorIs(t, err, authclient.ErrSessionExpired)
	assert.Equal(t, authclient.KindExpired, authclient.KindOf(err))
	assert.Zero(t, f.durable.Len())
	assert.Zero(t, f.ephemeral.Len())
}

func TestRefreshTokenKeepsUserMethodAndTier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.manager.LoginWithCredential(ctx, "developer@devdash.com", "dev123", true)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	token, err := f.manager.RefreshToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, token)

	refreshed, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, refreshed.Token)
	assert.Equal(t, sess.User.ID, refreshed.User.ID)
	assert.Equal(t, sess.Method, refreshed.Method)
	assert.Equal(t, authclient.TierDurable, refreshed.StorageTier)
	assert.True(t, refreshed.ExpiresAt.After(sess.ExpiresAt))
	assert.Equal(t, authclient.StateAuthenticated, f.manager.State())
}

func TestRefreshFailureClearsSession(t *testing.T) {
	ex := &scriptedExchanger{
		refresh: func(*authclient.Session) (*authclient.ExchangeResult, error) {
			return nil, authclient.ErrExchangeRejected
		},
	}
	f := newFixture(t, nil, authclient.WithCodeExchanger(ex))
	ctx := context.Background()

	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", false)
	require.NoError(t, err)

	_, err = f.manager.RefreshToken(ctx)
	assert.ErrorIs(t, err, authclient.ErrSessionExpired)
	assert.False(t, f.manager.IsAuthenticated(ctx))
	assert.Equal(t, authclient.StateUnauthenticated, f.manager.State())
}

func TestRefreshRacingLogoutDoesNotResurrectSession(t *testing.T) {
	ex := &scriptedExchanger{}
	f := newFixture(t, nil, authclient.WithCodeExchanger(ex))
	ctx := context.Background()

	ex.onRefresh = func() {
		require.NoError(t, f.manager.Logout(ctx))
	}
	ex.refresh = func(sess *authclient.Session) (*authclient.ExchangeResult, error) {
		token, _, err := f.codec.Issue(sess.User, time.Hour)
		return &authclient.ExchangeResult{AccessToken: token, User: sess.User}, err
	}

	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", true)
	require.NoError(t, err)

	_, err = f.manager.RefreshToken(ctx)
	assert.ErrorIs(t, err, authclient.ErrSessionExpired)
	assert.False(t, f.manager.IsAuthenticated(ctx))
	assert.Zero(t, f.durable.Len())
	assert.Equal(t, authclient.StateUnauthenticated, f.manager.State())
}

func TestRefreshRacingNewLoginKeepsNewSession(t *testing.T) {
	ex := &scriptedExchanger{}
	f := newFixture(t, nil, authclient.WithCodeExchanger(ex))
	ctx := context.Background()

	var newer *authclient.Session
	ex.onRefresh = func() {
		sess, err := f.manager.LoginWithCredential(ctx, "viewer@devdash.com", "viewer123", false)
		require.NoError(t, err)
		newer = sess
	}
	ex.refresh = func(sess *authclient.Session) (*authclient.ExchangeResult, error) {
		token, _, err := f.codec.Issue(sess.User, time.Hour)
		return &authclient.ExchangeResult{AccessToken: token, User: sess.User}, err
	}

	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", true)
	require.NoError(t, err)

	_, err = f.manager.RefreshToken(ctx)
	assert.ErrorIs(t, err, authclient.ErrSessionExpired)

	current, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, newer.Token, current.Token)
	assert.Equal(t, "viewer", current.User.Role)
}

func TestLogoutKeepsSecondaryLinkKeys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.durable.Set(ctx, "secondary.link.token", "ghp_example"))
	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", true)
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(ctx))
	assert.False(t, f.manager.IsAuthenticated(ctx))

	v, ok, _ := f.durable.Get(ctx, "secondary.link.token")
	assert.True(t, ok)
	assert.Equal(t, "ghp_example", v)
	assert.Equal(t, 1, f.durable.Len())
}

func TestNewLoginReplacesPriorSessionAcrossTiers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", false)
	require.NoError(t, err)
	result, err := f.manager.LoginWithRedirectProvider(ctx, authclient.ProviderGoogle)
	require.NoError(t, err)

	assert.Zero(t, f.ephemeral.Len())
	current, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Session.Token, current.Token)
	assert.Equal(t, authclient.SocialMethod("google"), current.Method)
}

func TestStateListenersObserveLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []authclient.SessionState
	unsubscribe := f.manager.OnStateChange(func(change authclient.StateChange) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, change.To)
	})

	_, err := f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", false)
	require.NoError(t, err)

	unsubscribe()
	require.NoError(t, f.manager.Logout(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []authclient.SessionState{
		authclient.StateAuthenticating,
		authclient.StateAuthenticated,
	}, seen)
}

func TestStateListenerReceivesFailureCause(t *testing.T) {
	f := newFixture(t, nil)

	var last authclient.StateChange
	f.manager.OnStateChange(func(change authclient.StateChange) { last = change })

	_, err := f.manager.LoginWithCredential(context.Background(), "admin@devdash.com", "wrong", false)
	require.Error(t, err)
	assert.Equal(t, authclient.StateUnauthenticated, last.To)
	assert.True(t, errors.Is(last.Err, authclient.ErrInvalidCredential))
}

func TestManagerRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := authclient.NewMetrics(reg)
	require.NoError(t, err)

	f := newFixture(t, nil, authclient.WithMetrics(metrics))
	ctx := context.Background()

	_, err = f.manager.LoginWithCredential(ctx, "admin@devdash.com", "admin123", false)
	require.NoError(t, err)
	_, err = f.manager.LoginWithCredential(ctx, "admin@devdash.com", "bad", false)
	require.Error(t, err)
	_, err = f.manager.HandleRedirectCallback(ctx, authclient.ProviderGitHub, "code", "forged")
	require.Error(t, err)
	_, err = f.manager.RefreshToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Logins().WithLabelValues("email", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Logins().WithLabelValues("email", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SecurityRejections().WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Refreshes().WithLabelValues("success")))
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := authclient.NewManager(authclient.DefaultConfig(), nil)
	assert.ErrorIs(t, err, authclient.ErrInvalidConfig)
}
