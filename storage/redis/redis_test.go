package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), "redis://"+mr.Addr(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStoreRoundTrip(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "auth.token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "auth.token", "abc"))
	v, ok, err := s.Get(ctx, "auth.token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	raw, err := mr.Get("devdash:auth.token")
	require.NoError(t, err)
	assert.Equal(t, "abc", raw)

	require.NoError(t, s.Set(ctx, "auth.user", "{}"))
	require.NoError(t, s.Delete(ctx, "auth.token", "auth.user", "missing"))
	assert.False(t, mr.Exists("devdash:auth.token"))
	assert.False(t, mr.Exists("devdash:auth.user"))
	require.NoError(t, s.Delete(ctx))
}

func TestStorePrefix(t *testing.T) {
	s, mr := setupStore(t, WithPrefix("tenant-a:"))

	require.NoError(t, s.Set(context.Background(), "secondary.link.connected", "true"))
	assert.True(t, mr.Exists("tenant-a:secondary.link.connected"))
}

func TestStoreSharedBetweenClients(t *testing.T) {
	a, mr := setupStore(t)
	b, err := Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set(context.Background(), "auth.rememberMe", "true"))
	v, ok, err := b.Get(context.Background(), "auth.rememberMe")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestOpenInvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "invalid://url")
	assert.Error(t, err)
}

func TestOpenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), "redis://"+addr)
	require.Error(t, err)
	assert.True(t, authclient.IsNetworkError(err))
}

func TestGetAfterServerStops(t *testing.T) {
	s, mr := setupStore(t)
	mr.Close()

	_, _, err := s.Get(context.Background(), "auth.token")
	assert.Error(t, err)
}

func TestWriteIf(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	wrote, err := s.WriteIf(ctx, "auth.token", "old", map[string]string{"auth.token": "new"})
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.False(t, mr.Exists("devdash:auth.token"))

	require.NoError(t, s.Set(ctx, "auth.token", "old"))
	wrote, err = s.WriteIf(ctx, "auth.token", "old", map[string]string{
		"auth.token": "new",
		"auth.user":  `{"id":"u1"}`,
	})
	require.NoError(t, err)
	assert.True(t, wrote)
	mr.CheckGet(t, "devdash:auth.token", "new")
	mr.CheckGet(t, "devdash:auth.user", `{"id":"u1"}`)

	wrote, err = s.WriteIf(ctx, "auth.token", "old", map[string]string{"auth.token": "stale"})
	require.NoError(t, err)
	assert.False(t, wrote)
	mr.CheckGet(t, "devdash:auth.token", "new")
}

func TestSessionReplaceSeesOtherProcess(t *testing.T) {
	a, mr := setupStore(t)
	b, err := Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	codec := authclient.NewTokenCodec([]byte("k"), "devdash", authclient.FailOpen)
	first := authclient.NewSessionStore(a, authclient.NewMemoryStore(), codec,
		authclient.WithSessionStoreLogger(authclient.NoopLogger()))
	second := authclient.NewSessionStore(b, authclient.NewMemoryStore(), codec,
		authclient.WithSessionStoreLogger(authclient.NoopLogger()))

	user := &authclient.User{ID: "u1", Email: "dev@devdash.com", Role: "developer"}
	method := authclient.SocialMethod("github")
	require.NoError(t, first.Write(ctx, &authclient.Session{Token: "t1", User: user, Method: method}))

	// Another process signs in again before the refresh lands.
	require.NoError(t, second.Write(ctx, &authclient.Session{Token: "t2", User: user, Method: method}))

	err = first.Replace(ctx, "t1", &authclient.Session{Token: "t1-refreshed", User: user, Method: method})
	assert.ErrorIs(t, err, authclient.ErrSessionExpired)
	mr.CheckGet(t, "devdash:auth.token", "t2")

	require.NoError(t, first.Replace(ctx, "t2", &authclient.Session{Token: "t2-refreshed", User: user, Method: method}))
	mr.CheckGet(t, "devdash:auth.token", "t2-refreshed")
	mr.CheckGet(t, "devdash:auth.rememberMe", "true")
}
