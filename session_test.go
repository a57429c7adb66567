package authclient_test

import (
	"context"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreFixture(t *testing.T) (*authclient.SessionStore, *authclient.MemoryStore, *authclient.MemoryStore, *authclient.TokenCodec) {
	t.Helper()
	clock := newTestClock()
	codec := authclient.NewTokenCodec([]byte("k"), "devdash", authclient.FailClosed,
		authclient.WithCodecClock(clock.Now), authclient.WithCodecLogger(authclient.NoopLogger()))
	durable := authclient.NewMemoryStore()
	ephemeral := authclient.NewMemoryStore()
	store := authclient.NewSessionStore(durable, ephemeral, codec,
		authclient.WithSessionStoreLogger(authclient.NoopLogger()))
	return store, durable, ephemeral, codec
}

func testSession(t *testing.T, codec *authclient.TokenCodec, method authclient.Method, tier authclient.StorageTier) *authclient.Session {
	t.Helper()
	user := &authclient.User{ID: "u-1", Email: "admin@devdash.com", DisplayName: "Admin User", Role: "admin"}
	token, exp, err := codec.Issue(user, time.Hour)
	require.NoError(t, err)
	return &authclient.Session{Token: token, User: user, Method: method, ExpiresAt: exp, StorageTier: tier}
}

func TestSessionStoreReadEmpty(t *testing.T) {
	store, _, _, _ := newStoreFixture(t)

	sess, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.False(t, store.IsAuthenticated(context.Background()))
}

func TestSessionStoreWriteReadRoundTrip(t *testing.T) {
	store, _, _, codec := newStoreFixture(t)
	ctx := context.Background()

	written := testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierEphemeral)
	written.Degraded = true
	require.NoError(t, store.Write(ctx, written))

	read, err := store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.Equal(t, written.Token, read.Token)
	assert.Equal(t, written.User, read.User)
	assert.Equal(t, written.Method, read.Method)
	assert.Equal(t, written.ExpiresAt.Unix(), read.ExpiresAt.Unix())
	assert.Equal(t, authclient.TierEphemeral, read.StorageTier)
	assert.True(t, read.Degraded)
}

func TestSessionStoreWriteClearsOtherTier(t *testing.T) {
	store, durable, ephemeral, codec := newStoreFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierDurable)))
	require.NotZero(t, durable.Len())

	second := testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierEphemeral)
	require.NoError(t, store.Write(ctx, second))
	assert.Zero(t, durable.Len())

	require.NoError(t, store.Write(ctx, testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierDurable)))
	assert.Zero(t, ephemeral.Len())
}

func TestSessionStoreRedirectSessionsAreDurable(t *testing.T) {
	store, durable, ephemeral, codec := newStoreFixture(t)
	ctx := context.Background()

	sess := testSession(t, codec, authclient.SocialMethod("google"), authclient.TierEphemeral)
	require.NoError(t, store.Write(ctx, sess))

	assert.Equal(t, authclient.TierDurable, sess.StorageTier)
	assert.Zero(t, ephemeral.Len())
	method, ok, _ := durable.Get(ctx, authclient.KeyMethod)
	require.True(t, ok)
	assert.Equal(t, "social:google", method)
}

func TestSessionStoreRejectsIncompleteSession(t *testing.T) {
	store, _, _, _ := newStoreFixture(t)

	err := store.Write(context.Background(), &authclient.Session{Token: "t"})
	assert.ErrorIs(t, err, authclient.ErrInvalidInput)
	assert.ErrorIs(t, store.Write(context.Background(), nil), authclient.ErrInvalidInput)
}

func TestSessionStoreReplaceRequiresExpectedToken(t *testing.T) {
	store, _, _, codec := newStoreFixture(t)
	ctx := context.Background()

	original := testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierDurable)
	require.NoError(t, store.Write(ctx, original))

	next := testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierDurable)
	assert.ErrorIs(t, store.Replace(ctx, "some-other-token", next), authclient.ErrSessionExpired)

	current, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.Token, current.Token)

	require.NoError(t, store.Replace(ctx, original.Token, next))
	current, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.Token, current.Token)
}

func TestSessionStoreClearIf(t *testing.T) {
	store, _, _, codec := newStoreFixture(t)
	ctx := context.Background()

	sess := testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierEphemeral)
	require.NoError(t, store.Write(ctx, sess))

	cleared, err := store.ClearIf(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.True(t, store.IsAuthenticated(ctx))

	cleared, err = store.ClearIf(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.False(t, store.IsAuthenticated(ctx))
}

func TestSessionStoreUndecodableTokenFailsClosed(t *testing.T) {
	store, _, ephemeral, _ := newStoreFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, &authclient.Session{
		Token:  "opaque-token",
		User:   &authclient.User{ID: "u-1"},
		Method: authclient.EmailPasswordMethod(),
	}))

	assert.False(t, store.IsAuthenticated(ctx))
	assert.Zero(t, ephemeral.Len())
}

func TestSessionStoreAnnotateUserKeepsIdentity(t *testing.T) {
	store, _, _, codec := newStoreFixture(t)
	ctx := context.Background()

	sess := testSession(t, codec, authclient.EmailPasswordMethod(), authclient.TierDurable)
	require.NoError(t, store.Write(ctx, sess))

	ok, err := store.AnnotateUser(ctx, func(u *authclient.User) {
		u.Annotate(&authclient.SecondaryAnnotation{Username: "octocat", AvatarURL: "https://avatars.example/octocat"})
		u.Role = "superuser"
		u.Email = "attacker@example.com"
	})
	require.NoError(t, err)
	assert.True(t, ok)

	read, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, read.User.SecondaryConnected)
	assert.Equal(t, "octocat", read.User.SecondaryUsername)
	assert.Equal(t, "admin", read.User.Role)
	assert.Equal(t, "admin@devdash.com", read.User.Email)
	assert.Equal(t, sess.Token, read.Token)
}

func TestSessionStoreAnnotateUserWithoutSession(t *testing.T) {
	store, _, _, _ := newStoreFixture(t)

	ok, err := store.AnnotateUser(context.Background(), func(u *authclient.User) { u.Annotate(nil) })
	require.NoError(t, err)
	assert.False(t, ok)
}
