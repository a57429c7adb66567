package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Persisted keys. The auth.* keys follow the session's tier; rememberMe only
// ever lives in the durable tier.
const (
	KeyToken      = "auth.token"
	KeyUser       = "auth.user"
	KeyMethod     = "auth.method"
	KeyDegraded   = "auth.degraded"
	KeyRememberMe = "auth.rememberMe"
)

var sessionKeys = []string{KeyToken, KeyUser, KeyMethod, KeyDegraded}

// SessionStore persists the active session across two tiers. Nothing is
// cached: every call re-reads the backends so external mutation (another
// process logging out) is observed.
type SessionStore struct {
	mu        sync.Mutex
	durable   KVStore
	ephemeral KVStore
	codec     *TokenCodec
	logger    Logger
}

// SessionStoreOption customizes a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionStoreLogger sets the store logger.
func WithSessionStoreLogger(logger Logger) SessionStoreOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionStore wires the two tiers and the codec used for expiry checks.
func NewSessionStore(durable, ephemeral KVStore, codec *TokenCodec, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		durable:   durable,
		ephemeral: ephemeral,
		codec:     codec,
		logger:    defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Durable returns the durable tier backend.
func (s *SessionStore) Durable() KVStore { return s.durable }

// Ephemeral returns the ephemeral tier backend.
func (s *SessionStore) Ephemeral() KVStore { return s.ephemeral }

// Codec returns the codec used for expiry checks.
func (s *SessionStore) Codec() *TokenCodec { return s.codec }

// Read returns the stored session, or nil when none exists.
func (s *SessionStore) Read(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx)
}

// Write replaces any stored session with sess in sess.StorageTier. The other
// tier is cleared first so no stale duplicate survives.
func (s *SessionStore) Write(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, sess)
}

// Replace writes sess only if the stored token still equals expectedToken.
// It returns ErrSessionExpired when the session was cleared or replaced in
// the meantime. When the durable backend is a ConditionalWriter the check and
// the write are one atomic step, so writers in other processes are covered
// too; otherwise only writers sharing this store are.
func (s *SessionStore) Replace(ctx context.Context, expectedToken string, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, err := s.activeTierLocked(ctx)
	if err != nil {
		return err
	}
	if cw, ok := s.durable.(ConditionalWriter); ok && tier == TierDurable {
		values, err := encodeSession(sess)
		if err != nil {
			return err
		}
		if sess.StorageTier == TierDurable {
			return s.replaceDurable(ctx, cw, expectedToken, values)
		}
	}
	current, ok, err := s.backend(tier).Get(ctx, KeyToken)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if !ok || current != expectedToken {
		return ErrSessionExpired
	}
	return s.writeLocked(ctx, sess)
}

// Clear removes every session key from both tiers. Secondary link keys are
// not touched.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

// ClearIf clears the session only if the stored token equals expectedToken.
// It reports whether anything was cleared.
func (s *SessionStore) ClearIf(ctx context.Context, expectedToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, err := s.activeTierLocked(ctx)
	if err != nil {
		return false, err
	}
	current, ok, err := s.backend(tier).Get(ctx, KeyToken)
	if err != nil {
		return false, fmt.Errorf("read token: %w", err)
	}
	if !ok || current != expectedToken {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

// IsAuthenticated reports whether a non-expired token is stored. An expired
// token clears the session as a side effect.
func (s *SessionStore) IsAuthenticated(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, err := s.activeTierLocked(ctx)
	if err != nil {
		s.logger.Error("session tier lookup failed", "error", err)
		return false
	}
	token, ok, err := s.backend(tier).Get(ctx, KeyToken)
	if err != nil {
		s.logger.Error("session token read failed", "error", err)
		return false
	}
	if !ok || token == "" {
		return false
	}
	if s.codec.Expired(token) {
		s.logger.Info("stored session expired, clearing", "tier", tier)
		if err := s.clearLocked(ctx); err != nil {
			s.logger.Error("failed to clear expired session", "error", err)
		}
		return false
	}
	return true
}

// AnnotateUser applies fn to the stored user's secondary fields and writes
// the user back to the same tier. Identity fields are restored after fn runs.
// It returns false when no session exists.
func (s *SessionStore) AnnotateUser(ctx context.Context, fn func(u *User)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.readLocked(ctx)
	if err != nil || sess == nil {
		return false, err
	}

	original := *sess.User
	fn(sess.User)
	sess.User.ID = original.ID
	sess.User.Email = original.Email
	sess.User.DisplayName = original.DisplayName
	sess.User.Role = original.Role
	sess.User.AvatarURL = original.AvatarURL
	sess.User.TenantID = original.TenantID
	sess.User.Provider = original.Provider

	raw, err := json.Marshal(sess.User)
	if err != nil {
		return false, fmt.Errorf("encode user: %w", err)
	}
	if err := s.backend(sess.StorageTier).Set(ctx, KeyUser, string(raw)); err != nil {
		return false, fmt.Errorf("write user: %w", err)
	}
	return true, nil
}

func (s *SessionStore) backend(tier StorageTier) KVStore {
	if tier == TierDurable {
		return s.durable
	}
	return s.ephemeral
}

func (s *SessionStore) activeTierLocked(ctx context.Context) (StorageTier, error) {
	marker, ok, err := s.durable.Get(ctx, KeyRememberMe)
	if err != nil {
		return "", fmt.Errorf("read remember marker: %w", err)
	}
	if ok && marker == "true" {
		return TierDurable, nil
	}
	return TierEphemeral, nil
}

func (s *SessionStore) readLocked(ctx context.Context) (*Session, error) {
	tier, err := s.activeTierLocked(ctx)
	if err != nil {
		return nil, err
	}
	kv := s.backend(tier)

	token, ok, err := kv.Get(ctx, KeyToken)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if !ok || token == "" {
		return nil, nil
	}

	rawUser, _, err := kv.Get(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	user := &User{}
	if err := json.Unmarshal([]byte(rawUser), user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}

	tag, _, err := kv.Get(ctx, KeyMethod)
	if err != nil {
		return nil, fmt.Errorf("read method: %w", err)
	}
	method, err := ParseMethod(tag)
	if err != nil {
		return nil, err
	}

	degraded, _, err := kv.Get(ctx, KeyDegraded)
	if err != nil {
		return nil, fmt.Errorf("read degraded flag: %w", err)
	}

	sess := &Session{
		Token:       token,
		User:        user,
		Method:      method,
		StorageTier: tier,
		Degraded:    degraded == "true",
	}
	if exp, err := s.codec.DecodeExpiry(token); err == nil {
		sess.ExpiresAt = exp
	}
	return sess, nil
}

func (s *SessionStore) replaceDurable(ctx context.Context, cw ConditionalWriter, expectedToken string, values []sessionValue) error {
	set := make(map[string]string, len(values)+1)
	for _, v := range values {
		set[v.key] = v.value
	}
	set[KeyRememberMe] = "true"

	wrote, err := cw.WriteIf(ctx, KeyToken, expectedToken, set)
	if err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if !wrote {
		return ErrSessionExpired
	}
	if err := s.ephemeral.Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("clear ephemeral tier: %w", err)
	}
	return nil
}

type sessionValue struct{ key, value string }

// encodeSession resolves the session tier and returns the keys to persist,
// token last.
func encodeSession(sess *Session) ([]sessionValue, error) {
	if sess == nil || sess.User == nil || sess.Token == "" {
		return nil, fmt.Errorf("%w: session requires token and user", ErrInvalidInput)
	}
	if sess.Method.IsRedirect() {
		sess.StorageTier = TierDurable
	}
	if sess.StorageTier == "" {
		sess.StorageTier = TierEphemeral
	}

	raw, err := json.Marshal(sess.User)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	degraded := "false"
	if sess.Degraded {
		degraded = "true"
	}
	return []sessionValue{
		{KeyUser, string(raw)},
		{KeyMethod, sess.Method.String()},
		{KeyDegraded, degraded},
		{KeyToken, sess.Token},
	}, nil
}

func (s *SessionStore) writeLocked(ctx context.Context, sess *Session) error {
	values, err := encodeSession(sess)
	if err != nil {
		return err
	}

	var kv KVStore
	if sess.StorageTier == TierDurable {
		if err := s.ephemeral.Delete(ctx, sessionKeys...); err != nil {
			return fmt.Errorf("clear ephemeral tier: %w", err)
		}
		if err := s.durable.Set(ctx, KeyRememberMe, "true"); err != nil {
			return fmt.Errorf("write remember marker: %w", err)
		}
		kv = s.durable
	} else {
		if err := s.durable.Delete(ctx, append(sessionKeys, KeyRememberMe)...); err != nil {
			return fmt.Errorf("clear durable tier: %w", err)
		}
		kv = s.ephemeral
	}

	for _, v := range values {
		if err := kv.Set(ctx, v.key, v.value); err != nil {
			return fmt.Errorf("write %s: %w", v.key, err)
		}
	}
	return nil
}

func (s *SessionStore) clearLocked(ctx context.Context) error {
	if err := s.ephemeral.Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("clear ephemeral tier: %w", err)
	}
	if err := s.durable.Delete(ctx, append(sessionKeys, KeyRememberMe)...); err != nil {
		return fmt.Errorf("clear durable tier: %w", err)
	}
	return nil
}
