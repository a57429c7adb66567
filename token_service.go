package authclient

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec issues and decodes three-segment bearer tokens. Decoding never
// verifies the signature: the backend is the signature authority.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	policy     ExpiryPolicy
	now        func() time.Time
	logger     Logger
}

// TokenCodecOption customizes a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithCodecClock injects the clock used for iat/exp and expiry checks.
func WithCodecClock(now func() time.Time) TokenCodecOption {
	return func(tc *TokenCodec) {
		if now != nil {
			tc.now = now
		}
	}
}

// WithCodecLogger sets the codec logger.
func WithCodecLogger(logger Logger) TokenCodecOption {
	return func(tc *TokenCodec) {
		if logger != nil {
			tc.logger = logger
		}
	}
}

// NewTokenCodec creates a codec. An empty signing key gets a random one.
func NewTokenCodec(signingKey []byte, issuer string, policy ExpiryPolicy, opts ...TokenCodecOption) *TokenCodec {
	if len(signingKey) == 0 {
		signingKey = make([]byte, 32)
		_, _ = rand.Read(signingKey)
	}
	if policy == "" {
		policy = FailClosed
	}
	tc := &TokenCodec{
		signingKey: signingKey,
		issuer:     issuer,
		policy:     policy,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}
	return tc
}

// Policy returns the configured expiry policy.
func (tc *TokenCodec) Policy() ExpiryPolicy {
	return tc.policy
}

// Issue creates a token for user valid for ttl.
func (tc *TokenCodec) Issue(user *User, ttl time.Duration) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, goerrors.New("user is required", goerrors.CategoryBadInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, goerrors.New("token TTL must be positive", goerrors.CategoryBadInput)
	}

	// exp is second-granular on the wire.
	now := tc.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tc.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
		Name:  user.DisplayName,
		Role:  user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, expiresAt, nil
}

// DecodeClaims parses the claims segment without verifying the signature.
func (tc *TokenCodec) DecodeClaims(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrTokenUndecodable
	}
	return claims, nil
}

// DecodeExpiry returns the exp claim, or ErrTokenUndecodable when the token
// cannot be parsed or carries no expiry.
func (tc *TokenCodec) DecodeExpiry(token string) (time.Time, error) {
	claims, err := tc.DecodeClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	exp := claims.Expires()
	if exp.IsZero() {
		return time.Time{}, ErrTokenUndecodable
	}
	return exp, nil
}

// Expired reports whether token is expired at the codec clock's now.
// Undecodable tokens follow the configured policy.
func (tc *TokenCodec) Expired(token string) bool {
	exp, err := tc.DecodeExpiry(token)
	if err != nil {
		if tc.policy == FailOpen {
			tc.logger.Warn("token expiry undecodable, treating as valid", "policy", tc.policy)
			return false
		}
		tc.logger.Debug("token expiry undecodable, treating as expired", "policy", tc.policy)
		return true
	}
	return !tc.now().Before(exp)
}

// Now returns the codec clock's current time.
func (tc *TokenCodec) Now() time.Time {
	return tc.now()
}
