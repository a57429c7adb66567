package authclient

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the claims segment of a bearer token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UserID returns the subject claim.
func (c *TokenClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// User rebuilds the identity fields carried by the claims.
func (c *TokenClaims) User() *User {
	return &User{
		ID:          c.UserID(),
		Email:       c.Email,
		DisplayName: c.Name,
		Role:        c.Role,
	}
}
