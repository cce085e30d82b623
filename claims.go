package socialauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenUseRefresh marks refresh tokens; access tokens leave the claim empty.
const TokenUseRefresh = "refresh"

// AuthClaims represents structured JWT claims.
type AuthClaims interface {
	Subject() string
	AccountID() string
	Role() string
	TokenUse() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	UserRole string `json:"role,omitempty"`
	Use      string `json:"token_use,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim.
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// AccountID returns the account id carried by the token.
func (c *JWTClaims) AccountID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// AccountUUID parses the account id claim.
func (c *JWTClaims) AccountUUID() (uuid.UUID, error) {
	return uuid.Parse(c.AccountID())
}

// Role returns the global role claim.
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// TokenUse returns the token_use claim; empty for access tokens.
func (c *JWTClaims) TokenUse() string {
	return c.Use
}

// IsRefresh reports whether the claims belong to a refresh token.
func (c *JWTClaims) IsRefresh() bool {
	return c.Use == TokenUseRefresh
}

// Expires returns the expiration time, zero when unset.
func (c *JWTClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAt returns the issue time, zero when unset.
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil || claims.ID != "" {
		return
	}
	claims.ID = uuid.NewString()
}
