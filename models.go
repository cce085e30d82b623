package socialauth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the system's own user record, potentially linked to several
// identity providers.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID           `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string              `bun:"email,unique,nullzero" json:"email,omitempty"`
	Name          string              `bun:"name,notnull" json:"name,omitempty"`
	AvatarURL     string              `bun:"avatar_url" json:"avatar_url,omitempty"`
	Role          AccountRole         `bun:"account_role,notnull" json:"role,omitempty"`
	Identities    []*ProviderIdentity `bun:"rel:has-many,join:id=account_id" json:"identities,omitempty"`
	RefreshTokens []*RefreshToken     `bun:"rel:has-many,join:id=account_id" json:"-"`
	LastLoginAt   *time.Time          `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     *time.Time          `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time          `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Providers returns the provider tags currently linked, in link order.
func (a *Account) Providers() []string {
	if a == nil {
		return nil
	}
	tags := make([]string, 0, len(a.Identities))
	for _, id := range a.Identities {
		if id != nil {
			tags = append(tags, id.Provider)
		}
	}
	return tags
}

// HasProvider reports whether the provider tag is linked.
func (a *Account) HasProvider(provider string) bool {
	return a.IdentityFor(provider) != nil
}

// IdentityFor returns the linked identity for a provider, or nil.
func (a *Account) IdentityFor(provider string) *ProviderIdentity {
	if a == nil {
		return nil
	}
	for _, id := range a.Identities {
		if id != nil && id.Provider == provider {
			return id
		}
	}
	return nil
}

// ProviderIdentity maps a provider-assigned id onto an account. The
// (provider, provider_user_id) pair is unique across all accounts; that
// constraint is what makes concurrent account creation race safe.
type ProviderIdentity struct {
	bun.BaseModel  `bun:"table:provider_identities,alias:pid"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID      uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Provider       string     `bun:"provider,notnull" json:"provider,omitempty"`
	ProviderUserID string     `bun:"provider_user_id,notnull" json:"provider_user_id,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RefreshToken is one live entry in an account's bounded token list.
// At most MaxRefreshTokens rows survive per account; the oldest are
// evicted first.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"-"`
	AccountID     uuid.UUID `bun:"account_id,notnull,type:uuid" json:"-"`
	Token         string    `bun:"token,notnull" json:"-"`
	IssuedAt      time.Time `bun:"issued_at,notnull" json:"-"`
}

// MaxRefreshTokens bounds the per-account refresh token list.
const MaxRefreshTokens = 5

// NormalizeEmail lowercases and trims an address. Empty input stays empty.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
