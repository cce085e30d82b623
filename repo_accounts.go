package socialauth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the persistence surface for Account aggregates, their linked
// provider identities, and their bounded refresh token lists.
type Accounts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*Account, error)

	CreateWithIdentity(ctx context.Context, account *Account, provider, providerUserID string) (*Account, error)
	LinkIdentity(ctx context.Context, accountID uuid.UUID, provider, providerUserID string) error
	UnlinkIdentity(ctx context.Context, accountID uuid.UUID, provider string) error

	TrackSuccessfulLogin(ctx context.Context, account *Account) error
	UpdateProfile(ctx context.Context, accountID uuid.UUID, name, avatarURL string) (*Account, error)

	StoreRefreshToken(ctx context.Context, accountID uuid.UUID, token string, issuedAt time.Time) error
	StoreRefreshTokenTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, token string, issuedAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, accountID uuid.UUID, token string) (bool, error)
	ConsumeRefreshTokenTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, token string) (bool, error)
	RemoveRefreshToken(ctx context.Context, accountID uuid.UUID, token string) error
	PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository builds the bun backed Accounts repository.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *accounts) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Relation("Identities").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrAccountNotFound
	}

	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Relation("Identities").
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*Account, error) {
	identity := &ProviderIdentity{}
	err := a.db.NewSelect().
		Model(identity).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return a.GetByID(ctx, identity.AccountID)
}

// CreateWithIdentity inserts the account and its first provider identity in
// one transaction. A uniqueness violation on (provider, provider_user_id)
// surfaces as ErrIdentityConflict so callers can re-run the returning-user
// lookup instead of failing.
func (a *accounts) CreateWithIdentity(ctx context.Context, account *Account, provider, providerUserID string) (*Account, error) {
	if account == nil {
		return nil, ErrValidation
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = NormalizeEmail(account.Email)
	if account.Role == "" {
		account.Role = RoleUser
	}

	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
			return err
		}

		identity := &ProviderIdentity{
			ID:             uuid.New(),
			AccountID:      account.ID,
			Provider:       provider,
			ProviderUserID: providerUserID,
		}
		if _, err := tx.NewInsert().Model(identity).Exec(ctx); err != nil {
			return err
		}

		account.Identities = append(account.Identities, identity)
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrIdentityConflict
		}
		return nil, err
	}

	return account, nil
}

func (a *accounts) LinkIdentity(ctx context.Context, accountID uuid.UUID, provider, providerUserID string) error {
	identity := &ProviderIdentity{
		ID:             uuid.New(),
		AccountID:      accountID,
		Provider:       provider,
		ProviderUserID: providerUserID,
	}

	if _, err := a.db.NewInsert().Model(identity).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrIdentityConflict
		}
		return err
	}

	return nil
}

func (a *accounts) UnlinkIdentity(ctx context.Context, accountID uuid.UUID, provider string) error {
	_, err := a.db.NewDelete().
		Model((*ProviderIdentity)(nil)).
		Where("account_id = ? AND provider = ?", accountID, provider).
		Exec(ctx)
	return err
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account) error {
	if account == nil || account.ID == uuid.Nil {
		return ErrAccountNotFound
	}

	now := time.Now()
	account.LastLoginAt = &now

	_, err := a.db.NewUpdate().
		Model(account).
		Column("last_login_at", "updated_at").
		Set("updated_at = CURRENT_TIMESTAMP").
		WherePK().
		Exec(ctx)
	return err
}

func (a *accounts) UpdateProfile(ctx context.Context, accountID uuid.UUID, name, avatarURL string) (*Account, error) {
	account, err := a.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if name != "" {
		account.Name = name
	}
	if avatarURL != "" {
		account.AvatarURL = avatarURL
	}

	_, err = a.db.NewUpdate().
		Model(account).
		Column("name", "avatar_url").
		Set("updated_at = CURRENT_TIMESTAMP").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (a *accounts) StoreRefreshToken(ctx context.Context, accountID uuid.UUID, token string, issuedAt time.Time) error {
	return a.StoreRefreshTokenTx(ctx, a.db, accountID, token, issuedAt)
}

// StoreRefreshTokenTx appends a refresh token and evicts the oldest entries
// beyond MaxRefreshTokens.
func (a *accounts) StoreRefreshTokenTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, token string, issuedAt time.Time) error {
	record := &RefreshToken{
		ID:        uuid.New(),
		AccountID: accountID,
		Token:     token,
		IssuedAt:  issuedAt,
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return err
	}

	keep := tx.NewSelect().
		Model((*RefreshToken)(nil)).
		Column("id").
		Where("account_id = ?", accountID).
		OrderExpr("issued_at DESC, id DESC").
		Limit(MaxRefreshTokens)

	_, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("account_id = ?", accountID).
		Where("id NOT IN (?)", keep).
		Exec(ctx)
	return err
}

func (a *accounts) ConsumeRefreshToken(ctx context.Context, accountID uuid.UUID, token string) (bool, error) {
	return a.ConsumeRefreshTokenTx(ctx, a.db, accountID, token)
}

// ConsumeRefreshTokenTx removes the presented token if it is still live.
// The conditional delete is the reuse-detection gate: of two concurrent
// rotations presenting the same token, exactly one sees a row removed.
func (a *accounts) ConsumeRefreshTokenTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, token string) (bool, error) {
	cutoff := time.Now().Add(-DefaultRefreshTokenTTL)

	res, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("account_id = ? AND token = ?", accountID, token).
		Where("issued_at > ?", cutoff).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// RemoveRefreshToken deletes exactly the presented token. Tokens held by
// other sessions stay live, so logout on one device leaves the rest alone.
func (a *accounts) RemoveRefreshToken(ctx context.Context, accountID uuid.UUID, token string) error {
	_, err := a.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("account_id = ? AND token = ?", accountID, token).
		Exec(ctx)
	return err
}

func (a *accounts) PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("issued_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isUniqueViolation matches unique constraint errors across the dialects we
// run against (sqlite in dev/tests, postgres in production).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
