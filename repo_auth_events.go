package socialauth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthEvents is the persistence surface for the append-only audit trail.
// Events are write-once; the only reads are bounded user-facing listings.
type AuthEvents interface {
	repository.Repository[*AuthEvent]

	ListRecentByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*AuthEvent, error)
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

type authEvents struct {
	repository.Repository[*AuthEvent]
	db *bun.DB
}

var _ AuthEvents = (*authEvents)(nil)

// NewAuthEventsRepository builds the bun backed AuthEvents repository.
func NewAuthEventsRepository(db *bun.DB) AuthEvents {
	repo := repository.NewRepository[*AuthEvent](db, repository.ModelHandlers[*AuthEvent]{
		NewRecord: func() *AuthEvent { return &AuthEvent{} },
		GetID: func(e *AuthEvent) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *AuthEvent, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
	})

	return &authEvents{
		Repository: repo,
		db:         db,
	}
}

// ListRecentByAccount returns the account's events, most recent first,
// capped at limit.
func (r *authEvents) ListRecentByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*AuthEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []*AuthEvent
	err := r.db.NewSelect().
		Model(&events).
		Where("account_id = ?", accountID).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return []*AuthEvent{}, nil
		}
		return nil, err
	}

	return events, nil
}

// PurgeExpired deletes events created before the cutoff. This is the TTL
// mechanism; there is no background task, callers schedule it.
func (r *authEvents) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*AuthEvent)(nil)).
		Where("created_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
