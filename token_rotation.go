package socialauth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// rotationTimeout bounds the store round trips of a single rotation.
const rotationTimeout = 10 * time.Second

// TokenRotator rotates and revokes refresh tokens against the bounded
// per-account token list.
type TokenRotator struct {
	tokens TokenService
	repo   RepositoryManager
	audit  AuditSink
	logger Logger
}

// TokenRotatorOption configures the rotator.
type TokenRotatorOption func(*TokenRotator)

// WithRotatorAuditSink sets the audit sink.
func WithRotatorAuditSink(sink AuditSink) TokenRotatorOption {
	return func(r *TokenRotator) {
		r.audit = sink
	}
}

// WithRotatorLogger sets the logger.
func WithRotatorLogger(logger Logger) TokenRotatorOption {
	return func(r *TokenRotator) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewTokenRotator creates a TokenRotator.
func NewTokenRotator(tokens TokenService, repo RepositoryManager, opts ...TokenRotatorOption) *TokenRotator {
	r := &TokenRotator{
		tokens: tokens,
		repo:   repo,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.audit = NormalizeAuditSink(r.audit)

	return r
}

// Rotate exchanges a presented refresh token for a fresh pair. The
// check-remove-append sequence runs in one transaction per account: a
// concurrent rotation with the same token loses the conditional delete and
// fails with ErrInvalidToken. Every outcome is audited.
func (r *TokenRotator) Rotate(ctx context.Context, presented string, meta RequestMeta) (*TokenPair, *Account, error) {
	ctx, cancel := context.WithTimeout(ctx, rotationTimeout)
	defer cancel()

	claims, err := r.tokens.ValidateRefresh(presented)
	if err != nil {
		r.recordRefresh(ctx, nil, meta, err)
		return nil, nil, ErrInvalidToken
	}

	accountID, err := uuid.Parse(claims.AccountID())
	if err != nil {
		r.recordRefresh(ctx, nil, meta, err)
		return nil, nil, ErrInvalidToken
	}

	account, err := r.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		r.recordRefresh(ctx, nil, meta, err)
		return nil, nil, ErrInvalidToken
	}

	var pair *TokenPair
	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		consumed, err := r.repo.Accounts().ConsumeRefreshTokenTx(ctx, tx, account.ID, presented)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume refresh token")
		}
		if !consumed {
			// Reuse detection: the token was already rotated or revoked.
			return ErrInvalidToken
		}

		pair, err = r.tokens.IssuePair(NewIdentityFromAccount(account))
		if err != nil {
			return err
		}

		return r.repo.Accounts().StoreRefreshTokenTx(ctx, tx, account.ID, pair.RefreshToken, time.Now())
	})
	if err != nil {
		r.recordRefresh(ctx, account, meta, err)
		if goerrors.Is(err, ErrInvalidToken) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, WrapPersistence(err, "token rotation failed")
	}

	r.recordRefresh(ctx, account, meta, nil)

	return pair, account, nil
}

// Revoke removes exactly the presented refresh token from the account's
// list. Other live sessions keep their tokens.
func (r *TokenRotator) Revoke(ctx context.Context, accountID uuid.UUID, presented string) error {
	ctx, cancel := context.WithTimeout(ctx, rotationTimeout)
	defer cancel()

	if err := r.repo.Accounts().RemoveRefreshToken(ctx, accountID, presented); err != nil {
		return WrapPersistence(err, "failed to revoke refresh token")
	}

	return nil
}

func (r *TokenRotator) recordRefresh(ctx context.Context, account *Account, meta RequestMeta, cause error) {
	event := AuthEvent{
		Action:   AuditActionTokenRefresh,
		Provider: ProviderJWT,
		Success:  cause == nil,
	}
	if account != nil {
		id := account.ID
		event.AccountID = &id
	}
	if cause != nil {
		event.ErrorMessage = cause.Error()
	}
	meta.Apply(&event)

	_ = r.audit.Record(ctx, event)
}
