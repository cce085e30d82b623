package socialauth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// PurgeAuditMessage triggers retention cleanup: auth events older than the
// TTL and refresh token rows past their lifetime.
type PurgeAuditMessage struct {
	// Now anchors the cutoffs; zero means time.Now(). Set by tests.
	Now time.Time `json:"now,omitempty"`
}

func (e PurgeAuditMessage) Type() string { return "audit.purge" }

// PurgeAuditHandler enforces the retention windows. There is no background
// scheduler in the package; deployments run this from cron or a ticker.
type PurgeAuditHandler struct {
	repo   RepositoryManager
	logger Logger
}

// NewPurgeAuditHandler creates the handler.
func NewPurgeAuditHandler(repo RepositoryManager, logger Logger) *PurgeAuditHandler {
	if logger == nil {
		logger = defLogger{}
	}
	return &PurgeAuditHandler{repo: repo, logger: logger}
}

// Execute removes expired audit events and stale refresh tokens.
func (h *PurgeAuditHandler) Execute(ctx context.Context, event PurgeAuditMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during audit purge",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *PurgeAuditHandler) execute(ctx context.Context, event PurgeAuditMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	now := event.Now
	if now.IsZero() {
		now = time.Now()
	}

	events, err := h.repo.AuthEvents().PurgeExpired(ctx, now.Add(-AuditTTL))
	if err != nil {
		return WrapPersistence(err, "failed to purge auth events")
	}

	tokens, err := h.repo.Accounts().PruneRefreshTokens(ctx, now.Add(-DefaultRefreshTokenTTL))
	if err != nil {
		return WrapPersistence(err, "failed to prune refresh tokens")
	}

	h.logger.Info("retention purge complete", "events_removed", events, "tokens_removed", tokens)

	return nil
}
