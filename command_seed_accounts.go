package socialauth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

// SeedAccountMessage describes one account to provision. Seeded accounts
// get deterministic ids derived from the email, so re-running the seed is
// idempotent at the id level.
type SeedAccountMessage struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
}

func (e SeedAccountMessage) Type() string { return "account.seed" }

// SeedAccountsHandler provisions accounts with a linked provider identity.
type SeedAccountsHandler struct {
	repo   RepositoryManager
	logger Logger
}

// NewSeedAccountsHandler creates the handler.
func NewSeedAccountsHandler(repo RepositoryManager, logger Logger) *SeedAccountsHandler {
	if logger == nil {
		logger = defLogger{}
	}
	return &SeedAccountsHandler{repo: repo, logger: logger}
}

// Execute provisions one account. An account whose provider identity
// already exists is left untouched.
func (h *SeedAccountsHandler) Execute(ctx context.Context, event SeedAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account seeding",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SeedAccountsHandler) execute(ctx context.Context, event SeedAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	role, ok := ParseRole(event.Role)
	if !ok {
		role = RoleUser
	}

	account := &Account{
		Email: NormalizeEmail(event.Email),
		Name:  event.Name,
		Role:  role,
	}

	if id, err := hashid.NewUUID(event.Email); err == nil {
		account.ID = id
	}

	_, err := h.repo.Accounts().CreateWithIdentity(ctx, account, event.Provider, event.ProviderUserID)
	if err != nil {
		if goerrors.Is(err, ErrIdentityConflict) {
			h.logger.Info("seed account already exists", "email", event.Email, "provider", event.Provider)
			return nil
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "account seeding transaction failed")
	}

	h.logger.Info("seeded account", "email", event.Email, "provider", event.Provider, "id", account.ID)

	return nil
}
