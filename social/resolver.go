package social

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/socialauth/go-socialauth"
)

// Actions.
const (
	ActionLogin = "login"
	ActionLink  = "link"
)

// ResolveIntent carries what the handshake was started for.
type ResolveIntent struct {
	Action        string
	LinkAccountID string
}

// Resolution is the outcome of mapping a provider profile to an account.
type Resolution struct {
	Account       *socialauth.Account
	IsNewAccount  bool
	Linked        bool
	MergedByEmail bool
}

// IdentityResolver maps verified provider profiles to local accounts. The
// precedence is fixed: explicit link request, then provider identity match,
// then email merge, then account creation.
type IdentityResolver struct {
	repo                 socialauth.RepositoryManager
	logger               socialauth.Logger
	requireVerifiedEmail bool
	defaultRole          socialauth.AccountRole
}

// IdentityResolverOption configures the resolver.
type IdentityResolverOption func(*IdentityResolver)

// WithRequireVerifiedEmail rejects profiles whose email the provider has
// not verified.
func WithRequireVerifiedEmail(require bool) IdentityResolverOption {
	return func(r *IdentityResolver) {
		r.requireVerifiedEmail = require
	}
}

// WithDefaultRole sets the role new accounts start with.
func WithDefaultRole(role socialauth.AccountRole) IdentityResolverOption {
	return func(r *IdentityResolver) {
		if role != "" {
			r.defaultRole = role
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger socialauth.Logger) IdentityResolverOption {
	return func(r *IdentityResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewIdentityResolver creates a resolver over the repository manager.
func NewIdentityResolver(repo socialauth.RepositoryManager, opts ...IdentityResolverOption) *IdentityResolver {
	r := &IdentityResolver{
		repo:        repo,
		defaultRole: socialauth.RoleUser,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ValidateProfile checks the minimum a profile must carry to be resolvable.
func ValidateProfile(profile *Profile) error {
	if profile == nil {
		return socialauth.ErrValidation
	}

	return validation.ValidateStruct(profile,
		validation.Field(&profile.Provider, validation.Required),
		validation.Field(&profile.ProviderUserID, validation.Required),
		validation.Field(&profile.Email, is.Email),
	)
}

// Resolve maps the profile to an account following the fixed precedence.
// Two racing first logins for the same provider identity both converge on
// one account: the loser's create hits the uniqueness constraint and falls
// back to the winner's row.
func (r *IdentityResolver) Resolve(ctx context.Context, profile *Profile, intent ResolveIntent) (*Resolution, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid provider profile").
			WithTextCode(socialauth.TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if r.requireVerifiedEmail && profile.Email != "" && !profile.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if intent.Action == ActionLink && intent.LinkAccountID != "" {
		return r.resolveLink(ctx, profile, intent.LinkAccountID)
	}

	// Returning identity wins over everything else, including email matches
	// against a different account.
	account, err := r.repo.Accounts().GetByProviderIdentity(ctx, profile.Provider, profile.ProviderUserID)
	if err == nil {
		return &Resolution{Account: account}, nil
	}
	if !goerrors.Is(err, socialauth.ErrAccountNotFound) {
		return nil, socialauth.WrapPersistence(err, "provider identity lookup failed")
	}

	if profile.Email != "" {
		resolution, err := r.resolveByEmail(ctx, profile)
		if err != nil {
			return nil, err
		}
		if resolution != nil {
			return resolution, nil
		}
	}

	return r.resolveCreate(ctx, profile)
}

// Unlink removes a provider identity from an account. The account must keep
// at least one identity, otherwise it would become unreachable.
func (r *IdentityResolver) Unlink(ctx context.Context, accountID uuid.UUID, provider string) (*socialauth.Account, error) {
	account, err := r.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !account.HasProvider(provider) {
		return nil, socialauth.ErrNotLinked
	}

	if len(account.Identities) <= 1 {
		return nil, socialauth.ErrLastProvider
	}

	if err := r.repo.Accounts().UnlinkIdentity(ctx, accountID, provider); err != nil {
		return nil, socialauth.WrapPersistence(err, "failed to unlink provider")
	}

	return r.repo.Accounts().GetByID(ctx, accountID)
}

func (r *IdentityResolver) resolveLink(ctx context.Context, profile *Profile, linkAccountID string) (*Resolution, error) {
	accountID, err := uuid.Parse(linkAccountID)
	if err != nil {
		return nil, socialauth.ErrValidation
	}

	account, err := r.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.HasProvider(profile.Provider) {
		return nil, socialauth.ErrDuplicateLink
	}

	if err := r.repo.Accounts().LinkIdentity(ctx, accountID, profile.Provider, profile.ProviderUserID); err != nil {
		if goerrors.Is(err, socialauth.ErrIdentityConflict) {
			// The provider identity already belongs to some account.
			return nil, socialauth.ErrIdentityConflict
		}
		return nil, socialauth.WrapPersistence(err, "failed to link provider")
	}

	account, err = r.repo.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &Resolution{Account: account, Linked: true}, nil
}

// resolveByEmail merges the provider identity into an account that shares
// the profile email. Returns (nil, nil) when no account matches.
func (r *IdentityResolver) resolveByEmail(ctx context.Context, profile *Profile) (*Resolution, error) {
	account, err := r.repo.Accounts().GetByEmail(ctx, profile.Email)
	if err != nil {
		if goerrors.Is(err, socialauth.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, socialauth.WrapPersistence(err, "email lookup failed")
	}

	err = r.repo.Accounts().LinkIdentity(ctx, account.ID, profile.Provider, profile.ProviderUserID)
	if err != nil && !goerrors.Is(err, socialauth.ErrIdentityConflict) {
		return nil, socialauth.WrapPersistence(err, "failed to merge provider identity")
	}
	// A conflict here means a concurrent merge already attached the
	// identity; the login proceeds against the same account either way.

	account, err = r.repo.Accounts().GetByID(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	return &Resolution{Account: account, MergedByEmail: true}, nil
}

func (r *IdentityResolver) resolveCreate(ctx context.Context, profile *Profile) (*Resolution, error) {
	account := &socialauth.Account{
		Email:     socialauth.NormalizeEmail(profile.Email),
		Name:      displayName(profile),
		AvatarURL: profile.AvatarURL,
		Role:      r.defaultRole,
	}

	created, err := r.repo.Accounts().CreateWithIdentity(ctx, account, profile.Provider, profile.ProviderUserID)
	if err == nil {
		return &Resolution{Account: created, IsNewAccount: true}, nil
	}

	if !goerrors.Is(err, socialauth.ErrIdentityConflict) {
		return nil, socialauth.WrapPersistence(err, "account creation failed")
	}

	// Lost the creation race: the winner owns the identity row now, so this
	// login resolves as a returning user.
	existing, err := r.repo.Accounts().GetByProviderIdentity(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, socialauth.WrapPersistence(err, "post-conflict identity lookup failed")
	}

	return &Resolution{Account: existing}, nil
}

func displayName(profile *Profile) string {
	if profile.Name != "" {
		return profile.Name
	}
	if profile.Email != "" {
		return strings.Split(profile.Email, "@")[0]
	}
	return profile.Provider + "_" + profile.ProviderUserID
}
