package socialauth

import "github.com/goliatone/go-errors"

const (
	TextCodeStateMismatch    = "auth_state_mismatch"
	TextCodeStateExpired     = "auth_state_expired"
	TextCodeValidation       = "auth_validation_failed"
	TextCodeDuplicateLink    = "auth_provider_already_linked"
	TextCodeLastProvider     = "auth_last_provider"
	TextCodeNotLinked        = "auth_provider_not_linked"
	TextCodeInvalidToken     = "auth_invalid_token"
	TextCodeAccountNotFound  = "auth_account_not_found"
	TextCodeIdentityConflict = "auth_identity_conflict"
	TextCodePersistence      = "auth_persistence_failed"
)

// ErrStateMismatch is returned when the presented handshake state does not
// match the stored binding, or the binding was already consumed.
var ErrStateMismatch = errors.New("oauth state mismatch", errors.CategoryBadInput).
	WithTextCode(TextCodeStateMismatch).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the handshake state binding outlived its TTL.
var ErrStateExpired = errors.New("oauth state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// ErrValidation is returned for malformed input.
var ErrValidation = errors.New("invalid input", errors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(errors.CodeBadRequest)

// ErrDuplicateLink is returned when linking a provider that is already
// linked to the account.
var ErrDuplicateLink = errors.New("provider already linked", errors.CategoryValidation).
	WithTextCode(TextCodeDuplicateLink).
	WithCode(errors.CodeBadRequest)

// ErrLastProvider is returned when unlinking would leave the account with
// no identity provider at all.
var ErrLastProvider = errors.New("cannot unlink last authentication method", errors.CategoryValidation).
	WithTextCode(TextCodeLastProvider).
	WithCode(errors.CodeBadRequest)

// ErrNotLinked is returned when unlinking a provider the account never linked.
var ErrNotLinked = errors.New("provider not linked", errors.CategoryValidation).
	WithTextCode(TextCodeNotLinked).
	WithCode(errors.CodeBadRequest)

// ErrInvalidToken covers bad, expired, reused, and absent tokens.
var ErrInvalidToken = errors.New("invalid or expired token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(errors.CodeUnauthorized)

// ErrAccountNotFound is returned when an account lookup comes back empty.
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(errors.CodeNotFound)

// ErrIdentityConflict signals a (provider, provider id) uniqueness violation
// during account creation. Resolvers treat it as "fetch existing", never as
// a terminal failure.
var ErrIdentityConflict = errors.New("provider identity already claimed", errors.CategoryConflict).
	WithTextCode(TextCodeIdentityConflict).
	WithCode(errors.CodeConflict)

// ErrPersistence wraps store failures. The client-facing message stays
// generic; detail travels in the correlation-tagged log entry.
var ErrPersistence = errors.New("persistence operation failed", errors.CategoryInternal).
	WithTextCode(TextCodePersistence).
	WithCode(errors.CodeInternal)

// WrapPersistence attaches the source error to ErrPersistence.
func WrapPersistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.CategoryInternal, msg).
		WithTextCode(TextCodePersistence).
		WithCode(errors.CodeInternal)
}
