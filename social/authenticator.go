package social

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/socialauth/go-socialauth"
)

// Authenticator orchestrates the two legs of a social login: issuing the
// guarded redirect, and turning the provider callback into a local session.
type Authenticator struct {
	providers map[string]Provider
	state     *StateGuard
	resolver  *IdentityResolver
	tokens    socialauth.TokenService
	repo      socialauth.RepositoryManager
	audit     socialauth.AuditSink
	logger    socialauth.Logger
	config    AuthConfig
}

// AuthConfig configures the social authenticator.
type AuthConfig struct {
	// DefaultReturnTo is the post-login destination when the begin leg did
	// not name one.
	DefaultReturnTo string

	// StateTTL bounds how long a handshake may stay open.
	StateTTL time.Duration

	// RequireVerifiedEmail refuses profiles with unverified emails.
	RequireVerifiedEmail bool

	// DefaultRole for accounts created on first login.
	DefaultRole string
}

// AuthOption configures the authenticator.
type AuthOption func(*Authenticator)

// WithProvider registers a social provider.
func WithProvider(provider Provider) AuthOption {
	return func(sa *Authenticator) {
		if provider == nil {
			return
		}
		sa.providers[provider.Name()] = provider
	}
}

// WithStateGuard sets a custom state guard.
func WithStateGuard(guard *StateGuard) AuthOption {
	return func(sa *Authenticator) {
		sa.state = guard
	}
}

// WithResolver sets a custom identity resolver.
func WithResolver(resolver *IdentityResolver) AuthOption {
	return func(sa *Authenticator) {
		sa.resolver = resolver
	}
}

// WithAuditSink sets the audit sink.
func WithAuditSink(sink socialauth.AuditSink) AuthOption {
	return func(sa *Authenticator) {
		sa.audit = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger socialauth.Logger) AuthOption {
	return func(sa *Authenticator) {
		if logger != nil {
			sa.logger = logger
		}
	}
}

// NewAuthenticator creates a social authenticator.
func NewAuthenticator(
	repo socialauth.RepositoryManager,
	tokens socialauth.TokenService,
	config AuthConfig,
	opts ...AuthOption,
) *Authenticator {
	cfg := config
	if cfg.StateTTL == 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.DefaultReturnTo == "" {
		cfg.DefaultReturnTo = "/"
	}

	sa := &Authenticator{
		providers: make(map[string]Provider),
		repo:      repo,
		tokens:    tokens,
		logger:    socialauth.DefaultLogger(),
		config:    cfg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sa)
		}
	}

	if sa.state == nil {
		sa.state = NewStateGuard(NewMemoryStateStore(), cfg.StateTTL)
	}

	if sa.resolver == nil {
		resolverOpts := []IdentityResolverOption{
			WithRequireVerifiedEmail(cfg.RequireVerifiedEmail),
		}
		if role, ok := socialauth.ParseRole(cfg.DefaultRole); ok {
			resolverOpts = append(resolverOpts, WithDefaultRole(role))
		}
		sa.resolver = NewIdentityResolver(repo, resolverOpts...)
	}

	sa.audit = socialauth.NormalizeAuditSink(sa.audit)

	return sa
}

// BeginAuth starts the OAuth flow for a provider and returns the guarded
// redirect. The state handle returned here must come back unchanged on the
// callback leg.
func (sa *Authenticator) BeginAuth(
	ctx context.Context,
	providerName string,
	opts ...BeginAuthOption,
) (*AuthRedirect, error) {
	provider, ok := sa.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}

	cfg := &beginAuthConfig{
		action:   ActionLogin,
		returnTo: sa.config.DefaultReturnTo,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	codeChallenge := computeCodeChallenge(codeVerifier)

	state, err := sa.state.Issue(StateBinding{
		Provider:      providerName,
		CodeVerifier:  codeVerifier,
		ReturnTo:      cfg.returnTo,
		Action:        cfg.action,
		LinkAccountID: cfg.linkAccountID,
	})
	if err != nil {
		return nil, err
	}

	authURL := provider.AuthCodeURL(state, WithPKCE(codeChallenge, "S256"))

	return &AuthRedirect{
		URL:      authURL,
		State:    state,
		Provider: providerName,
		ReturnTo: cfg.returnTo,
	}, nil
}

// CompleteAuth finishes the OAuth flow after the provider callback. The
// state is consumed before anything else touches the network, so a replayed
// callback dies without a provider round trip.
func (sa *Authenticator) CompleteAuth(
	ctx context.Context,
	providerName string,
	code string,
	state string,
	meta socialauth.RequestMeta,
) (*AuthResult, error) {
	binding, err := sa.state.Consume(state, providerName)
	if err != nil {
		sa.recordFailure(ctx, providerName, meta, err)
		return nil, err
	}

	provider, ok := sa.providers[providerName]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
		sa.recordFailure(ctx, providerName, meta, err)
		return nil, err
	}

	token, err := provider.Exchange(ctx, code, WithCodeVerifier(binding.CodeVerifier))
	if err != nil {
		wrapped := wrapProviderError(ErrTokenExchangeFailed, providerName, "exchange", err)
		sa.recordFailure(ctx, providerName, meta, wrapped)
		return nil, wrapped
	}

	profile, err := provider.UserInfo(ctx, token)
	if err != nil {
		wrapped := wrapProviderError(ErrUserInfoFailed, providerName, "user_info", err)
		sa.recordFailure(ctx, providerName, meta, wrapped)
		return nil, wrapped
	}
	if profile != nil && profile.Provider == "" {
		profile.Provider = providerName
	}

	resolution, err := sa.resolver.Resolve(ctx, profile, ResolveIntent{
		Action:        binding.Action,
		LinkAccountID: binding.LinkAccountID,
	})
	if err != nil {
		sa.recordFailure(ctx, providerName, meta, err)
		return nil, err
	}

	account := resolution.Account

	if err := sa.repo.Accounts().TrackSuccessfulLogin(ctx, account); err != nil {
		sa.logger.Error("failed to track login", "account_id", account.ID, "error", err)
	}

	pair, err := sa.tokens.IssuePair(socialauth.NewIdentityFromAccount(account))
	if err != nil {
		sa.recordFailure(ctx, providerName, meta, err)
		return nil, err
	}

	if err := sa.repo.Accounts().StoreRefreshToken(ctx, account.ID, pair.RefreshToken, time.Now()); err != nil {
		wrapped := socialauth.WrapPersistence(err, "failed to store refresh token")
		sa.recordFailure(ctx, providerName, meta, wrapped)
		return nil, wrapped
	}

	sa.recordSuccess(ctx, providerName, account, resolution, meta)

	return &AuthResult{
		Account:      account,
		Pair:         pair,
		IsNewAccount: resolution.IsNewAccount,
		Linked:       resolution.Linked,
		Provider:     providerName,
		Profile:      profile,
		ReturnTo:     binding.ReturnTo,
	}, nil
}

// Unlink removes a provider identity from the account, with the last
// provider guard enforced by the resolver.
func (sa *Authenticator) Unlink(ctx context.Context, accountID string, providerName string, meta socialauth.RequestMeta) (*socialauth.Account, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, socialauth.ErrValidation
	}

	account, err := sa.resolver.Unlink(ctx, id, providerName)

	event := socialauth.AuthEvent{
		Action:   socialauth.AuditActionUnlink,
		Provider: providerName,
		Success:  err == nil,
	}
	if account != nil {
		id := account.ID
		event.AccountID = &id
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	meta.Apply(&event)
	_ = sa.audit.Record(ctx, event)

	return account, err
}

// AccountByID loads an account with its linked identities.
func (sa *Authenticator) AccountByID(ctx context.Context, accountID string) (*socialauth.Account, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, socialauth.ErrValidation
	}
	return sa.repo.Accounts().GetByID(ctx, id)
}

// ListProviders returns all registered providers.
func (sa *Authenticator) ListProviders() []ProviderInfo {
	var providers []ProviderInfo
	for name := range sa.providers {
		providers = append(providers, ProviderInfo{
			Name:     name,
			BeginURL: "/auth/social/" + name,
		})
	}
	return providers
}

// HasProvider reports whether a provider is registered.
func (sa *Authenticator) HasProvider(name string) bool {
	_, ok := sa.providers[name]
	return ok
}

func (sa *Authenticator) recordSuccess(ctx context.Context, provider string, account *socialauth.Account, resolution *Resolution, meta socialauth.RequestMeta) {
	action := socialauth.AuditActionLogin
	if resolution.Linked {
		action = socialauth.AuditActionLink
	}

	id := account.ID
	event := socialauth.AuthEvent{
		AccountID: &id,
		Action:    action,
		Provider:  provider,
		Success:   true,
	}
	meta.Apply(&event)
	_ = sa.audit.Record(ctx, event)
}

func (sa *Authenticator) recordFailure(ctx context.Context, provider string, meta socialauth.RequestMeta, cause error) {
	event := socialauth.AuthEvent{
		Action:       socialauth.AuditActionFailedLogin,
		Provider:     provider,
		Success:      false,
		ErrorMessage: cause.Error(),
	}
	meta.Apply(&event)
	_ = sa.audit.Record(ctx, event)
}

// ProviderInfo describes an available provider.
type ProviderInfo struct {
	Name     string `json:"name"`
	BeginURL string `json:"begin_url"`
}

// AuthRedirect contains the authorization URL for redirecting users.
type AuthRedirect struct {
	URL      string
	State    string
	Provider string
	ReturnTo string
}

// AuthResult contains the result of a successful authentication.
type AuthResult struct {
	Account      *socialauth.Account
	Pair         *socialauth.TokenPair
	IsNewAccount bool
	Linked       bool
	Provider     string
	Profile      *Profile
	ReturnTo     string
}

// BeginAuthOption configures the auth initiation.
type BeginAuthOption func(*beginAuthConfig)

type beginAuthConfig struct {
	action        string
	returnTo      string
	linkAccountID string
}

// ForAction sets the auth action (login, link).
func ForAction(action string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		c.action = action
	}
}

// WithReturnTo sets the post-auth destination.
func WithReturnTo(url string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		if url != "" {
			c.returnTo = url
		}
	}
}

// ForLinkingAccount sets the account ID for provider linking.
func ForLinkingAccount(accountID string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		c.linkAccountID = accountID
		c.action = ActionLink
	}
}
