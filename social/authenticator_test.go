package social

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/socialauth/go-socialauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens() socialauth.TokenService {
	return socialauth.NewTokenService(
		[]byte("access-signing-key"),
		[]byte("refresh-signing-key"),
		"test-issuer",
		jwt.ClaimStrings{"test-audience"},
	)
}

type authFixture struct {
	repo          *stubRepoManager
	provider      *stubProvider
	sink          *recordingSink
	authenticator *Authenticator
}

func newAuthFixture(opts ...AuthOption) *authFixture {
	repo := newStubRepoManager()
	provider := &stubProvider{
		name:    "stub",
		authURL: "https://provider.example.com/authorize",
		profile: testProfile(),
	}
	sink := &recordingSink{}

	base := []AuthOption{
		WithProvider(provider),
		WithAuditSink(sink),
	}

	authenticator := NewAuthenticator(repo, newTestTokens(), AuthConfig{
		DefaultReturnTo: "/home",
		StateTTL:        time.Minute,
	}, append(base, opts...)...)

	return &authFixture{
		repo:          repo,
		provider:      provider,
		sink:          sink,
		authenticator: authenticator,
	}
}

func TestBeginAuthUnknownProvider(t *testing.T) {
	fixture := newAuthFixture()

	_, err := fixture.authenticator.BeginAuth(context.Background(), "github")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestBeginAuthIssuesGuardedRedirect(t *testing.T) {
	fixture := newAuthFixture()

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	assert.Equal(t, "stub", redirect.Provider)
	assert.Equal(t, "/home", redirect.ReturnTo)
	require.NotEmpty(t, redirect.State)
	assert.True(t, strings.Contains(redirect.URL, redirect.State))

	// PKCE travels to the provider as an S256 challenge
	assert.Equal(t, "S256", fixture.provider.lastAuthCfg.CodeChallengeMethod)
	assert.NotEmpty(t, fixture.provider.lastAuthCfg.CodeChallenge)
}

func TestBeginAuthOptions(t *testing.T) {
	fixture := newAuthFixture()

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub",
		WithReturnTo("/settings"),
		ForLinkingAccount("11111111-2222-3333-4444-555555555555"),
	)
	require.NoError(t, err)
	assert.Equal(t, "/settings", redirect.ReturnTo)
}

func TestCompleteAuthFirstLogin(t *testing.T) {
	fixture := newAuthFixture()

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	meta := socialauth.RequestMeta{IPAddress: "127.0.0.1", CorrelationID: "corr-login"}
	result, err := fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, meta)
	require.NoError(t, err)

	assert.True(t, result.IsNewAccount)
	assert.Equal(t, "/home", result.ReturnTo)
	assert.Equal(t, "stub", result.Provider)
	require.NotNil(t, result.Pair)
	assert.NotEmpty(t, result.Pair.AccessToken)

	account := result.Account
	assert.Equal(t, "person@example.com", account.Email)
	assert.True(t, account.HasProvider("stub"))
	assert.NotNil(t, account.LastLoginAt)

	// the refresh token was persisted for rotation
	stored := fixture.repo.accounts.storedTokens(account.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, result.Pair.RefreshToken, stored[0])

	// PKCE verifier went back to the provider on the exchange leg
	assert.NotEmpty(t, fixture.provider.lastExchange.CodeVerifier)
	assert.Equal(t, "auth-code", fixture.provider.lastCode)

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionLogin, event.Action)
	assert.Equal(t, "stub", event.Provider)
	assert.True(t, event.Success)
	assert.Equal(t, "corr-login", event.CorrelationID)
}

func TestCompleteAuthReturningLogin(t *testing.T) {
	fixture := newAuthFixture()
	existing := fixture.repo.accounts.add(&socialauth.Account{
		Email: "person@example.com",
		Role:  socialauth.RoleUser,
		Identities: []*socialauth.ProviderIdentity{
			{Provider: "stub", ProviderUserID: "stub-1"},
		},
	})

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	result, err := fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, socialauth.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, result.IsNewAccount)
	assert.Equal(t, existing.ID, result.Account.ID)
}

func TestCompleteAuthRejectsReplayedState(t *testing.T) {
	fixture := newAuthFixture()

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	_, err = fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, socialauth.RequestMeta{})
	require.NoError(t, err)

	fixture.provider.lastCode = ""

	_, err = fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, socialauth.RequestMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, socialauth.ErrStateMismatch)

	// the replay died before any provider round trip
	assert.Empty(t, fixture.provider.lastCode)

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionFailedLogin, event.Action)
	assert.False(t, event.Success)
	assert.NotEmpty(t, event.ErrorMessage)
}

func TestCompleteAuthRejectsForeignState(t *testing.T) {
	fixture := newAuthFixture()

	_, err := fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", "forged-state", socialauth.RequestMeta{})
	assert.ErrorIs(t, err, socialauth.ErrStateMismatch)
}

func TestCompleteAuthExchangeFailure(t *testing.T) {
	fixture := newAuthFixture()
	fixture.provider.exchangeErr = &ProviderError{
		Provider:  "stub",
		Operation: "exchange",
		Status:    400,
		Code:      "invalid_grant",
	}

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	_, err = fixture.authenticator.CompleteAuth(context.Background(), "stub", "bad-code", redirect.State, socialauth.RequestMeta{})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, TextCodeTokenExchangeFail, richErr.TextCode)
	assert.Equal(t, "stub", richErr.Metadata["provider"])

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionFailedLogin, event.Action)
}

func TestCompleteAuthUserInfoFailure(t *testing.T) {
	fixture := newAuthFixture()
	fixture.provider.userInfoErr = errors.New("profile endpoint unavailable")

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	_, err = fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, socialauth.RequestMeta{})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, TextCodeUserInfoFail, richErr.TextCode)
}

func TestCompleteAuthStoreFailure(t *testing.T) {
	fixture := newAuthFixture()
	fixture.repo.accounts.storeErr = errors.New("disk full")

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub")
	require.NoError(t, err)

	_, err = fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, socialauth.RequestMeta{})
	require.Error(t, err)

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionFailedLogin, event.Action)
}

func TestCompleteAuthLinkFlow(t *testing.T) {
	fixture := newAuthFixture()
	account := fixture.repo.accounts.add(&socialauth.Account{
		Email: "person@example.com",
		Identities: []*socialauth.ProviderIdentity{
			{Provider: "google", ProviderUserID: "g-9"},
		},
	})

	redirect, err := fixture.authenticator.BeginAuth(context.Background(), "stub",
		ForLinkingAccount(account.ID.String()),
	)
	require.NoError(t, err)

	result, err := fixture.authenticator.CompleteAuth(context.Background(), "stub", "auth-code", redirect.State, socialauth.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, result.Linked)
	assert.True(t, result.Account.HasProvider("stub"))

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionLink, event.Action)
	assert.True(t, event.Success)
}

func TestUnlinkAudits(t *testing.T) {
	fixture := newAuthFixture()
	account := fixture.repo.accounts.add(&socialauth.Account{
		Email: "person@example.com",
		Identities: []*socialauth.ProviderIdentity{
			{Provider: "google", ProviderUserID: "g-9"},
			{Provider: "stub", ProviderUserID: "stub-1"},
		},
	})

	updated, err := fixture.authenticator.Unlink(context.Background(), account.ID.String(), "stub", socialauth.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, updated.HasProvider("stub"))

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionUnlink, event.Action)
	assert.Equal(t, "stub", event.Provider)
	assert.True(t, event.Success)
}

func TestUnlinkLastProviderAuditsFailure(t *testing.T) {
	fixture := newAuthFixture()
	account := fixture.repo.accounts.add(&socialauth.Account{
		Email: "person@example.com",
		Identities: []*socialauth.ProviderIdentity{
			{Provider: "stub", ProviderUserID: "stub-1"},
		},
	})

	_, err := fixture.authenticator.Unlink(context.Background(), account.ID.String(), "stub", socialauth.RequestMeta{})
	assert.ErrorIs(t, err, socialauth.ErrLastProvider)

	event := fixture.sink.last()
	require.NotNil(t, event)
	assert.Equal(t, socialauth.AuditActionUnlink, event.Action)
	assert.False(t, event.Success)
}

func TestUnlinkRejectsBadAccountID(t *testing.T) {
	fixture := newAuthFixture()

	_, err := fixture.authenticator.Unlink(context.Background(), "not-a-uuid", "stub", socialauth.RequestMeta{})
	assert.ErrorIs(t, err, socialauth.ErrValidation)
}

func TestListProviders(t *testing.T) {
	fixture := newAuthFixture()

	providers := fixture.authenticator.ListProviders()
	require.Len(t, providers, 1)
	assert.Equal(t, "stub", providers[0].Name)
	assert.Equal(t, "/auth/social/stub", providers[0].BeginURL)

	assert.True(t, fixture.authenticator.HasProvider("stub"))
	assert.False(t, fixture.authenticator.HasProvider("github"))
}
