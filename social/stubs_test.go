package social

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/socialauth/go-socialauth"
	"github.com/uptrace/bun"
)

// stubAccounts is an in-memory accounts double. The embedded interface
// covers methods the tests never reach.
type stubAccounts struct {
	socialauth.Accounts

	mu       sync.Mutex
	accounts map[uuid.UUID]*socialauth.Account
	tokens   map[uuid.UUID][]string

	linkErr   error
	createErr error
	storeErr  error
	logins    int

	// identityMisses forces the next N provider identity lookups to miss,
	// simulating a row that lands between the lookup and the insert.
	identityMisses int
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{
		accounts: make(map[uuid.UUID]*socialauth.Account),
		tokens:   make(map[uuid.UUID][]string),
	}
}

func (s *stubAccounts) add(account *socialauth.Account) *socialauth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	s.accounts[account.ID] = account
	return account
}

func (s *stubAccounts) GetByID(ctx context.Context, id uuid.UUID) (*socialauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		return account, nil
	}
	return nil, socialauth.ErrAccountNotFound
}

func (s *stubAccounts) GetByEmail(ctx context.Context, email string) (*socialauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = socialauth.NormalizeEmail(email)
	for _, account := range s.accounts {
		if account.Email != "" && account.Email == email {
			return account, nil
		}
	}
	return nil, socialauth.ErrAccountNotFound
}

func (s *stubAccounts) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*socialauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identityMisses > 0 {
		s.identityMisses--
		return nil, socialauth.ErrAccountNotFound
	}
	return s.findByIdentityLocked(provider, providerUserID)
}

func (s *stubAccounts) findByIdentityLocked(provider, providerUserID string) (*socialauth.Account, error) {
	for _, account := range s.accounts {
		for _, identity := range account.Identities {
			if identity.Provider == provider && identity.ProviderUserID == providerUserID {
				return account, nil
			}
		}
	}
	return nil, socialauth.ErrAccountNotFound
}

func (s *stubAccounts) CreateWithIdentity(ctx context.Context, account *socialauth.Account, provider, providerUserID string) (*socialauth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}
	if _, err := s.findByIdentityLocked(provider, providerUserID); err == nil {
		return nil, socialauth.ErrIdentityConflict
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Identities = append(account.Identities, &socialauth.ProviderIdentity{
		ID:             uuid.New(),
		AccountID:      account.ID,
		Provider:       provider,
		ProviderUserID: providerUserID,
	})
	s.accounts[account.ID] = account
	return account, nil
}

func (s *stubAccounts) LinkIdentity(ctx context.Context, accountID uuid.UUID, provider, providerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.linkErr != nil {
		return s.linkErr
	}
	if _, err := s.findByIdentityLocked(provider, providerUserID); err == nil {
		return socialauth.ErrIdentityConflict
	}

	account, ok := s.accounts[accountID]
	if !ok {
		return socialauth.ErrAccountNotFound
	}
	account.Identities = append(account.Identities, &socialauth.ProviderIdentity{
		ID:             uuid.New(),
		AccountID:      accountID,
		Provider:       provider,
		ProviderUserID: providerUserID,
	})
	return nil
}

func (s *stubAccounts) UnlinkIdentity(ctx context.Context, accountID uuid.UUID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return socialauth.ErrAccountNotFound
	}
	kept := account.Identities[:0]
	for _, identity := range account.Identities {
		if identity.Provider != provider {
			kept = append(kept, identity)
		}
	}
	account.Identities = kept
	return nil
}

func (s *stubAccounts) TrackSuccessfulLogin(ctx context.Context, account *socialauth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	now := time.Now()
	account.LastLoginAt = &now
	return nil
}

func (s *stubAccounts) StoreRefreshToken(ctx context.Context, accountID uuid.UUID, token string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.tokens[accountID] = append(s.tokens[accountID], token)
	return nil
}

func (s *stubAccounts) storedTokens(accountID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens[accountID]...)
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []socialauth.AuthEvent
}

func (s *recordingSink) Record(ctx context.Context, event socialauth.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) last() *socialauth.AuthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	event := s.events[len(s.events)-1]
	return &event
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// stubRepoManager satisfies socialauth.RepositoryManager for the social tests.
type stubRepoManager struct {
	accounts *stubAccounts
}

func newStubRepoManager() *stubRepoManager {
	return &stubRepoManager{accounts: newStubAccounts()}
}

func (r *stubRepoManager) Validate() error { return nil }
func (r *stubRepoManager) MustValidate()   {}

func (r *stubRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (r *stubRepoManager) Accounts() socialauth.Accounts     { return r.accounts }
func (r *stubRepoManager) AuthEvents() socialauth.AuthEvents { return nil }

// stubProvider is a scriptable Provider.
type stubProvider struct {
	name        string
	authURL     string
	token       *Token
	exchangeErr error
	profile     *Profile
	userInfoErr error

	lastState    string
	lastAuthCfg  AuthCodeConfig
	lastCode     string
	lastExchange ExchangeConfig
}

func (p *stubProvider) Name() string {
	if p.name == "" {
		return "stub"
	}
	return p.name
}

func (p *stubProvider) AuthCodeURL(state string, opts ...AuthCodeOption) string {
	p.lastState = state
	p.lastAuthCfg = ApplyAuthCodeOptions(nil, opts...)
	return p.authURL + "?state=" + state
}

func (p *stubProvider) Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error) {
	p.lastCode = code
	p.lastExchange = ApplyExchangeOptions(opts...)
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	if p.token != nil {
		return p.token, nil
	}
	return &Token{AccessToken: "provider-access-token"}, nil
}

func (p *stubProvider) UserInfo(ctx context.Context, token *Token) (*Profile, error) {
	if p.userInfoErr != nil {
		return nil, p.userInfoErr
	}
	return p.profile, nil
}

func testProfile() *Profile {
	return &Profile{
		ProviderUserID: "stub-1",
		Provider:       "stub",
		Email:          "person@example.com",
		EmailVerified:  true,
		Name:           "Person",
		AvatarURL:      "https://example.com/avatar.png",
	}
}
