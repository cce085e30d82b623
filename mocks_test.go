package socialauth_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	socialauth "github.com/socialauth/go-socialauth"
	"github.com/uptrace/bun"
)

// stubLogger records log lines so tests can assert on them.
type stubLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubLogger) log(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, format)
}

func (l *stubLogger) Debug(format string, args ...any) { l.log(format) }
func (l *stubLogger) Info(format string, args ...any)  { l.log(format) }
func (l *stubLogger) Error(format string, args ...any) { l.log(format) }

func (l *stubLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// memoryAccounts is an in-memory Accounts double. The embedded interface
// covers the repository surface the tests never touch.
type memoryAccounts struct {
	socialauth.Accounts

	mu       sync.Mutex
	accounts map[uuid.UUID]*socialauth.Account
	tokens   map[uuid.UUID][]*socialauth.RefreshToken

	storeErr   error
	consumeErr error
	getErr     error
	logins     int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		accounts: make(map[uuid.UUID]*socialauth.Account),
		tokens:   make(map[uuid.UUID][]*socialauth.RefreshToken),
	}
}

func (m *memoryAccounts) add(account *socialauth.Account) *socialauth.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	m.accounts[account.ID] = account
	return account
}

func (m *memoryAccounts) GetByID(ctx context.Context, id uuid.UUID) (*socialauth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	account, ok := m.accounts[id]
	if !ok {
		return nil, socialauth.ErrAccountNotFound
	}
	return account, nil
}

func (m *memoryAccounts) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*socialauth.Account, error) {
	return m.GetByID(ctx, id)
}

func (m *memoryAccounts) GetByEmail(ctx context.Context, email string) (*socialauth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = socialauth.NormalizeEmail(email)
	for _, account := range m.accounts {
		if account.Email != "" && account.Email == email {
			return account, nil
		}
	}
	return nil, socialauth.ErrAccountNotFound
}

func (m *memoryAccounts) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*socialauth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByIdentityLocked(provider, providerUserID)
}

func (m *memoryAccounts) findByIdentityLocked(provider, providerUserID string) (*socialauth.Account, error) {
	for _, account := range m.accounts {
		for _, identity := range account.Identities {
			if identity.Provider == provider && identity.ProviderUserID == providerUserID {
				return account, nil
			}
		}
	}
	return nil, socialauth.ErrAccountNotFound
}

func (m *memoryAccounts) CreateWithIdentity(ctx context.Context, account *socialauth.Account, provider, providerUserID string) (*socialauth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.findByIdentityLocked(provider, providerUserID); err == nil {
		return nil, socialauth.ErrIdentityConflict
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = socialauth.NormalizeEmail(account.Email)
	if account.Role == "" {
		account.Role = socialauth.RoleUser
	}
	account.Identities = append(account.Identities, &socialauth.ProviderIdentity{
		ID:             uuid.New(),
		AccountID:      account.ID,
		Provider:       provider,
		ProviderUserID: providerUserID,
	})
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memoryAccounts) LinkIdentity(ctx context.Context, accountID uuid.UUID, provider, providerUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.findByIdentityLocked(provider, providerUserID); err == nil {
		return socialauth.ErrIdentityConflict
	}

	account, ok := m.accounts[accountID]
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

func (m *memoryAccounts) UnlinkIdentity(ctx context.Context, accountID uuid.UUID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
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

func (m *memoryAccounts) TrackSuccessfulLogin(ctx context.Context, account *socialauth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins++
	now := time.Now()
	account.LastLoginAt = &now
	return nil
}

func (m *memoryAccounts) UpdateProfile(ctx context.Context, accountID uuid.UUID, name, avatarURL string) (*socialauth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, socialauth.ErrAccountNotFound
	}
	if name != "" {
		account.Name = name
	}
	if avatarURL != "" {
		account.AvatarURL = avatarURL
	}
	return account, nil
}

func (m *memoryAccounts) StoreRefreshToken(ctx context.Context, accountID uuid.UUID, token string, issuedAt time.Time) error {
	return m.StoreRefreshTokenTx(ctx, nil, accountID, token, issuedAt)
}

func (m *memoryAccounts) StoreRefreshTokenTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, token string, issuedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.storeErr != nil {
		return m.storeErr
	}

	m.tokens[accountID] = append(m.tokens[accountID], &socialauth.RefreshToken{
		ID:        uuid.New(),
		AccountID: accountID,
		Token:     token,
		IssuedAt:  issuedAt,
	})
	if extra := len(m.tokens[accountID]) - socialauth.MaxRefreshTokens; extra > 0 {
		m.tokens[accountID] = m.tokens[accountID][extra:]
	}
	return nil
}

func (m *memoryAccounts) ConsumeRefreshToken(ctx context.Context, accountID uuid.UUID, token string) (bool, error) {
	return m.ConsumeRefreshTokenTx(ctx, nil, accountID, token)
}

func (m *memoryAccounts) ConsumeRefreshTokenTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consumeErr != nil {
		return false, m.consumeErr
	}

	list := m.tokens[accountID]
	for i, stored := range list {
		if stored.Token == token {
			m.tokens[accountID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAccounts) RemoveRefreshToken(ctx context.Context, accountID uuid.UUID, token string) error {
	_, err := m.ConsumeRefreshToken(ctx, accountID, token)
	return err
}

func (m *memoryAccounts) PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned int64
	for accountID, list := range m.tokens {
		kept := list[:0]
		for _, stored := range list {
			if stored.IssuedAt.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, stored)
		}
		m.tokens[accountID] = kept
	}
	return pruned, nil
}

func (m *memoryAccounts) tokenCount(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens[accountID])
}

// memoryAuthEvents records audit events in memory.
type memoryAuthEvents struct {
	socialauth.AuthEvents

	mu        sync.Mutex
	events    []*socialauth.AuthEvent
	createErr error
}

func newMemoryAuthEvents() *memoryAuthEvents {
	return &memoryAuthEvents{}
}

func (m *memoryAuthEvents) Create(ctx context.Context, record *socialauth.AuthEvent, criteria ...repository.InsertCriteria) (*socialauth.AuthEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
	m.events = append(m.events, record)
	return record, nil
}

func (m *memoryAuthEvents) ListRecentByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*socialauth.AuthEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []*socialauth.AuthEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		event := m.events[i]
		if event.AccountID != nil && *event.AccountID == accountID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *memoryAuthEvents) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	kept := m.events[:0]
	for _, event := range m.events {
		if event.CreatedAt != nil && event.CreatedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, event)
	}
	m.events = kept
	return purged, nil
}

func (m *memoryAuthEvents) recorded() []*socialauth.AuthEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*socialauth.AuthEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *memoryAuthEvents) lastEvent() *socialauth.AuthEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

// stubRepo wires the in-memory doubles into a RepositoryManager.
type stubRepo struct {
	accounts *memoryAccounts
	events   *memoryAuthEvents
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts: newMemoryAccounts(),
		events:   newMemoryAuthEvents(),
	}
}

func (r *stubRepo) Validate() error { return nil }
func (r *stubRepo) MustValidate()   {}

func (r *stubRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (r *stubRepo) Accounts() socialauth.Accounts     { return r.accounts }
func (r *stubRepo) AuthEvents() socialauth.AuthEvents { return r.events }
