package social

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/socialauth/go-socialauth"
)

// DefaultStateTTL is how long an issued state binding stays valid.
const DefaultStateTTL = 10 * time.Minute

// StateBinding is the server-side record behind an issued state value. The
// state itself is an opaque random handle; everything the callback needs to
// finish the handshake lives here, never in the round trip.
type StateBinding struct {
	Provider      string
	CodeVerifier  string
	ReturnTo      string
	Action        string
	LinkAccountID string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the binding outlived its TTL at the given instant.
func (b StateBinding) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// StateStore holds state bindings between the begin and callback legs.
// Consume must be single-use: the second call for the same state misses.
type StateStore interface {
	Put(state string, binding StateBinding) error
	Consume(state string) (StateBinding, bool)
}

// MemoryStateStore is a mutex guarded in-memory StateStore. Expired entries
// are dropped lazily on access; abandoned handshakes are swept whenever a
// new state is issued.
type MemoryStateStore struct {
	mu       sync.Mutex
	bindings map[string]StateBinding
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		bindings: make(map[string]StateBinding),
	}
}

// Put stores the binding under the state handle.
func (s *MemoryStateStore) Put(state string, binding StateBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, b := range s.bindings {
		if b.Expired(now) {
			delete(s.bindings, key)
		}
	}

	s.bindings[state] = binding
	return nil
}

// Consume removes and returns the binding. A state can be consumed exactly
// once; replays and unknown states miss.
func (s *MemoryStateStore) Consume(state string) (StateBinding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	binding, ok := s.bindings[state]
	if !ok {
		return StateBinding{}, false
	}

	delete(s.bindings, state)
	return binding, true
}

// Len reports the number of live bindings. Used by tests and stats.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// StateGuard issues and verifies the CSRF state for OAuth handshakes. Each
// state is a one-shot random handle bound to a provider, a PKCE verifier,
// and the post-login destination.
type StateGuard struct {
	store StateStore
	ttl   time.Duration
}

// NewStateGuard creates a guard over the given store.
func NewStateGuard(store StateStore, ttl time.Duration) *StateGuard {
	if store == nil {
		store = NewMemoryStateStore()
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateGuard{store: store, ttl: ttl}
}

// Issue mints a fresh state handle and stores its binding.
func (g *StateGuard) Issue(binding StateBinding) (string, error) {
	state := generateNonce()

	now := time.Now()
	binding.IssuedAt = now
	binding.ExpiresAt = now.Add(g.ttl)

	if err := g.store.Put(state, binding); err != nil {
		return "", socialauth.WrapPersistence(err, "failed to store state binding")
	}

	return state, nil
}

// Consume validates and retires the state handle. Unknown or replayed
// states fail with ErrStateMismatch; stale ones with ErrStateExpired. A
// provider mismatch means the callback arrived on the wrong leg and also
// fails the handshake.
func (g *StateGuard) Consume(state, provider string) (StateBinding, error) {
	if state == "" {
		return StateBinding{}, socialauth.ErrStateMismatch
	}

	binding, ok := g.store.Consume(state)
	if !ok {
		return StateBinding{}, socialauth.ErrStateMismatch
	}

	if binding.Expired(time.Now()) {
		return StateBinding{}, socialauth.ErrStateExpired
	}

	if provider != "" && binding.Provider != provider {
		return StateBinding{}, socialauth.ErrStateMismatch
	}

	return binding, nil
}

func generateNonce() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
