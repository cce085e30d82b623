package mock

import (
	"context"
	"net/url"
	"time"

	"github.com/socialauth/go-socialauth/social"
)

// DefaultCode is the authorization code the provider accepts.
const DefaultCode = "mock-auth-code"

// Config holds the mock provider configuration. Instead of bouncing
// through an external consent screen, AuthCodeURL points straight back at
// the local callback with a canned code, which makes full end-to-end login
// flows runnable offline.
type Config struct {
	// CallbackURL is where AuthCodeURL sends the browser.
	CallbackURL string

	// Profile is returned from UserInfo. Zero fields fall back to a
	// stable default test identity.
	Profile social.Profile

	// FailExchange makes Exchange return an error.
	FailExchange bool

	// FailUserInfo makes UserInfo return an error.
	FailUserInfo bool
}

// Provider implements social.Provider without any network calls.
type Provider struct {
	config Config
}

// New creates a mock provider.
func New(cfg Config) *Provider {
	if cfg.Profile.ProviderUserID == "" {
		cfg.Profile.ProviderUserID = "mock-user-1"
	}
	if cfg.Profile.Email == "" {
		cfg.Profile.Email = "mock.user@example.com"
		cfg.Profile.EmailVerified = true
	}
	if cfg.Profile.Name == "" {
		cfg.Profile.Name = "Mock User"
	}
	cfg.Profile.Provider = "mock"

	return &Provider{config: cfg}
}

// Name implements social.Provider.
func (p *Provider) Name() string {
	return "mock"
}

// AuthCodeURL implements social.Provider. It skips the consent screen and
// targets the callback directly.
func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	params := url.Values{
		"code":  {DefaultCode},
		"state": {state},
	}
	return p.config.CallbackURL + "?" + params.Encode()
}

// Exchange implements social.Provider.
func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	if p.config.FailExchange {
		return nil, &social.ProviderError{
			Provider:  "mock",
			Operation: "exchange",
			Code:      "exchange_failed",
		}
	}
	if code != DefaultCode {
		return nil, &social.ProviderError{
			Provider:    "mock",
			Operation:   "exchange",
			Code:        "invalid_grant",
			Description: "unknown authorization code",
		}
	}

	return &social.Token{
		AccessToken: "mock-access-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

// UserInfo implements social.Provider.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	if p.config.FailUserInfo {
		return nil, &social.ProviderError{
			Provider:  "mock",
			Operation: "user_info",
			Code:      "user_info_failed",
		}
	}

	profile := p.config.Profile
	return &profile, nil
}
