package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full service configuration, loaded from the environment
// with an optional .env overlay for local development.
type Config struct {
	App         AppConfig
	Auth        AuthConfig
	Persistence PersistenceConfig
	Google      GoogleConfig
	Facebook    FacebookConfig
	Mock        MockConfig
}

type AppConfig struct {
	Name  string `env:"APP_NAME" envDefault:"authd"`
	Addr  string `env:"APP_ADDR" envDefault:":8572"`
	Env   string `env:"APP_ENV" envDefault:"development"`
	Debug bool   `env:"APP_DEBUG"`
}

type AuthConfig struct {
	AccessSigningKey  string        `env:"AUTH_ACCESS_SIGNING_KEY,required"`
	RefreshSigningKey string        `env:"AUTH_REFRESH_SIGNING_KEY,required"`
	Issuer            string        `env:"AUTH_ISSUER" envDefault:"authd"`
	Audience          []string      `env:"AUTH_AUDIENCE" envSeparator:"," envDefault:"authd"`
	AccessTTL         time.Duration `env:"AUTH_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL        time.Duration `env:"AUTH_REFRESH_TTL" envDefault:"168h"`
	StateTTL          time.Duration `env:"AUTH_STATE_TTL" envDefault:"10m"`

	RequireVerifiedEmail bool   `env:"AUTH_REQUIRE_VERIFIED_EMAIL" envDefault:"true"`
	DefaultRole          string `env:"AUTH_DEFAULT_ROLE" envDefault:"user"`
	SecureCookies        bool   `env:"AUTH_SECURE_COOKIES" envDefault:"true"`

	SuccessRedirect string `env:"AUTH_SUCCESS_REDIRECT" envDefault:"/"`
	ErrorRedirect   string `env:"AUTH_ERROR_REDIRECT" envDefault:"/login"`

	// SeedAccounts is a JSON array of bootstrap accounts, e.g.
	// [{"email":"ops@example.com","name":"Ops","role":"admin","provider":"seed","provider_user_id":"ops-1"}]
	SeedAccounts string `env:"AUTH_SEED_ACCOUNTS"`

	// AuditPurgeInterval controls how often expired audit rows and stale
	// refresh tokens get pruned. Zero disables the janitor.
	AuditPurgeInterval time.Duration `env:"AUTH_AUDIT_PURGE_INTERVAL" envDefault:"12h"`
}

// PersistenceConfig carries the database settings. The getters satisfy
// the persistence client's config contract.
type PersistenceConfig struct {
	Driver      string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN         string        `env:"DB_DSN" envDefault:"file:authd.db?cache=shared&_pragma=foreign_keys(1)"`
	Debug       bool          `env:"DB_DEBUG"`
	PingTimeout time.Duration `env:"DB_PING_TIMEOUT" envDefault:"5s"`
}

func (p PersistenceConfig) GetDriver() string { return p.Driver }

func (p PersistenceConfig) GetDSN() string { return p.DSN }

func (p PersistenceConfig) GetDebug() bool { return p.Debug }

func (p PersistenceConfig) GetPingTimeout() time.Duration { return p.PingTimeout }

type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CallbackURL  string `env:"GOOGLE_CALLBACK_URL"`
}

func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.CallbackURL != ""
}

type FacebookConfig struct {
	ClientID     string `env:"FACEBOOK_CLIENT_ID"`
	ClientSecret string `env:"FACEBOOK_CLIENT_SECRET"`
	CallbackURL  string `env:"FACEBOOK_CALLBACK_URL"`
}

func (f FacebookConfig) Enabled() bool {
	return f.ClientID != "" && f.ClientSecret != "" && f.CallbackURL != ""
}

// MockConfig enables the in-process provider used for local development
// and smoke tests. Never enable it in production.
type MockConfig struct {
	Enabled     bool   `env:"MOCK_PROVIDER_ENABLED"`
	CallbackURL string `env:"MOCK_PROVIDER_CALLBACK_URL" envDefault:"http://localhost:8572/auth/social/mock/callback"`
}

func loadConfig() (*Config, error) {
	// The .env file is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
