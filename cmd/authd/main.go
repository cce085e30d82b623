package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	socialauth "github.com/socialauth/go-socialauth"
	"github.com/socialauth/go-socialauth/social"
	"github.com/socialauth/go-socialauth/social/providers/facebook"
	"github.com/socialauth/go-socialauth/social/providers/google"
	"github.com/socialauth/go-socialauth/social/providers/mock"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config *Config
	logger *glog.BaseLogger

	bunDB         *bun.DB
	repo          socialauth.RepositoryManager
	audit         socialauth.AuditSink
	tokens        socialauth.TokenService
	rotator       *socialauth.TokenRotator
	authenticator *social.Authenticator
	srv           router.Server[*fiber.App]
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	level := glog.Info
	if cfg.App.Debug {
		level = glog.Trace
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName(cfg.App.Name),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		log.Fatal(err)
	}

	if err := WithAuth(ctx, app); err != nil {
		log.Fatal(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		log.Fatal(err)
	}

	if err := seedAccounts(ctx, app); err != nil {
		log.Fatal(err)
	}

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go auditJanitor(janitorCtx, app)

	app.srv.Serve(app.config.App.Addr)

	WaitExitSignal()
}

// WithPersistence opens the database, runs migrations, and hangs the
// repository manager off the app.
func WithPersistence(ctx context.Context, app *App) error {
	db, err := sql.Open(sqliteshim.ShimName, app.config.Persistence.GetDSN())
	if err != nil {
		return err
	}

	persistence.RegisterModel((*socialauth.Account)(nil))
	persistence.RegisterModel((*socialauth.ProviderIdentity)(nil))
	persistence.RegisterModel((*socialauth.RefreshToken)(nil))
	persistence.RegisterModel((*socialauth.AuthEvent)(nil))

	client, err := persistence.New(app.config.Persistence, db, sqlitedialect.New())
	if err != nil {
		return err
	}

	client.SetLogger(app.GetLogger("persistence"))

	migrationsFS, err := fs.Sub(socialauth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}

	if err := client.Migrate(ctx); err != nil {
		return err
	}

	app.bunDB = client.DB()
	app.repo = socialauth.NewRepositoryManager(client.DB())

	return nil
}

// WithAuth wires the token service, the rotator, and the social
// authenticator with every configured provider.
func WithAuth(ctx context.Context, app *App) error {
	cfg := app.config

	app.audit = socialauth.NewAuditSink(app.repo.AuthEvents(), app.GetLogger("audit"))

	app.tokens = socialauth.NewTokenService(
		[]byte(cfg.Auth.AccessSigningKey),
		[]byte(cfg.Auth.RefreshSigningKey),
		cfg.Auth.Issuer,
		jwt.ClaimStrings(cfg.Auth.Audience),
		socialauth.WithTokenTTLs(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
		socialauth.WithTokenLogger(app.GetLogger("tokens")),
	)

	app.rotator = socialauth.NewTokenRotator(
		app.tokens,
		app.repo,
		socialauth.WithRotatorAuditSink(app.audit),
		socialauth.WithRotatorLogger(app.GetLogger("rotator")),
	)

	opts := []social.AuthOption{
		social.WithAuditSink(app.audit),
		social.WithLogger(app.GetLogger("social")),
	}

	if cfg.Google.Enabled() {
		opts = append(opts, social.WithProvider(google.New(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			CallbackURL:  cfg.Google.CallbackURL,
		})))
	}

	if cfg.Facebook.Enabled() {
		opts = append(opts, social.WithProvider(facebook.New(facebook.Config{
			ClientID:     cfg.Facebook.ClientID,
			ClientSecret: cfg.Facebook.ClientSecret,
			CallbackURL:  cfg.Facebook.CallbackURL,
		})))
	}

	if cfg.Mock.Enabled {
		app.GetLogger("social").Warn("mock provider enabled; do not run this in production")
		opts = append(opts, social.WithProvider(mock.New(mock.Config{
			CallbackURL: cfg.Mock.CallbackURL,
		})))
	}

	app.authenticator = social.NewAuthenticator(
		app.repo,
		app.tokens,
		social.AuthConfig{
			DefaultReturnTo:      cfg.Auth.SuccessRedirect,
			StateTTL:             cfg.Auth.StateTTL,
			RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmail,
			DefaultRole:          cfg.Auth.DefaultRole,
		},
		opts...,
	)

	return nil
}

// WithHTTPServer builds the fiber adapter and mounts the session and
// social auth routes.
func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.config

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:       cfg.App.Name,
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))
	srv.Router().Use(socialauth.CorrelationID())

	sessionOpts := []socialauth.SessionControllerOption{
		socialauth.WithSessionLogger(app.GetLogger("session")),
		socialauth.WithSessionRepo(app.repo),
		socialauth.WithSessionTokens(app.tokens),
		socialauth.WithSessionRotator(app.rotator),
		socialauth.WithSessionAuditSink(app.audit),
		socialauth.WithSessionCookieTTLs(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
	}
	if !cfg.Auth.SecureCookies {
		sessionOpts = append(sessionOpts, socialauth.WithInsecureCookies())
	}

	sessions := socialauth.RegisterSessionRoutes(srv.Router().Group("/"), sessionOpts...)

	controller := social.NewHTTPController(
		app.authenticator,
		sessions,
		app.GetLogger("social.http"),
		social.HTTPConfig{
			SuccessRedirect: cfg.Auth.SuccessRedirect,
			ErrorRedirect:   cfg.Auth.ErrorRedirect,
			CookieSecure:    cfg.Auth.SecureCookies,
			StateCookieTTL:  cfg.Auth.StateTTL,
		},
	)

	protected := socialauth.RequireAuth(app.tokens, nil)
	controller.RegisterRoutes(srv.Router().Group("/auth/social"), protected)

	app.srv = srv

	return nil
}

// seedAccounts bootstraps the accounts named in AUTH_SEED_ACCOUNTS.
// Replays are harmless: already-seeded accounts are skipped.
func seedAccounts(ctx context.Context, app *App) error {
	raw := app.config.Auth.SeedAccounts
	if raw == "" {
		return nil
	}

	var messages []socialauth.SeedAccountMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid AUTH_SEED_ACCOUNTS payload")
	}

	handler := socialauth.NewSeedAccountsHandler(app.repo, app.GetLogger("seed"))
	for _, msg := range messages {
		if err := handler.Execute(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

// auditJanitor prunes expired audit rows and stale refresh tokens on a
// fixed interval.
func auditJanitor(ctx context.Context, app *App) {
	interval := app.config.Auth.AuditPurgeInterval
	if interval <= 0 {
		return
	}

	handler := socialauth.NewPurgeAuditHandler(app.repo, app.GetLogger("janitor"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := handler.Execute(ctx, socialauth.PurgeAuditMessage{Now: now}); err != nil {
				app.GetLogger("janitor").Error("audit purge failed", "error", err)
			}
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
