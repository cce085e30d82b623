package socialauth

import (
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Session cookie names. The access token cookie is what the token
// middleware reads; the refresh token cookie only travels to the
// session endpoints.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// RegisterSessionRoutes mounts the session boundary endpoints: token
// refresh, logout, profile, and the account's auth history. It returns
// the controller so callers can hand it to collaborators that write
// session cookies.
func RegisterSessionRoutes[T any](app router.Router[T], opts ...SessionControllerOption) *SessionController {

	controller := NewSessionController(opts...)

	protected := RequireAuth(controller.Tokens, controller.authErrHandler)

	app.Post(controller.Routes.Refresh, controller.Refresh).
		SetName("session.refresh")

	app.Post(controller.Routes.Logout, controller.Logout).
		SetName("session.logout")

	app.Get(controller.Routes.Me, protected(controller.Me)).
		SetName("session.me")

	app.Patch(controller.Routes.Me, protected(controller.UpdateProfile)).
		SetName("session.profile.patch")

	app.Get(controller.Routes.Logs, protected(controller.AuthLogs)).
		SetName("session.logs")

	return controller
}

type SessionControllerRoutes struct {
	Refresh string
	Logout  string
	Me      string
	Logs    string
}

// SessionController serves the JSON session endpoints backed by cookies.
type SessionController struct {
	Logger  Logger
	Repo    RepositoryManager
	Tokens  TokenService
	Rotator *TokenRotator
	Audit   AuditSink
	Routes  *SessionControllerRoutes

	accessCookieTTL  time.Duration
	refreshCookieTTL time.Duration
	secureCookies    bool
}

type SessionControllerOption func(*SessionController) *SessionController

// WithSessionLogger sets the logger.
func WithSessionLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithSessionRepo sets the repository manager.
func WithSessionRepo(repo RepositoryManager) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Repo = repo
		return c
	}
}

// WithSessionTokens sets the token service.
func WithSessionTokens(tokens TokenService) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Tokens = tokens
		return c
	}
}

// WithSessionRotator sets the token rotator.
func WithSessionRotator(rotator *TokenRotator) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Rotator = rotator
		return c
	}
}

// WithSessionAuditSink sets the audit sink.
func WithSessionAuditSink(sink AuditSink) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Audit = sink
		return c
	}
}

// WithSessionCookieTTLs overrides the cookie lifetimes.
func WithSessionCookieTTLs(access, refresh time.Duration) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if access > 0 {
			c.accessCookieTTL = access
		}
		if refresh > 0 {
			c.refreshCookieTTL = refresh
		}
		return c
	}
}

// WithInsecureCookies disables the Secure flag for local development.
func WithInsecureCookies() SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.secureCookies = false
		return c
	}
}

func NewSessionController(opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger: defLogger{},
		Routes: &SessionControllerRoutes{
			Refresh: "/auth/refresh",
			Logout:  "/auth/logout",
			Me:      "/auth/me",
			Logs:    "/auth/logs",
		},
		accessCookieTTL:  DefaultAccessTokenTTL,
		refreshCookieTTL: DefaultRefreshTokenTTL,
		secureCookies:    true,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in session controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in session controller...")
	}

	if c.Rotator == nil {
		panic("Missing TokenRotator in session controller...")
	}

	c.Audit = NormalizeAuditSink(c.Audit)

	return c
}

// Refresh exchanges the refresh token cookie for a fresh pair. Any
// rotation failure clears both session cookies so the client falls back
// to a full login.
func (a *SessionController) Refresh(ctx router.Context) error {
	presented := ctx.Cookies(RefreshTokenCookie)
	if presented == "" {
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "Refresh token required",
		})
	}

	pair, account, err := a.Rotator.Rotate(ctx.Context(), presented, MetaFromRouter(ctx))
	if err != nil {
		a.Logger.Info("refresh rejected", "error", err)
		a.ClearSessionCookies(ctx)
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "Invalid refresh token",
		})
	}

	a.SetSessionCookies(ctx, pair)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"account": profilePayload(account),
	})
}

// Logout revokes the presented refresh token and clears the session
// cookies. Tokens held by other devices stay live. Logout is idempotent:
// a missing or stale cookie still clears and succeeds.
func (a *SessionController) Logout(ctx router.Context) error {
	presented := ctx.Cookies(RefreshTokenCookie)

	var accountID *uuid.UUID
	if presented != "" {
		if claims, err := a.Tokens.ValidateRefresh(presented); err == nil {
			if id, err := uuid.Parse(claims.AccountID()); err == nil {
				accountID = &id
				if err := a.Rotator.Revoke(ctx.Context(), id, presented); err != nil {
					a.Logger.Error("logout revoke failed", "error", err)
				}
			}
		}
	}

	event := AuthEvent{
		AccountID: accountID,
		Action:    AuditActionLogout,
		Provider:  ProviderJWT,
		Success:   true,
	}
	meta := MetaFromRouter(ctx)
	meta.Apply(&event)
	_ = a.Audit.Record(ctx.Context(), event)

	a.ClearSessionCookies(ctx)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// Me returns the authenticated account's profile with its linked
// providers.
func (a *SessionController) Me(ctx router.Context) error {
	account, err := a.currentAccount(ctx)
	if err != nil {
		return a.authErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"account": profilePayload(account),
	})
}

// ProfileUpdateRequest is the PATCH payload for profile edits.
type ProfileUpdateRequest struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Validate will run validation rules
func (r ProfileUpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(1, 200)),
		validation.Field(&r.AvatarURL, is.URL),
	)
}

// UpdateProfile applies partial profile edits for the authenticated
// account. Provider identities and email are not editable here.
func (a *SessionController) UpdateProfile(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, "")
	if !ok {
		return a.authErrHandler(ctx, ErrInvalidToken)
	}

	accountID, err := uuid.Parse(claims.AccountID())
	if err != nil {
		return a.authErrHandler(ctx, ErrInvalidToken)
	}

	payload := new(ProfileUpdateRequest)
	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "Failed to parse body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "Validation failed",
			"validation": err.Error(),
		})
	}

	account, err := a.Repo.Accounts().UpdateProfile(ctx.Context(), accountID, payload.Name, payload.AvatarURL)
	if err != nil {
		a.Logger.Error("profile update failed", "account_id", accountID, "error", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]any{
			"error": "Failed to update profile",
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"account": profilePayload(account),
	})
}

// AuthLogs lists the account's recent auth events, newest first.
func (a *SessionController) AuthLogs(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, "")
	if !ok {
		return a.authErrHandler(ctx, ErrInvalidToken)
	}

	accountID, err := uuid.Parse(claims.AccountID())
	if err != nil {
		return a.authErrHandler(ctx, ErrInvalidToken)
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", ""))

	events, err := a.Repo.AuthEvents().ListRecentByAccount(ctx.Context(), accountID, limit)
	if err != nil {
		a.Logger.Error("auth log listing failed", "account_id", accountID, "error", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]any{
			"error": "Failed to list auth events",
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"events": events,
	})
}

// SetSessionCookies writes the token pair as HTTP-only cookies.
func (a *SessionController) SetSessionCookies(ctx router.Context, pair *TokenPair) {
	ctx.Cookie(&router.Cookie{
		Name:     AccessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  time.Now().Add(a.accessCookieTTL),
		HTTPOnly: true,
		Secure:   a.secureCookies,
		SameSite: "Lax",
	})
	ctx.Cookie(&router.Cookie{
		Name:     RefreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  time.Now().Add(a.refreshCookieTTL),
		HTTPOnly: true,
		Secure:   a.secureCookies,
		SameSite: "Lax",
	})
}

// ClearSessionCookies expires both session cookies.
func (a *SessionController) ClearSessionCookies(ctx router.Context) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		ctx.Cookie(&router.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Now().Add(-time.Hour * (24 * 365)),
			HTTPOnly: true,
			Secure:   a.secureCookies,
			SameSite: "Lax",
		})
	}
}

func (a *SessionController) currentAccount(ctx router.Context) (*Account, error) {
	claims, ok := GetRouterClaims(ctx, "")
	if !ok {
		return nil, ErrInvalidToken
	}

	accountID, err := uuid.Parse(claims.AccountID())
	if err != nil {
		return nil, ErrInvalidToken
	}

	return a.Repo.Accounts().GetByID(ctx.Context(), accountID)
}

func (a *SessionController) authErrHandler(ctx router.Context, err error) error {
	a.Logger.Info("unauthorized request", "path", ctx.OriginalURL(), "error", err)
	return ctx.JSON(router.StatusUnauthorized, map[string]any{
		"error": "Authentication required",
	})
}

func profilePayload(account *Account) map[string]any {
	if account == nil {
		return nil
	}
	return map[string]any{
		"id":            account.ID,
		"email":         account.Email,
		"name":          account.Name,
		"avatar_url":    account.AvatarURL,
		"role":          account.Role,
		"providers":     account.Providers(),
		"last_login_at": account.LastLoginAt,
		"created_at":    account.CreatedAt,
	}
}
