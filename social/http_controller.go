package social

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/socialauth/go-socialauth"
)

// Handshake cookie names. Both live only as long as the state TTL.
const (
	StateCookie    = "oauth_state"
	ReturnToCookie = "oauth_return_to"
)

// Redirect error codes surfaced to the login page.
const (
	ErrorCodeAuthFailed     = "auth_failed"
	ErrorCodeCallbackFailed = "callback_failed"
	ErrorCodeAccessDenied   = "access_denied"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// SessionWriter writes and clears the session token cookies. Satisfied by
// the root package's SessionController.
type SessionWriter interface {
	SetSessionCookies(ctx router.Context, pair *socialauth.TokenPair)
	ClearSessionCookies(ctx router.Context)
}

// HTTPController handles the social auth HTTP routes.
type HTTPController struct {
	authenticator *Authenticator
	sessions      SessionWriter
	logger        socialauth.Logger
	config        HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// SuccessRedirect is the default redirect after successful auth
	SuccessRedirect string

	// ErrorRedirect is the page failures land on; the error code travels
	// in its query string
	ErrorRedirect string

	// CookieSecure sets the Secure flag on the handshake cookies
	CookieSecure bool

	// StateCookieTTL bounds the handshake cookies (default: state TTL)
	StateCookieTTL time.Duration

	// ErrorHandler handles errors (optional); default redirects to
	// ErrorRedirect with a coded error
	ErrorHandler func(ctx router.Context, err error) error
}

// NewHTTPController creates a new social auth HTTP controller.
func NewHTTPController(auth *Authenticator, sessions SessionWriter, logger socialauth.Logger, cfg HTTPConfig) *HTTPController {
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/login"
	}
	if cfg.StateCookieTTL == 0 {
		cfg.StateCookieTTL = DefaultStateTTL
	}
	if logger == nil {
		logger = socialauth.DefaultLogger()
	}

	return &HTTPController{
		authenticator: auth,
		sessions:      sessions,
		logger:        logger,
		config:        cfg,
	}
}

// RegisterRoutes registers the social auth routes. The protected middleware
// guards the linking endpoints, which require an authenticated session.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar, protected ...router.MiddlewareFunc) {
	group.Get("/providers", c.ListProviders)
	group.Get("/identities", c.ListIdentities, protected...)
	group.Get("/:provider/callback", c.Callback)
	group.Post("/:provider/link", c.LinkAccount, protected...)
	group.Delete("/:provider", c.UnlinkAccount, protected...)
	group.Get("/:provider", c.BeginAuth)
}

// ListProviders returns available social providers.
func (c *HTTPController) ListProviders(ctx router.Context) error {
	providers := c.authenticator.ListProviders()
	return ctx.JSON(router.StatusOK, map[string]any{
		"providers": providers,
	})
}

// BeginAuth starts the OAuth flow: issue the guarded state, pin it to a
// cookie, and bounce to the provider's consent screen.
func (c *HTTPController) BeginAuth(ctx router.Context) error {
	providerName := ctx.Param("provider")

	returnTo := sanitizeReturnTo(ctx.Query("return_to", ""))
	if returnTo == "" {
		returnTo = c.config.SuccessRedirect
	}

	opts := []BeginAuthOption{
		WithReturnTo(returnTo),
	}

	if ctx.Query("action", "") == ActionLink {
		accountID := c.accountIDFromSession(ctx)
		if accountID == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{
				"error": "authentication required for linking",
			})
		}
		opts = append(opts, ForLinkingAccount(accountID))
	}

	redirect, err := c.authenticator.BeginAuth(ctx.Context(), providerName, opts...)
	if err != nil {
		return c.handleError(ctx, err)
	}

	c.setHandshakeCookies(ctx, redirect.State, returnTo)

	return ctx.Redirect(redirect.URL, http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback. The presented state must match the
// handshake cookie byte for byte before the server-side binding is
// consumed; either check failing aborts the login.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerName := ctx.Param("provider")

	if errCode := ctx.Query("error", ""); errCode != "" {
		c.logger.Info("provider returned error", "provider", providerName, "code", errCode)
		c.clearHandshakeCookies(ctx)
		code := ErrorCodeAuthFailed
		if errCode == "access_denied" {
			code = ErrorCodeAccessDenied
		}
		return c.redirectError(ctx, code)
	}

	code := ctx.Query("code", "")
	state := ctx.Query("state", "")
	cookieState := ctx.Cookies(StateCookie)

	c.clearHandshakeCookies(ctx)

	if code == "" || state == "" || cookieState == "" || state != cookieState {
		c.logger.Info("state check failed", "provider", providerName)
		return c.redirectError(ctx, ErrorCodeAuthFailed)
	}

	result, err := c.authenticator.CompleteAuth(ctx.Context(), providerName, code, state, socialauth.MetaFromRouter(ctx))
	if err != nil {
		c.logger.Error("callback failed", "provider", providerName, "error", err)
		if goerrors.Is(err, socialauth.ErrStateMismatch) || goerrors.Is(err, socialauth.ErrStateExpired) {
			return c.redirectError(ctx, ErrorCodeAuthFailed)
		}
		return c.redirectError(ctx, ErrorCodeCallbackFailed)
	}

	if c.sessions != nil {
		c.sessions.SetSessionCookies(ctx, result.Pair)
	}

	returnTo := result.ReturnTo
	if returnTo == "" {
		returnTo = c.config.SuccessRedirect
	}

	if result.IsNewAccount {
		returnTo = appendQueryParam(returnTo, "new_user", "true")
	}
	if result.Linked {
		returnTo = appendQueryParam(returnTo, "linked", result.Provider)
	}

	return ctx.Redirect(returnTo, http.StatusTemporaryRedirect)
}

// LinkAccount begins a linking handshake for the signed-in account and
// returns the provider URL instead of redirecting, so SPA clients can
// drive the hop themselves.
func (c *HTTPController) LinkAccount(ctx router.Context) error {
	accountID := c.accountIDFromSession(ctx)
	if accountID == "" {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	providerName := ctx.Param("provider")

	redirect, err := c.authenticator.BeginAuth(ctx.Context(), providerName, ForLinkingAccount(accountID))
	if err != nil {
		return c.handleError(ctx, err)
	}

	c.setHandshakeCookies(ctx, redirect.State, redirect.ReturnTo)

	return ctx.JSON(router.StatusOK, map[string]string{
		"redirect_url": redirect.URL,
	})
}

// UnlinkAccount removes a provider identity from the signed-in account.
func (c *HTTPController) UnlinkAccount(ctx router.Context) error {
	accountID := c.accountIDFromSession(ctx)
	if accountID == "" {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	providerName := ctx.Param("provider")

	account, err := c.authenticator.Unlink(ctx.Context(), accountID, providerName, socialauth.MetaFromRouter(ctx))
	if err != nil {
		if goerrors.Is(err, socialauth.ErrLastProvider) || goerrors.Is(err, socialauth.ErrNotLinked) {
			return ctx.JSON(router.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		}
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status":    "unlinked",
		"providers": account.Providers(),
	})
}

// ListIdentities returns the linked providers for the signed-in account.
func (c *HTTPController) ListIdentities(ctx router.Context) error {
	accountID := c.accountIDFromSession(ctx)
	if accountID == "" {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	account, err := c.authenticator.AccountByID(ctx.Context(), accountID)
	if err != nil {
		return c.handleError(ctx, err)
	}

	identities := make([]map[string]any, 0, len(account.Identities))
	for _, identity := range account.Identities {
		identities = append(identities, map[string]any{
			"provider":   identity.Provider,
			"created_at": identity.CreatedAt,
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"identities": identities,
	})
}

func (c *HTTPController) accountIDFromSession(ctx router.Context) string {
	claims, ok := socialauth.GetRouterClaims(ctx, "")
	if !ok {
		return ""
	}
	return claims.AccountID()
}

func (c *HTTPController) setHandshakeCookies(ctx router.Context, state, returnTo string) {
	expires := time.Now().Add(c.config.StateCookieTTL)
	ctx.Cookie(&router.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: "Lax",
	})
	if returnTo != "" {
		ctx.Cookie(&router.Cookie{
			Name:     ReturnToCookie,
			Value:    returnTo,
			Path:     "/",
			Expires:  expires,
			HTTPOnly: true,
			Secure:   c.config.CookieSecure,
			SameSite: "Lax",
		})
	}
}

func (c *HTTPController) clearHandshakeCookies(ctx router.Context) {
	for _, name := range []string{StateCookie, ReturnToCookie} {
		ctx.Cookie(&router.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Now().Add(-time.Hour),
			HTTPOnly: true,
			Secure:   c.config.CookieSecure,
			SameSite: "Lax",
		})
	}
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	if goerrors.Is(err, ErrProviderNotFound) {
		return ctx.JSON(router.StatusNotFound, map[string]string{
			"error": "unknown provider",
		})
	}

	return c.redirectError(ctx, ErrorCodeAuthFailed)
}

func (c *HTTPController) redirectError(ctx router.Context, code string) error {
	return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", code), http.StatusTemporaryRedirect)
}

// sanitizeReturnTo only admits local paths, so the handshake cannot be
// turned into an open redirect.
func sanitizeReturnTo(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	return raw
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
