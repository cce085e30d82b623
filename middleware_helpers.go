package socialauth

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/socialauth/go-socialauth/middleware/tokenware"
)

// CorrelationHeader carries the request correlation id. Inbound values are
// reused so a caller can trace a request across services.
const CorrelationHeader = "X-Correlation-Id"

// CorrelationKey is the Locals key the correlation id is stored under.
const CorrelationKey = "correlation_id"

// ContextEnricherAdapter adapts tokenware.AuthClaims to AuthClaims and stores
// them in the standard context for downstream usage.
func ContextEnricherAdapter(c context.Context, claims tokenware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// validatorAdapter bridges TokenService to the middleware's validator
// interface, which returns its own claims type.
type validatorAdapter struct {
	tokens TokenService
}

func (v validatorAdapter) ValidateAccess(tokenString string) (tokenware.AuthClaims, error) {
	claims, err := v.tokens.ValidateAccess(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RequireAuth protects a route with access token validation. Tokens are read
// from the accessToken cookie or the Authorization header.
func RequireAuth(tokens TokenService, errorHandler router.ErrorHandler) router.MiddlewareFunc {
	return tokenware.New(tokenware.Config{
		ErrorHandler:    errorHandler,
		TokenValidator:  validatorAdapter{tokens: tokens},
		ContextEnricher: ContextEnricherAdapter,
	})
}

// RequireRole protects a route and additionally requires an exact role.
func RequireRole(tokens TokenService, role AccountRole, errorHandler router.ErrorHandler) router.MiddlewareFunc {
	return tokenware.New(tokenware.Config{
		ErrorHandler:    errorHandler,
		TokenValidator:  validatorAdapter{tokens: tokens},
		RequiredRole:    string(role),
		ContextEnricher: ContextEnricherAdapter,
	})
}

// CorrelationID tags every request with a correlation id, reusing the inbound
// header when present, and echoes it on the response.
func CorrelationID() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			id := ctx.GetString(CorrelationHeader, "")
			if id == "" {
				id = uuid.NewString()
			}

			ctx.Locals(CorrelationKey, id)
			ctx.SetHeader(CorrelationHeader, id)

			return ctx.Next()
		}
	}
}

// MetaFromRouter collects the request attributes audit records carry.
func MetaFromRouter(ctx router.Context) RequestMeta {
	meta := RequestMeta{
		IPAddress: ctx.IP(),
		UserAgent: ctx.GetString("User-Agent", ""),
	}
	if id, ok := ctx.Locals(CorrelationKey).(string); ok {
		meta.CorrelationID = id
	}
	return meta
}
