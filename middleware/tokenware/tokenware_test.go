package tokenware_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"

	"github.com/socialauth/go-socialauth/middleware/tokenware"
)

type stubClaims struct {
	subject string
	role    string
}

func (c stubClaims) Subject() string   { return c.subject }
func (c stubClaims) AccountID() string { return c.subject }
func (c stubClaims) Role() string      { return c.role }

type stubValidator struct {
	claims tokenware.AuthClaims
	err    error
	seen   []string
}

func (v *stubValidator) ValidateAccess(tokenString string) (tokenware.AuthClaims, error) {
	v.seen = append(v.seen, tokenString)
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func noopHandler(ctx router.Context) error { return nil }

func TestTokenware_CookieExtraction(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "account-1", role: "user"}}

	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
	})

	ctx := router.NewMockContext()
	ctx.CookiesM["accessToken"] = "cookie-token"
	ctx.On("Locals", "account", mock.Anything).Return(nil)

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctx.NextCalled {
		t.Error("expected NextCalled to be true")
	}
	if len(validator.seen) != 1 || validator.seen[0] != "cookie-token" {
		t.Errorf("expected validator to see cookie token, got %v", validator.seen)
	}
}

func TestTokenware_HeaderExtraction(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "account-1", role: "user"}}

	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
	})

	// no cookie, so the header extractor runs second and wins
	ctx := router.NewMockContext()
	ctx.On("GetString", router.HeaderAuthorization, "").Return("Bearer header-token")
	ctx.On("Locals", "account", mock.Anything).Return(nil)

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctx.NextCalled {
		t.Error("expected NextCalled to be true")
	}
	if len(validator.seen) != 1 || validator.seen[0] != "header-token" {
		t.Errorf("expected validator to see header token, got %v", validator.seen)
	}
}

func TestTokenware_MissingToken(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "account-1"}}

	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
	})

	var sent string
	ctx := router.NewMockContext()
	ctx.On("GetString", router.HeaderAuthorization, "").Return("")
	ctx.On("Status", router.StatusUnauthorized).Return(ctx)
	ctx.On("SendString", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.String(0)
	}).Return(nil)

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.NextCalled {
		t.Error("expected handler chain to stop")
	}
	if !strings.Contains(sent, tokenware.ErrTokenMissing.Error()) {
		t.Errorf("expected missing token body, got %q", sent)
	}
	if len(validator.seen) != 0 {
		t.Errorf("validator should not run without a token, saw %v", validator.seen)
	}
}

func TestTokenware_InvalidToken(t *testing.T) {
	validator := &stubValidator{err: errors.New("signature mismatch")}

	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
	})

	var sent string
	ctx := router.NewMockContext()
	ctx.CookiesM["accessToken"] = "forged"
	ctx.On("Status", router.StatusUnauthorized).Return(ctx)
	ctx.On("SendString", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.String(0)
	}).Return(nil)

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != "Invalid or expired token" {
		t.Errorf("expected generic rejection body, got %q", sent)
	}
}

func TestTokenware_RequiredRole(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "account-1", role: "user"}}

	var captured error
	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
		RequiredRole:   "admin",
		ErrorHandler: func(ctx router.Context, err error) error {
			captured = err
			return nil
		},
	})

	ctx := router.NewMockContext()
	ctx.CookiesM["accessToken"] = "valid-token"

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured == nil || !strings.Contains(captured.Error(), "required role 'admin'") {
		t.Errorf("expected role rejection, got %v", captured)
	}
	if ctx.NextCalled {
		t.Error("expected handler chain to stop on role mismatch")
	}
}

func TestTokenware_MatchingRolePasses(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "account-1", role: "admin"}}

	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
		RequiredRole:   "admin",
	})

	ctx := router.NewMockContext()
	ctx.CookiesM["accessToken"] = "valid-token"
	ctx.On("Locals", "account", mock.Anything).Return(nil)

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctx.NextCalled {
		t.Error("expected NextCalled to be true")
	}
}

func TestTokenware_ContextEnricher(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "account-1", role: "user"}}

	var enriched tokenware.AuthClaims
	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
		ContextEnricher: func(c context.Context, claims tokenware.AuthClaims) context.Context {
			enriched = claims
			return c
		},
	})

	ctx := router.NewMockContext()
	ctx.CookiesM["accessToken"] = "valid-token"
	ctx.On("Locals", "account", mock.Anything).Return(nil)
	ctx.On("Context").Return(context.Background())
	ctx.On("SetContext", mock.Anything)

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched == nil || enriched.AccountID() != "account-1" {
		t.Errorf("expected enricher to receive claims, got %v", enriched)
	}
}

func TestTokenware_FilterSkips(t *testing.T) {
	validator := &stubValidator{err: errors.New("should never run")}

	middleware := tokenware.New(tokenware.Config{
		TokenValidator: validator,
		Filter:         func(ctx router.Context) bool { return true },
	})

	ctx := router.NewMockContext()

	if err := middleware(noopHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctx.NextCalled {
		t.Error("expected filtered request to pass through")
	}
	if len(validator.seen) != 0 {
		t.Errorf("validator should not run for filtered requests, saw %v", validator.seen)
	}
}

func TestGetExtractorsParsesLookup(t *testing.T) {
	extractors := tokenware.GetExtractors("cookie:accessToken, header:Authorization, query:access_token")
	if len(extractors) != 3 {
		t.Fatalf("expected 3 extractors, got %d", len(extractors))
	}

	// malformed entries are skipped
	extractors = tokenware.GetExtractors("bogus,header:Authorization")
	if len(extractors) != 1 {
		t.Fatalf("expected 1 extractor, got %d", len(extractors))
	}
}
