package socialauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is an access/refresh token couple minted together.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenService mints and verifies access/refresh token pairs.
type TokenService interface {
	IssuePair(identity Identity) (*TokenPair, error)
	ValidateAccess(token string) (AuthClaims, error)
	ValidateRefresh(token string) (AuthClaims, error)
}

// TokenServiceImpl implements TokenService with HS256 and two signing keys.
// Access and refresh tokens never validate against each other's key.
type TokenServiceImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
}

// TokenServiceOption configures the token service.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenTTLs overrides the default access/refresh lifetimes.
func WithTokenTTLs(access, refresh time.Duration) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if access > 0 {
			ts.accessTTL = access
		}
		if refresh > 0 {
			ts.refreshTTL = refresh
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a TokenService instance. The refresh key must
// differ from the access key so a refresh token can never pass an access
// check by construction.
func NewTokenService(accessKey, refreshKey []byte, issuer string, audience jwt.ClaimStrings, opts ...TokenServiceOption) TokenService {
	ts := &TokenServiceImpl{
		accessKey:  accessKey,
		refreshKey: refreshKey,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		issuer:     issuer,
		audience:   audience,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// IssuePair mints an access token carrying {account id, role} and a refresh
// token carrying {account id, token_use=refresh}.
func (ts *TokenServiceImpl) IssuePair(identity Identity) (*TokenPair, error) {
	if identity == nil {
		return nil, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := time.Now()
	accessExp := now.Add(ts.accessTTL)
	refreshExp := now.Add(ts.refreshTTL)

	access, err := ts.sign(&JWTClaims{
		RegisteredClaims: ts.registered(identity.ID(), now, accessExp),
		UID:              identity.ID(),
		UserRole:         identity.Role(),
	}, ts.accessKey)
	if err != nil {
		return nil, err
	}

	refresh, err := ts.sign(&JWTClaims{
		RegisteredClaims: ts.registered(identity.ID(), now, refreshExp),
		UID:              identity.ID(),
		Use:              TokenUseRefresh,
	}, ts.refreshKey)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ValidateAccess parses and validates an access token string.
func (ts *TokenServiceImpl) ValidateAccess(token string) (AuthClaims, error) {
	claims, err := ts.parse(token, ts.accessKey)
	if err != nil {
		return nil, err
	}
	if claims.IsRefresh() {
		ts.logger.Debug("TokenService rejected refresh token presented as access token")
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh parses and validates a refresh token string.
func (ts *TokenServiceImpl) ValidateRefresh(token string) (AuthClaims, error) {
	claims, err := ts.parse(token, ts.refreshKey)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		ts.logger.Debug("TokenService rejected access token presented as refresh token")
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (ts *TokenServiceImpl) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	claims := jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   subject,
		Audience:  ts.audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	ensureTokenID(&claims)
	return claims
}

func (ts *TokenServiceImpl) sign(claims *JWTClaims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

func (ts *TokenServiceImpl) parse(tokenString string, key []byte) (*JWTClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInvalidToken
		}
		return nil, errors.Wrap(err, ErrInvalidToken.Category, ErrInvalidToken.Message).
			WithTextCode(ErrInvalidToken.TextCode).
			WithCode(errors.CodeUnauthorized)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("TokenService could not decode or validate claims")
	return nil, ErrInvalidToken
}
