package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec issues and decodes bearer tokens.
type TokenCodec interface {
	Issue(subjectID int64, kind PrincipalKind, role Role, ttl time.Duration) (string, error)
	Decode(token string) (*Claims, error)
}

// TokenService implements TokenCodec with HS256 signed JWTs.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

var _ TokenCodec = (*TokenService)(nil)

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenIssuer sets the iss claim written on issue and required on decode.
func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.issuer = issuer
	}
}

// WithTokenAudience sets the aud claim written on issue. Decode accepts a
// token naming at least one of these audiences.
func WithTokenAudience(audience ...string) TokenServiceOption {
	return func(ts *TokenService) {
		if len(audience) > 0 {
			ts.audience = append(jwt.ClaimStrings(nil), audience...)
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService. The signing key is copied and
// never changes afterwards.
func NewTokenService(signingKey []byte, defaultTTL time.Duration, opts ...TokenServiceOption) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("signing key is required", goerrors.CategoryValidation)
	}
	if defaultTTL <= 0 {
		return nil, goerrors.New("token TTL must be positive", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"ttl": defaultTTL.String()})
	}

	ts := &TokenService{
		signingKey: append([]byte(nil), signingKey...),
		ttl:        defaultTTL,
		logger:     defLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts, nil
}

// NewTokenServiceFromConfig builds a TokenService from cfg. Only HS256 is
// supported; an empty signing method means HS256.
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) (*TokenService, error) {
	if cfg == nil {
		return nil, goerrors.New("token config is required", goerrors.CategoryValidation)
	}
	if method := cfg.GetSigningMethod(); method != "" && method != jwt.SigningMethodHS256.Alg() {
		return nil, goerrors.New("unsupported signing method", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"signing_method": method})
	}

	base := []TokenServiceOption{
		WithTokenIssuer(cfg.GetIssuer()),
		WithTokenAudience(cfg.GetAudience()...),
	}
	return NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetTokenExpiration(), append(base, opts...)...)
}

// DefaultTTL returns the lifetime used when Issue is called with ttl 0.
func (ts *TokenService) DefaultTTL() time.Duration {
	return ts.ttl
}

// Issue creates a signed token for the given principal reference.
func (ts *TokenService) Issue(subjectID int64, kind PrincipalKind, role Role, ttl time.Duration) (string, error) {
	if !kind.IsValid() {
		return "", withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}
	if ttl < 0 {
		return "", goerrors.New("token TTL must be non-negative", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"ttl": ttl.String()})
	}
	if ttl == 0 {
		ttl = ts.ttl
	}

	now := ts.now()
	claims := &Claims{
		Sub:       subjectID,
		Kind:      kind,
		Role:      role,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    ts.issuer,
		Audience:  ts.audience,
		ID:        uuid.NewString(),
	}

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

// Decode verifies the token signature and expiry and returns its claims.
// The signature is checked over the exact received segments before any claim
// is interpreted.
func (ts *TokenService) Decode(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		ts.logger.Debug("token decode failed", "error", err)
		return nil, withDetail(ErrInvalidToken, err, nil)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if !claims.Kind.IsValid() {
		return nil, withDetail(ErrInvalidToken, nil, map[string]any{"kind": string(claims.Kind)})
	}

	if !ts.acceptsAudience(claims.Audience) {
		return nil, withDetail(ErrInvalidToken, nil, map[string]any{"audience": []string(claims.Audience)})
	}

	return claims, nil
}

// acceptsAudience reports whether aud names at least one configured audience.
// Any audience is accepted when none is configured.
func (ts *TokenService) acceptsAudience(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		for _, got := range aud {
			if got == want {
				return true
			}
		}
	}
	return false
}
