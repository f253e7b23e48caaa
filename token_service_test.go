package auth_test

import (
	"testing"
	"time"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenServiceValidation(t *testing.T) {
	_, err := auth.NewTokenService(nil, time.Hour)
	assert.Error(t, err)

	_, err = auth.NewTokenService([]byte("key"), 0)
	assert.Error(t, err)

	ts, err := auth.NewTokenService([]byte("key"), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, ts.DefaultTTL())
}

func TestTokenServiceRoundTrip(t *testing.T) {
	ts := newTestTokens(t, auth.WithTokenClock(fixedClock))

	token, err := ts.Issue(42, auth.KindUser, auth.RoleUser, 0)
	require.NoError(t, err)

	claims, err := ts.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.Sub)
	assert.Equal(t, auth.KindUser, claims.Kind)
	assert.Equal(t, auth.RoleUser, claims.Role)
	assert.Equal(t, auth.PrincipalRef{Kind: auth.KindUser, ID: 42}, claims.Ref())
	assert.Equal(t, fixedNow, claims.Issued().UTC())
	assert.Equal(t, fixedNow.Add(time.Hour), claims.Expires().UTC())
	assert.NotEmpty(t, claims.ID)
}

func TestTokenServiceCustomTTL(t *testing.T) {
	ts := newTestTokens(t, auth.WithTokenClock(fixedClock))

	token, err := ts.Issue(1, auth.KindOrganization, auth.RoleOrganization, 15*time.Minute)
	require.NoError(t, err)

	claims, err := ts.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(15*time.Minute), claims.Expires().UTC())

	_, err = ts.Issue(1, auth.KindOrganization, auth.RoleOrganization, -time.Second)
	assert.Error(t, err)
}

func TestTokenServiceExpiry(t *testing.T) {
	issuer := newTestTokens(t, auth.WithTokenClock(fixedClock))
	token, err := issuer.Issue(7, auth.KindUser, auth.RoleUser, time.Hour)
	require.NoError(t, err)

	justBefore := newTestTokens(t, auth.WithTokenClock(func() time.Time {
		return fixedNow.Add(time.Hour - time.Second)
	}))
	_, err = justBefore.Decode(token)
	assert.NoError(t, err)

	atExpiry := newTestTokens(t, auth.WithTokenClock(func() time.Time {
		return fixedNow.Add(time.Hour)
	}))
	_, err = atExpiry.Decode(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
	assert.True(t, auth.IsTokenExpiredError(err))
}

func TestTokenServiceDetectsTampering(t *testing.T) {
	ts := newTestTokens(t, auth.WithTokenClock(fixedClock))

	token, err := ts.Issue(42, auth.KindUser, auth.RoleUser, 0)
	require.NoError(t, err)

	for i := 0; i < len(token); i++ {
		tampered := []byte(token)
		tampered[i] ^= 0x01

		_, err := ts.Decode(string(tampered))
		if !assert.ErrorIs(t, err, auth.ErrInvalidToken, "byte %d", i) {
			return
		}
	}
}

func TestTokenServiceRejectsForeignKey(t *testing.T) {
	ts := newTestTokens(t)
	other, err := auth.NewTokenService([]byte("another-signing-key-0123456789ab"), time.Hour)
	require.NoError(t, err)

	token, err := other.Issue(42, auth.KindUser, auth.RoleAdmin, 0)
	require.NoError(t, err)

	_, err = ts.Decode(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.True(t, auth.IsMalformedError(err))
}

func TestTokenServiceRejectsOtherAlgorithms(t *testing.T) {
	ts := newTestTokens(t, auth.WithTokenClock(fixedClock))
	claims := &auth.Claims{
		Sub:       42,
		Kind:      auth.KindUser,
		Role:      auth.RoleAdmin,
		IssuedAt:  jwt.NewNumericDate(fixedNow),
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).
		SignedString([]byte("test-signing-key-0123456789abcdef"))
	require.NoError(t, err)
	_, err = ts.Decode(hs512)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.Decode(none)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenServiceRejectsMissingExpiry(t *testing.T) {
	ts := newTestTokens(t, auth.WithTokenClock(fixedClock))

	token, err := ts.SignClaims(&auth.Claims{Sub: 1, Kind: auth.KindUser, Role: auth.RoleUser})
	require.NoError(t, err)

	_, err = ts.Decode(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenServiceUnknownKind(t *testing.T) {
	ts := newTestTokens(t, auth.WithTokenClock(fixedClock))

	_, err := ts.Issue(1, auth.PrincipalKind("robot"), auth.RoleUser, 0)
	assert.ErrorIs(t, err, auth.ErrUnknownKind)

	token, err := ts.SignClaims(&auth.Claims{
		Sub:       1,
		Kind:      auth.PrincipalKind("robot"),
		Role:      auth.RoleUser,
		IssuedAt:  jwt.NewNumericDate(fixedNow),
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	})
	require.NoError(t, err)

	_, err = ts.Decode(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenServiceIssuerAndAudience(t *testing.T) {
	ecofy := newTestTokens(t,
		auth.WithTokenClock(fixedClock),
		auth.WithTokenIssuer("ecofy"),
		auth.WithTokenAudience("ecofy-api"),
	)
	token, err := ecofy.Issue(3, auth.KindClientCompany, auth.RoleClientCompany, 0)
	require.NoError(t, err)

	claims, err := ecofy.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "ecofy", claims.Issuer)

	otherIssuer := newTestTokens(t, auth.WithTokenClock(fixedClock), auth.WithTokenIssuer("someone-else"))
	_, err = otherIssuer.Decode(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	otherAudience := newTestTokens(t, auth.WithTokenClock(fixedClock), auth.WithTokenAudience("admin-ui"))
	_, err = otherAudience.Decode(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenServiceMultipleAudiences(t *testing.T) {
	issuer := newTestTokens(t, auth.WithTokenClock(fixedClock), auth.WithTokenAudience("ecofy-api", "ecofy-web"))
	token, err := issuer.Issue(7, auth.KindUser, auth.RoleUser, 0)
	require.NoError(t, err)

	claims, err := issuer.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, jwt.ClaimStrings{"ecofy-api", "ecofy-web"}, claims.Audience)

	web := newTestTokens(t, auth.WithTokenClock(fixedClock), auth.WithTokenAudience("ecofy-web", "ecofy-mobile"))
	_, err = web.Decode(token)
	assert.NoError(t, err)

	mobile := newTestTokens(t, auth.WithTokenClock(fixedClock), auth.WithTokenAudience("ecofy-mobile", "admin-ui"))
	_, err = mobile.Decode(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	bare, err := newTestTokens(t, auth.WithTokenClock(fixedClock)).Issue(7, auth.KindUser, auth.RoleUser, 0)
	require.NoError(t, err)
	_, err = web.Decode(bare)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

type tokenConfig struct {
	method   string
	audience []string
}

func (c tokenConfig) GetSigningKey() string             { return "config-signing-key-0123456789abcd" }
func (c tokenConfig) GetSigningMethod() string          { return c.method }
func (c tokenConfig) GetTokenExpiration() time.Duration { return 30 * time.Minute }
func (c tokenConfig) GetIssuer() string                 { return "ecofy" }
func (c tokenConfig) GetAudience() []string             { return c.audience }
func (c tokenConfig) GetAuthScheme() string             { return "Bearer" }
func (c tokenConfig) GetHashCost() int                  { return 10 }

func TestNewTokenServiceFromConfig(t *testing.T) {
	ts, err := auth.NewTokenServiceFromConfig(tokenConfig{method: "HS256", audience: []string{"ecofy-api"}},
		auth.WithTokenClock(fixedClock))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ts.DefaultTTL())

	token, err := ts.Issue(5, auth.KindOrganization, auth.RoleOrganization, 0)
	require.NoError(t, err)
	claims, err := ts.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "ecofy", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"ecofy-api"}, claims.Audience)
	assert.Equal(t, fixedNow.Add(30*time.Minute), claims.Expires().UTC())

	_, err = auth.NewTokenServiceFromConfig(tokenConfig{})
	assert.NoError(t, err)

	_, err = auth.NewTokenServiceFromConfig(tokenConfig{method: "RS256"})
	assert.Error(t, err)

	_, err = auth.NewTokenServiceFromConfig(nil)
	assert.Error(t, err)
}

func TestTokenValidatorFunc(t *testing.T) {
	var nilFunc auth.TokenValidatorFunc
	_, err := nilFunc.Decode("anything")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	fn := auth.TokenValidatorFunc(func(string) (*auth.Claims, error) {
		return &auth.Claims{Sub: 9, Kind: auth.KindAdmin}, nil
	})
	claims, err := fn.Decode("anything")
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.Sub)
}
