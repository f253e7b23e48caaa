package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed payload of a bearer token. Role is advisory: the
// resolver always re-reads the stored role.
type Claims struct {
	Sub       int64            `json:"sub"`
	Kind      PrincipalKind    `json:"kind"`
	Role      Role             `json:"role"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
	Issuer    string           `json:"iss,omitempty"`
	Audience  jwt.ClaimStrings `json:"aud,omitempty"`
	ID        string           `json:"jti,omitempty"`
}

// Verify interface compliance
var _ jwt.Claims = (*Claims)(nil)

// Ref returns the principal reference carried by the claims.
func (c *Claims) Ref() PrincipalRef {
	return PrincipalRef{Kind: c.Kind, ID: c.Sub}
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// Issued returns the issued at time
func (c *Claims) Issued() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)       { return c.Audience, nil }

func (c *Claims) GetSubject() (string, error) {
	return strconv.FormatInt(c.Sub, 10), nil
}
