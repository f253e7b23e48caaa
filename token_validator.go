package auth

// TokenValidator decodes tokens and extracts claims without tying callers
// to a specific signing implementation.
type TokenValidator interface {
	Decode(tokenString string) (*Claims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (*Claims, error)

// Decode satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Decode(tokenString string) (*Claims, error) {
	if f == nil {
		return nil, ErrInvalidToken
	}
	return f(tokenString)
}

var _ TokenValidator = (*TokenService)(nil)
