package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies credentials with bcrypt. The cost is
// fixed at construction; a hasher is safe for concurrent use.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher using cost, or the build default when cost is 0.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost == 0 {
		cost = passwordHashCost()
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, goerrors.New(
			fmt.Sprintf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost),
			goerrors.CategoryValidation,
		).WithMetadata(map[string]any{"cost": cost})
	}
	return &PasswordHasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash will generate a salted password hash
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", goerrors.Wrap(err, goerrors.CategoryValidation, "password is too long").
				WithCode(goerrors.CodeBadRequest)
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(out), nil
}

// Verify reports whether password matches hash. A mismatch is not an error;
// a hash that cannot be parsed is ErrCorruptCredential.
func (h *PasswordHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, withDetail(ErrCorruptCredential, err, nil)
	}
}

var defaultHasher = &PasswordHasher{cost: passwordHashCost()}

// HashPassword will generate a password hash with the default cost
func HashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	ok, err := defaultHasher.Verify(password, hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMismatchedHashAndPassword
	}
	return nil
}
