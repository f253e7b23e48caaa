package auth

import "golang.org/x/crypto/bcrypt"

// DefaultHashCost is used when a PasswordHasher is built with cost 0.
// It matches the work factor the original deployment stores.
const DefaultHashCost = 12

func passwordHashCost() int {
	if raceEnabled {
		return bcrypt.DefaultCost
	}
	return DefaultHashCost
}
