//go:build race

package auth

// Race builds run bcrypt far slower; hashing falls back to the library default cost.
const raceEnabled = true
