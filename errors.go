package auth

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidToken        = "INVALID_TOKEN"
	TextCodeExpiredToken        = "EXPIRED_TOKEN"
	TextCodePrincipalNotFound   = "PRINCIPAL_NOT_FOUND"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeInvalidTransition   = "INVALID_STATUS_TRANSITION"
	TextCodeConflict            = "DEPENDENTS_EXIST"
	TextCodeCorruptCredential   = "CORRUPT_CREDENTIAL"
	TextCodeDuplicateCredential = "DUPLICATE_CREDENTIAL"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeInvalidCreds        = "INVALID_CREDENTIALS"
	TextCodePrincipalSuspended  = "PRINCIPAL_SUSPENDED"
	TextCodeUnknownKind         = "UNKNOWN_PRINCIPAL_KIND"
)

// ErrInvalidToken is returned when a bearer token has a bad signature or structure.
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrExpiredToken is returned when a token's exp is at or before the current time.
var ErrExpiredToken = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeExpiredToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrPrincipalNotFound covers both absent and deleted principals.
var ErrPrincipalNotFound = goerrors.New("principal not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePrincipalNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrForbidden is the single outcome of every denied authorization check.
var ErrForbidden = goerrors.New("access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid status transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrConflict is returned when a deletion is blocked by dependent records.
var ErrConflict = goerrors.New("dependent records exist", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrCorruptCredential is returned when a stored password hash cannot be parsed.
var ErrCorruptCredential = goerrors.New("stored credential is corrupt", goerrors.CategoryInternal).
	WithTextCode(TextCodeCorruptCredential).
	WithCode(goerrors.CodeInternal)

// ErrDuplicateCredential is returned when an email (or EDRPOU) is already registered.
var ErrDuplicateCredential = goerrors.New("credential already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateCredential).
	WithCode(goerrors.CodeConflict)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned for unknown identifiers and wrong passwords alike.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrPrincipalSuspended blocks login for suspended accounts.
var ErrPrincipalSuspended = goerrors.New("account is suspended", goerrors.CategoryAuth).
	WithTextCode(TextCodePrincipalSuspended).
	WithCode(goerrors.CodeForbidden)

// ErrUnknownKind is returned for a principal kind outside the closed set.
var ErrUnknownKind = goerrors.New("unknown principal kind", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownKind).
	WithCode(goerrors.CodeBadRequest)

// withDetail returns a clone of base carrying metadata and, optionally, the
// underlying cause. The clone unwraps to base so errors.Is keeps matching.
func withDetail(base *goerrors.Error, cause error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	if cause != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["cause"] = cause.Error()
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// targetNotFound marks a not-found error as concerning a target resource
// rather than the caller.
func targetNotFound(kind PrincipalKind, id int64) error {
	return withDetail(ErrPrincipalNotFound, nil, map[string]any{
		"kind":   string(kind),
		"id":     id,
		"target": true,
	})
}

// IsTarget reports whether a PrincipalNotFound error refers to a target resource.
func IsTarget(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	target, _ := richErr.Metadata["target"].(bool)
	return target
}

// HTTPStatus maps core errors to the status codes used by the calling layer.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMismatchedHashAndPassword):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPrincipalNotFound):
		if IsTarget(err) {
			return http.StatusNotFound
		}
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrPrincipalSuspended):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDuplicateCredential):
		return http.StatusConflict
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		switch richErr.Category {
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			return http.StatusBadRequest
		case goerrors.CategoryNotFound:
			return http.StatusNotFound
		}
		if richErr.Code >= 400 && richErr.Code < 600 {
			return richErr.Code
		}
	}
	return http.StatusInternalServerError
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExpiredToken) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidToken) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
