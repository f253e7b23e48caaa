package bearer

import (
	"errors"
	"strings"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup          = "header:" + router.HeaderAuthorization
	ErrBearerMissingOrMalformed = errors.New("missing or malformed bearer token")
)

// ValidationListener is invoked after the principal is resolved but before
// the rule is evaluated.
type ValidationListener func(ctx router.Context, principal *auth.Principal) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	// Guard is required. It decodes, resolves and authorizes every request.
	Guard *auth.Guard
	// Rule is evaluated against the resolved principal. Nil allows any
	// authenticated principal.
	Rule        auth.Rule
	ContextKey  string
	ClaimsKey   string
	TokenLookup string
	AuthScheme  string
	// Optional allows anonymous requests through when no token is present.
	Optional            bool
	ValidationListeners []ValidationListener
}

// New returns a router middleware protecting the routes it wraps.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawToken(ctx, extractors)
			if err != nil {
				if cfg.Optional {
					return ctx.Next()
				}
				return cfg.ErrorHandler(ctx, auth.ErrInvalidToken)
			}

			stdCtx := ctx.Context()
			principal, claims, err := cfg.Guard.Authenticate(stdCtx, raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, principal); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.Guard.Authorize(principal, cfg.Rule); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, principal)
			ctx.Locals(cfg.ClaimsKey, claims)

			stdCtx = auth.WithContext(stdCtx, principal)
			stdCtx = auth.WithClaimsContext(stdCtx, claims)
			ctx.SetContext(stdCtx)

			return cfg.SuccessHandler(ctx)
		}
	}
}

func (cfg *Config) runValidationListeners(ctx router.Context, principal *auth.Principal) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, principal); err != nil {
			return err
		}
	}
	return nil
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Guard == nil {
		panic("AUTH: bearer middleware configuration: Guard is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = auth.NewRouteErrorHandler(nil)
	}

	if cfg.Rule == nil {
		cfg.Rule = auth.Authenticated()
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "principal"
	}

	if cfg.ClaimsKey == "" {
		cfg.ClaimsKey = "claims"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// Principal returns the principal stored by the middleware.
func Principal(ctx router.Context, key ...string) (*auth.Principal, bool) {
	k := "principal"
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	p, ok := ctx.Locals(k).(*auth.Principal)
	return p, ok && p != nil
}

func ExtractRawToken(ctx router.Context, extractors []Extractor) (string, error) {
	var raw string
	err := ErrBearerMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

type Extractor func(ctx router.Context) (string, error)

// GetExtractors parses a lookup such as "header:Authorization,cookie:jwt".
func GetExtractors(tokenLookup string, authSchemes ...string) []Extractor {
	extractors := make([]Extractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && authSchemes[0] != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, fromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, fromQuery(parts[1]))
		case "cookie":
			extractors = append(extractors, fromCookie(parts[1]))
		}
	}

	return extractors
}

func fromHeader(header, authScheme string) Extractor {
	return func(ctx router.Context) (string, error) {
		a := ctx.Header(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			if token := strings.TrimSpace(a[l+1:]); token != "" {
				return token, nil
			}
		}
		return "", ErrBearerMissingOrMalformed
	}
}

func fromQuery(param string) Extractor {
	return func(ctx router.Context) (string, error) {
		token := ctx.Query(param)
		if token == "" {
			return "", ErrBearerMissingOrMalformed
		}
		return token, nil
	}
}

func fromCookie(name string) Extractor {
	return func(ctx router.Context) (string, error) {
		token := ctx.Cookies(name)
		if token == "" {
			return "", ErrBearerMissingOrMalformed
		}
		return token, nil
	}
}
