package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"megicode/backend/internal/config"

	"github.com/coreos/go-oidc"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the caller identified by a verified access token.
type Principal struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

// ActorID is the opaque id recorded as the acting user.
func (p Principal) ActorID() string {
	if p.Email != "" {
		return p.Email
	}
	return p.Subject
}

// HasScope reports whether the token granted scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by RequireAuth.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the acting user id, or "" for anonymous calls.
func ActorFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.ActorID()
}

// DevPrincipal is the caller assumed when authentication is bypassed.
var DevPrincipal = Principal{Subject: "dev", Email: "dev@localhost", Scopes: AllScopes}

// Auth verifies bearer access tokens issued by the identity provider.
type Auth struct {
	verifier   *oidc.IDTokenVerifier
	logger     Logger
	authBypass bool
}

// New creates a new Auth object using values from the application
// configuration. Outside bypass mode it discovers the provider and prepares
// an access token verifier.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	isDev := strings.EqualFold(cfg.Environment, "dev") || strings.EqualFold(cfg.Environment, "development")
	shouldBypass := isDev && cfg.DevModeBypass

	a := &Auth{logger: logger, authBypass: shouldBypass}
	if shouldBypass {
		return a, nil
	}
	if cfg.Auth.Issuer == "" {
		return nil, errors.New("auth configuration is incomplete: issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}
	// Access tokens often carry an API audience rather than a client id.
	a.verifier = provider.Verifier(&oidc.Config{
		ClientID:          cfg.Auth.Audience,
		SkipClientIDCheck: cfg.Auth.Audience == "",
	})
	return a, nil
}

// RequireAuth is middleware that ensures a valid bearer token is present and
// stores the caller in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), DevPrincipal)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="megicode"`)
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token, err := a.verifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		var claims struct {
			Email string   `json:"email"`
			Scp   []string `json:"scp"`
			Scope string   `json:"scope"`
		}
		if err := token.Claims(&claims); err != nil {
			http.Error(w, "failed to parse token claims", http.StatusUnauthorized)
			return
		}
		p := Principal{Subject: token.Subject, Email: claims.Email, Scopes: claims.Scp}
		if len(p.Scopes) == 0 && claims.Scope != "" {
			p.Scopes = strings.Fields(claims.Scope)
		}
		if a.logger != nil {
			a.logger.Debug("authenticated request", "sub", p.Subject, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireScope is middleware that rejects callers whose token lacks scope.
// It must run after RequireAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if !p.HasScope(scope) {
				http.Error(w, "missing scope "+scope, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
