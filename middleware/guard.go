package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tcgemporium/authcore"
	"github.com/tcgemporium/authcore/jwt"
)

type claimsContextKey struct{}

// Gatekeeper is the part of *authcore.Engine the middleware needs.
type Gatekeeper interface {
	Gate(ctx context.Context, token, requestPath string) (*jwt.Claims, error)
}

// ClaimsFromContext returns the claims Gate stored for the request.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return c, ok && c != nil
}

// WithClaims stores claims in ctx the way Gate does.
func WithClaims(ctx context.Context, c *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// Gate authenticates every request with the token from the auth cookie, or
// an Authorization bearer header when no cookie is present, and applies the
// engine's purpose policy to the request path. Rejections carry fixed bodies.
func Gate(engine Gatekeeper, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := requestToken(r, cookieName)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.Gate(r.Context(), token, r.URL.Path)
			if err != nil {
				if errors.Is(err, authcore.ErrForbidden) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePurpose rejects requests whose claims carry a different purpose.
// It runs behind Gate.
func RequirePurpose(purpose jwt.Purpose) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Purpose != purpose {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest returns the token Gate would authenticate with.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return requestToken(r, cookieName)
}

func requestToken(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
