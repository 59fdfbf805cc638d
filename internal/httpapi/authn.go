package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"postwise.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	adminRole  = "admin"
)

// Public paths authenticate by other means (cron secret, signed state) or
// not at all.
var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/social/publisher",
	"/v1/social/callback",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if a.deps.Tokens == nil {
			unauthorized(w, r, "authentication is not configured")
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		claims, err := a.deps.Tokens.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				unauthorized(w, r, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cronAuthorized checks the shared secret on the sweep trigger. An unset
// secret leaves the endpoint open.
func (a *API) cronAuthorized(r *http.Request) bool {
	if a.deps.CronSecret == "" {
		return true
	}
	got := strings.TrimSpace(r.Header.Get(authHeader))
	want := bearer + a.deps.CronSecret
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// adminAuthorized accepts a user token carrying the admin role, so operators
// can trigger a sweep without the cron secret.
func (a *API) adminAuthorized(r *http.Request) bool {
	if a.deps.Tokens == nil {
		return false
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return false
	}
	claims, err := a.deps.Tokens.ParseAndValidate(token)
	if err != nil {
		return false
	}
	ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
	return auth.HasRole(ctx, adminRole)
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="postwise"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
