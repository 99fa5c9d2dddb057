package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pricetrail.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/signup",
	"/v1/auth/signin",
	"/v1/auth/refresh",
}

// withAuth resolves the bearer token into an auth.Identity for every
// non-public path.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.svc.Auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			// EventSource cannot set headers; SSE endpoints accept ?access_token=.
			if q := strings.TrimSpace(r.URL.Query().Get("access_token")); q != "" && isStreamPath(r.URL.Path) {
				token, err = q, nil
			}
		}
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		identity, err := a.svc.Auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				a.logger.Error("authenticate", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity returns the caller or writes 401.
func (a *API) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	return identity, true
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

func isStreamPath(path string) bool {
	return path == "/v1/changes" || path == "/v1/auth/events"
}
