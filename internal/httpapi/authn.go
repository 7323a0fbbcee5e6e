package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"scriptoria.org/internal/auth"
	"scriptoria.org/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token into an authz.Actor and stores it on
// the context. Authorization itself happens inside the services.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		actor := authz.Actor{ID: claims.Subject, Roles: claims.Roles}
		next.ServeHTTP(w, r.WithContext(authz.ContextWithActor(r.Context(), actor)))
	})
}

func actorFrom(r *http.Request) (authz.Actor, bool) {
	return authz.ActorFromContext(r.Context())
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
