package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"busticket/internal/auth"
)

// Authenticate puts the identity of a bearer token into the request context.
// Requests without a token pass through anonymously; the use cases decide
// whether that is enough. A malformed or invalid token is rejected here.
func Authenticate(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				unauthorized(w, "authorization header must be a bearer token")
				return
			}
			id, err := tokens.Parse(strings.TrimSpace(raw))
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "message": msg})
}
