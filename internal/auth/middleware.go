package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// RequireUser verifies the caller once at request entry and stores the user
// in the request context. Denied requests get 401 with the redirect target.
func RequireUser(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var user *User
			if u, err := v.VerifyRequest(r); err == nil {
				user = &u
			} else {
				slog.Debug("token rejected", "path", r.URL.Path, "error", err)
			}

			d := Authorize(user)
			if !d.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":    "unauthorized",
					"redirect": d.Redirect,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), *user)))
		})
	}
}
