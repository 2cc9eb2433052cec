package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// requireAdminToken guards mutating endpoints. The token comes from
// TELEMIRROR_ADMIN_TOKEN; when unset, mutations are open outside
// production and rejected in it.
func requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := os.Getenv("TELEMIRROR_ADMIN_TOKEN")
		if token == "" {
			if os.Getenv("TELEMIRROR_ENV") == "production" {
				http.Error(w, "admin token is required in production mode", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		// Compare digests so the comparison is constant-time regardless
		// of token length.
		want := sha256.Sum256([]byte(token))
		got := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
