// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// APITokenAuth enforces a shared bearer token on triage routes.
func APITokenAuth(apiToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(apiToken) == "" {
				logger.Error("api token not configured")
				http.Error(w, "api auth not configured", http.StatusInternalServerError)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
				logger.Warn("api token rejected", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid api token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
