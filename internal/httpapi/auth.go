package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig holds the static API keys. OperatorKey guards the desk
// actions (advance, postpone, complete, cancel, recall); AdminKey
// additionally guards the daily reset. Patient-facing endpoints stay
// open: intake, token status, snapshot, and the event feed.
type AuthConfig struct {
	OperatorKey string
	AdminKey    string
}

func AuthMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}

		if isAdminEndpoint(r) {
			if !keysEqual(token, cfg.AdminKey) {
				writeError(w, http.StatusForbidden, "access_denied", "admin key required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !keysEqual(token, cfg.OperatorKey) && !keysEqual(token, cfg.AdminKey) {
			writeError(w, http.StatusForbidden, "access_denied", "operator key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func keysEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/tickets":
		return r.Method == http.MethodPost
	case "/api/status", "/api/lanes/snapshot", "/api/events":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}

func isAdminEndpoint(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/admin/")
}
