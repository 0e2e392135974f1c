package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// accessTokenParam carries the bearer token on websocket upgrade requests,
// for clients that cannot set request headers.
const accessTokenParam = "access_token"

// authMiddleware guards the queue administration routes. A request passes
// with the configured bearer token or basic credentials; anything else gets
// a 401 with a WWW-Authenticate challenge and a warn log line.
func authMiddleware(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, detail := authorize(cfg, r); !ok {
				logAuthFailure(logger, r, detail)
				challenge(w, cfg)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorize reports whether r carries valid credentials, and why not.
func authorize(cfg AuthConfig, r *http.Request) (bool, string) {
	if cfg.BearerToken != "" {
		if token, ok := bearerToken(r); ok {
			if constantTimeEqual(token, cfg.BearerToken) {
				return true, ""
			}
			return false, "invalid bearer token"
		}
	}

	if cfg.BasicUser != "" && cfg.BasicPass != "" {
		if user, pass, ok := r.BasicAuth(); ok {
			if constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
				return true, ""
			}
			return false, "invalid basic credentials"
		}
	}

	if r.Header.Get("Authorization") == "" {
		return false, "missing credentials"
	}
	return false, "unsupported authorization scheme"
}

// bearerToken extracts the token from the Authorization header, or from the
// access_token query parameter on websocket upgrades.
func bearerToken(r *http.Request) (string, bool) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token, true
	}
	if isUpgrade(r) {
		if token := r.URL.Query().Get(accessTokenParam); token != "" {
			return token, true
		}
	}
	return "", false
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func challenge(w http.ResponseWriter, cfg AuthConfig) {
	if cfg.BearerToken != "" {
		w.Header().Add("WWW-Authenticate", `Bearer realm="apmd"`)
	}
	if cfg.BasicUser != "" && cfg.BasicPass != "" {
		w.Header().Add("WWW-Authenticate", `Basic realm="apmd"`)
	}
}

func logAuthFailure(logger *slog.Logger, r *http.Request, detail string) {
	if logger == nil {
		return
	}
	logger.Warn("gateway: auth failure",
		"detail", detail,
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
