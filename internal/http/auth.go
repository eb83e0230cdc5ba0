package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// APIKeyHeader carries the API key on every authenticated request.
const APIKeyHeader = "X-API-Key"

// apiKeyAuth middleware enforces API key authentication
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authOff {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		if s.rateLimiter.IsLimited(clientIP) {
			L_warn("http: rate limited", "ip", clientIP)
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many failed attempts, try again later", Kind: "rate_limited"})
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "API key required", Kind: "unauthorized"})
			return
		}
		if !s.verifyKey(key) {
			s.rateLimiter.RecordFailure(clientIP)
			L_warn("http: auth failed - bad API key", "ip", clientIP)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid API key", Kind: "unauthorized"})
			return
		}

		s.rateLimiter.ClearFailure(clientIP)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) verifyKey(key string) bool {
	for _, k := range s.apiKeys {
		if verifyHash(k, key) {
			return true
		}
	}
	return false
}

// verifyHash checks key against a stored value. bcrypt hashes ($2a$, $2b$, $2y$)
// are verified as such; anything else is compared verbatim, which is only
// suitable for development.
func verifyHash(hash, key string) bool {
	if hash == "" {
		return false
	}
	if isBcrypt(hash) {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(key)) == 1
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashKey creates a bcrypt hash of an API key for the config file.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (if behind reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
