package auth

import (
	"net/http"
	"strings"

	"github.com/brightpath-edu/brightpath-auth/internal/platform/httpx"
)

// Middleware wires bearer-token verification for HTTP handlers.
type Middleware struct {
	Tokens *TokenIssuer
}

// RequireAuth verifies the bearer access token and attaches its claims to the
// request context for downstream role checks.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		claims, err := m.Tokens.ParseAccess(token)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// RequireRole ensures the verified claims carry one of the given roles. It
// must be mounted behind RequireAuth.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
		})
	}
}

// ClientContext hashes the client address and stores it with the user agent on
// the request context; security events pick both up from there.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := ClientInfo{
			IPHash:    HashIP(remoteIP(r)),
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), info)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func remoteIP(r *http.Request) string {
	// chi's RealIP middleware has already rewritten RemoteAddr when a proxy
	// header is present.
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		addr = addr[:idx]
	}
	return addr
}
