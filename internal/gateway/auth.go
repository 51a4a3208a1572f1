package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/soyeahso/parley/internal/config"
)

// Auth modes.
const (
	AuthModeToken = "token"
	AuthModeNone  = "none"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth is the gateway's effective auth setting.
type ResolvedAuth struct {
	Mode  string
	Token string
}

// ResolveAuth picks the auth mode. With no explicit mode, a configured token
// implies token auth.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token}
	if auth.Mode == "" {
		auth.Mode = AuthModeNone
		if auth.Token != "" {
			auth.Mode = AuthModeToken
		}
	}
	return auth
}

// Authorize checks a presented token against the server setting.
func Authorize(server ResolvedAuth, token string) AuthResult {
	switch server.Mode {
	case AuthModeNone:
		return AuthResult{OK: true, Method: AuthModeNone}
	case AuthModeToken:
		if server.Token == "" {
			return AuthResult{Reason: "server token not configured"}
		}
		if token == "" {
			return AuthResult{Reason: "token required"}
		}
		if !safeEqual(token, server.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModeToken}
	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth guards REST routes. Failed attempts count toward the per-IP
// limit shared with the WebSocket handshake.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Mode == AuthModeNone {
			next.ServeHTTP(w, r)
			return
		}
		if !s.authLimiter.allow(r.RemoteAddr) {
			writeFailure(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed auth attempts")
			return
		}
		res := Authorize(s.auth, bearerToken(r))
		if !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("rejected REST request")
			writeFailure(w, http.StatusUnauthorized, "UNAUTHORIZED", res.Reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// safeEqual compares in constant time without leaking the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
