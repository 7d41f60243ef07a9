package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/auth"
	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
)

type contextKey string

const (
	ContextKeySessionKey  contextKey = "session_key"
	ContextKeyRole        contextKey = "role"
	ContextKeyIsMasterKey contextKey = "is_master_key"
)

// MasterKeySession is the session used by callers authenticated with the master key.
const MasterKeySession = "default"

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	MasterKey    string
	JWTValidator *auth.JWTValidator
	RBACEngine   *auth.RBACEngine
	Logger       *zap.SugaredLogger
}

// NewAuthMiddleware accepts the master key or a dashboard JWT and stores the
// caller's session key and role in the request context.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	masterKeyHash := hashToken(cfg.MasterKey)
	log := logs.OrNop(cfg.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				authError(w, "missing API key", http.StatusUnauthorized)
				return
			}

			sessionKey, role, isMaster := "", auth.RoleUser, false
			switch {
			case cfg.MasterKey != "" && subtle.ConstantTimeCompare(hashToken(token), masterKeyHash) == 1:
				sessionKey, role, isMaster = MasterKeySession, auth.RoleAdmin, true

			case cfg.JWTValidator != nil && isJWT(token):
				claims, err := cfg.JWTValidator.ValidateToken(r.Context(), token)
				if err != nil {
					log.Infof("auth: JWT validation failed: %v", err)
					authError(w, "invalid JWT token", http.StatusUnauthorized)
					return
				}
				role, err = auth.ParseRole(claims.Role)
				if err != nil {
					authError(w, fmt.Sprintf("unknown role %q", claims.Role), http.StatusForbidden)
					return
				}
				sessionKey = claims.Subject

			default:
				authError(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			if cfg.RBACEngine != nil {
				if err := cfg.RBACEngine.CheckRouteAccess(role, r.URL.Path); err != nil {
					authError(w, fmt.Sprintf("access denied: %s", err), http.StatusForbidden)
					return
				}
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ContextKeySessionKey, sessionKey)
			ctx = context.WithValue(ctx, ContextKeyRole, role)
			ctx = context.WithValue(ctx, ContextKeyIsMasterKey, isMaster)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionKey returns the authenticated caller's session key, or "".
func SessionKey(ctx context.Context) string {
	s, _ := ctx.Value(ContextKeySessionKey).(string)
	return s
}

// RoleFrom returns the authenticated caller's role.
func RoleFrom(ctx context.Context) auth.Role {
	r, _ := ctx.Value(ContextKeyRole).(auth.Role)
	return r
}

// isJWT checks if a token looks like a JWT (3 dot-separated segments).
func isJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// extractToken reads "Authorization: Bearer <token>", falling back to x-api-key.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		if token, ok := strings.CutPrefix(h, "bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("x-api-key")
}

func authError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: model.ErrorDetail{
		Message: msg,
		Type:    "authentication_error",
	}})
}

func hashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}
