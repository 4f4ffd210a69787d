package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

type contextKey struct{}

// Identity is attached to the request context of authenticated requests
type Identity struct {
	UserID string
	Email  string
	Role   string
	Method string // "jwt" or "apikey"
}

// AuthMiddleware accepts a bearer JWT or an X-API-Key header. Browsers
// opening the job event socket cannot set headers, so access_token is
// also read from the query string.
type AuthMiddleware struct {
	jwtManager    *JWTManager
	apiKeyManager *APIKeyManager
	optional      bool
}

func NewAuthMiddleware(jwtManager *JWTManager, apiKeyManager *APIKeyManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:    jwtManager,
		apiKeyManager: apiKeyManager,
		optional:      optional,
	}
}

// Handler wraps next with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, attempted, reason := m.authenticate(r)
		switch {
		case id != nil:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		case attempted && !m.optional:
			writeError(w, http.StatusUnauthorized, reason)
		case m.optional:
			next.ServeHTTP(w, r)
		default:
			writeError(w, http.StatusUnauthorized, "no valid authentication provided")
		}
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*Identity, bool, string) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		token = q
	}
	if token != "" && m.jwtManager != nil {
		claims, err := m.jwtManager.Verify(token)
		if err != nil {
			return nil, true, "invalid or expired token"
		}
		return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role, Method: "jwt"}, true, ""
	}

	if key := r.Header.Get("X-API-Key"); key != "" && m.apiKeyManager != nil {
		apiKey, err := m.apiKeyManager.Verify(key)
		if err != nil {
			return nil, true, "invalid or revoked API key"
		}
		return &Identity{UserID: apiKey.UserID, Role: apiKey.Role, Method: "apikey"}, true, ""
	}
	return nil, false, ""
}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached by Handler, if any
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// GetUserID extracts the user ID from the request context
func GetUserID(r *http.Request) (string, bool) {
	id, ok := FromContext(r.Context())
	if !ok {
		return "", false
	}
	return id.UserID, true
}

// RequireRole rejects requests whose identity holds none of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok || !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	code := "UNAUTHORIZED"
	if status == http.StatusForbidden {
		code = "FORBIDDEN"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
