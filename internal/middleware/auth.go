package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/filegate/service/internal/response"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// PrincipalIDKey is the context key for the authenticated caller's id.
const PrincipalIDKey contextKey = "principalID"

// PrincipalRoleKey is the context key for the authenticated caller's role.
const PrincipalRoleKey contextKey = "principalRole"

// RequireAuth returns middleware that validates a Bearer JWT and injects the
// caller's id and role into the request context. Token issuance happens in the
// identity service; this gateway only consumes the resulting principal.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "invalid authorization header format")
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				response.Unauthorized(w, "invalid token claims")
				return
			}

			principalID, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			if principalID == "" {
				response.Unauthorized(w, "token carries no subject")
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalIDKey, principalID)
			ctx = context.WithValue(ctx, PrincipalRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that rejects callers whose role is not in the
// given set. Must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(PrincipalRoleKey).(string)
			if _, ok := allowed[role]; !ok {
				response.Forbidden(w, "insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
