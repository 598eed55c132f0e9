package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"docverify/internal/document/model"
	"docverify/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	RoleKey   contextKey = "role"
)

// AuthMiddleware validates the HMAC-signed bearer token and stores the
// principal id (sub) and role in the request context.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers cannot set headers on WebSocket upgrades, so the token may
			// also arrive in the query string.
			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if tokenString == "" {
				http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				if secret == "" {
					return nil, fmt.Errorf("server is not configured to validate JWTs")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.Sugar.Warnf("Invalid token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Unauthorized: Could not parse token claims", http.StatusUnauthorized)
				return
			}
			userID, _ := claims["sub"].(string)
			if userID == "" {
				http.Error(w, "Unauthorized: User ID (sub) claim is missing or invalid", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, RoleKey, roleFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireResolver lets the request through only for verifiers and admins.
// It must run inside AuthMiddleware.
func RequireResolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !RoleFrom(r.Context()).CanResolve() {
			http.Error(w, "Forbidden: verifier or admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

func RoleFrom(ctx context.Context) model.Role {
	role, ok := ctx.Value(RoleKey).(model.Role)
	if !ok {
		return model.RoleUser
	}
	return role
}

// roleFromClaims reads the custom user_role claim, falling back to
// app_metadata.role. Anything unrecognised is a plain user.
func roleFromClaims(claims jwt.MapClaims) model.Role {
	if s, ok := claims["user_role"].(string); ok {
		return model.ParseRole(s)
	}
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if s, ok := meta["role"].(string); ok {
			return model.ParseRole(s)
		}
	}
	return model.RoleUser
}
