package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey keys values stored in the request context.
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// AuthMiddleware validates the Bearer token and puts the authenticated user
// (including their branch, carried in the claims) into the request context.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil {
				utils.WriteUnauthorizedResponse(w, "Invalid token: "+err.Error())
				return
			}
			if !token.Valid {
				utils.WriteUnauthorizedResponse(w, "Invalid token")
				return
			}

			claims, ok := token.Claims.(*models.TokenClaims)
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Invalid token claims")
				return
			}

			// Only access tokens open the API; refresh tokens do not.
			if claims.Type != "access" {
				utils.WriteUnauthorizedResponse(w, "Invalid token type")
				return
			}
			if time.Now().Unix() > claims.Exp {
				utils.WriteUnauthorizedResponse(w, "Token expired")
				return
			}

			user := &models.User{
				ID:       claims.UserID,
				Email:    claims.Email,
				BranchID: claims.BranchID,
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext extracts the authenticated user, if any.
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// RequireUser returns the authenticated user or an error for handlers that
// must not run anonymously.
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not authenticated")
	}
	return user, nil
}
