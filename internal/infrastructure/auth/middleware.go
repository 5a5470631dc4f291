package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/honeynil/venue-ledger/internal/infrastructure/redis"
)

type ctxKey struct{}

// OperatorTokenKey is where the issuing side stores the active token of an
// operator. Deleting the key revokes it.
func OperatorTokenKey(userID int64) string {
	return fmt.Sprintf("operator:%d:token", userID)
}

// OperatorID returns the authenticated operator id set by AuthMiddleware.
func OperatorID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

func WithOperatorID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func AuthMiddleware(redisClient redis.RedisClient, tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			claims, err := tokens.ValidateJWT(tokenStr)
			if errors.Is(err, ErrForbiddenRole) {
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			// Check token in Redis
			storedToken, err := redisClient.Get(r.Context(), OperatorTokenKey(claims.UserID))
			if err != nil || storedToken != tokenStr {
				slog.Error("invalid or revoked token", "user_id", claims.UserID, "error", err)
				http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperatorID(r.Context(), claims.UserID)))
		})
	}
}
