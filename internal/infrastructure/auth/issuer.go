package auth

import (
	"context"
	"fmt"

	"github.com/honeynil/venue-ledger/internal/infrastructure/redis"
)

// IssueOperatorToken signs an operator token and stores it as the only
// active token of that operator. A previously issued token stops working.
func IssueOperatorToken(ctx context.Context, store redis.RedisClient, tokens *TokenService, operatorID int64) (string, error) {
	if operatorID <= 0 {
		return "", fmt.Errorf("%w: operator id must be positive", ErrInvalidToken)
	}
	token, err := tokens.GenerateJWT(operatorID, RoleOperator)
	if err != nil {
		return "", err
	}
	if err := store.Set(ctx, OperatorTokenKey(operatorID), token, tokens.ttl); err != nil {
		return "", fmt.Errorf("failed to store operator token: %w", err)
	}
	return token, nil
}

func RevokeOperatorToken(ctx context.Context, store redis.RedisClient, operatorID int64) error {
	if err := store.Del(ctx, OperatorTokenKey(operatorID)); err != nil {
		return fmt.Errorf("failed to revoke operator token: %w", err)
	}
	return nil
}
