package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidlink-backend/pkg/push"
)

// PushTokenRepository stores device push tokens in Redis, keyed per user so
// ring notifications can resolve a callee's devices in one round-trip
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.HSet(ctx, userTokensKey(token.UserID), token.Token, data).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	return nil
}

// GetByUserID retrieves all tokens registered for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	entries, err := r.client.HGetAll(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(entries))
	for _, raw := range entries {
		var t push.Token
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		tokens = append(tokens, &t)
	}

	return tokens, nil
}

// Delete removes one device token for a user
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	if err := r.client.HDel(ctx, userTokensKey(userID), tokenStr).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
