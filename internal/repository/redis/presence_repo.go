package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidlink-backend/internal/domain"
)

// activeCallsTTL matches how long a cached active-call listing stays valid
const activeCallsTTL = 5 * time.Minute

// inCallTTL bounds how long an in-call marker survives without a refresh
const inCallTTL = 5 * time.Minute

// PresenceRepository tracks which users are currently in calls and caches
// per-user active-call listings in Redis
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetInCall marks the user as present in the call
func (r *PresenceRepository) SetInCall(ctx context.Context, userID, callID uuid.UUID) error {
	key := fmt.Sprintf("presence:in_call:%s", userID)

	if err := r.client.Set(ctx, key, callID.String(), inCallTTL).Err(); err != nil {
		return fmt.Errorf("failed to set in-call presence: %w", err)
	}

	membersKey := fmt.Sprintf("call:%s:online", callID)
	if err := r.client.SAdd(ctx, membersKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to call online set: %w", err)
	}

	return nil
}

// ClearInCall removes the user's in-call marker
func (r *PresenceRepository) ClearInCall(ctx context.Context, userID, callID uuid.UUID) error {
	key := fmt.Sprintf("presence:in_call:%s", userID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear in-call presence: %w", err)
	}

	membersKey := fmt.Sprintf("call:%s:online", callID)
	if err := r.client.SRem(ctx, membersKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from call online set: %w", err)
	}

	return nil
}

// IsInCall reports whether the user currently holds an in-call marker
func (r *PresenceRepository) IsInCall(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("presence:in_call:%s", userID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check in-call presence: %w", err)
	}

	return exists > 0, nil
}

// CacheActiveCalls stores the user's active-call listing
func (r *PresenceRepository) CacheActiveCalls(ctx context.Context, userID uuid.UUID, calls []*domain.Call) error {
	key := fmt.Sprintf("active_calls:%s", userID)

	data, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("failed to marshal active calls: %w", err)
	}

	if err := r.client.Set(ctx, key, data, activeCallsTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache active calls: %w", err)
	}

	return nil
}

// GetActiveCalls retrieves the user's cached active-call listing; the second
// return value reports a cache hit
func (r *PresenceRepository) GetActiveCalls(ctx context.Context, userID uuid.UUID) ([]*domain.Call, bool, error) {
	key := fmt.Sprintf("active_calls:%s", userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get active calls: %w", err)
	}

	var calls []*domain.Call
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal active calls: %w", err)
	}

	return calls, true, nil
}

// InvalidateActiveCalls drops the user's cached listing after a membership
// or status change
func (r *PresenceRepository) InvalidateActiveCalls(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("active_calls:%s", userID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate active calls: %w", err)
	}

	return nil
}
