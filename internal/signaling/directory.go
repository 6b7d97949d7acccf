package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vidlink-backend/internal/domain"
	"vidlink-backend/pkg/cache"
)

// CallStore is the persistence collaborator behind the session directory.
// Implementations must make UpsertParticipant safe under concurrent
// invocation for the same (call, user) pair: the second writer observes and
// reactivates the first writer's row instead of creating a duplicate.
type CallStore interface {
	FindCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, bool, error)
	DeactivateParticipant(ctx context.Context, callID, userID uuid.UUID) error
	ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
}

// Directory bridges live call state and the durable record of a call and its
// declared participants. Call lookups are cached briefly so admission checks
// do not hit the store on every connection.
type Directory struct {
	store    CallStore
	lookups  *cache.MemoryCache
	cacheTTL time.Duration
}

// NewDirectory creates a directory over the given store
func NewDirectory(store CallStore) *Directory {
	return &Directory{
		store:    store,
		lookups:  cache.NewMemoryCache(30*time.Second, 4096),
		cacheTTL: 30 * time.Second,
	}
}

// LookupCall fetches call status and kind, serving recent results from
// cache. An unknown call ID surfaces as the store's not-found error; store
// outages are surfaced distinctly as retryable failures.
func (d *Directory) LookupCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	key := callID.String()
	if v, ok := d.lookups.Get(key); ok {
		return v.(*domain.Call), nil
	}

	call, err := d.store.FindCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	// One short TTL for every status. A live call's status can flip under
	// us, so transitions invalidate the entry rather than wait it out.
	d.lookups.Set(key, call, d.cacheTTL)
	return call, nil
}

// InvalidateCall drops any cached lookup for the call, used when its status
// is changed by a request handler
func (d *Directory) InvalidateCall(callID uuid.UUID) {
	d.lookups.Delete(callID.String())
}

// EnsureParticipant idempotently records that the user has joined the call,
// creating the participant row or reactivating an inactive one. Calling it
// twice, sequentially or racing, leaves exactly one active row.
func (d *Directory) EnsureParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	if _, _, err := d.store.UpsertParticipant(ctx, callID, userID); err != nil {
		return fmt.Errorf("ensure participant: %w", err)
	}
	return nil
}

// MarkLeft flips the participant row inactive and stamps the departure time.
// Marking an already-left participant is a no-op.
func (d *Directory) MarkLeft(ctx context.Context, callID, userID uuid.UUID) error {
	if err := d.store.DeactivateParticipant(ctx, callID, userID); err != nil {
		return fmt.Errorf("mark left: %w", err)
	}
	return nil
}

// Participants returns the declared participant rows for the call, for
// request handlers that render point-in-time call state
func (d *Directory) Participants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	return d.store.ListParticipants(ctx, callID)
}
