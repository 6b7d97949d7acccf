package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidlink-backend/internal/domain"
	apperrors "vidlink-backend/pkg/errors"
)

// memoryCallStore is an in-memory CallStore with the same upsert semantics
// as the durable store
type memoryCallStore struct {
	mu           sync.Mutex
	calls        map[uuid.UUID]*domain.Call
	participants map[uuid.UUID]map[uuid.UUID]*domain.CallParticipant
	findCalls    int
	failAll      bool
}

func newMemoryCallStore() *memoryCallStore {
	return &memoryCallStore{
		calls:        make(map[uuid.UUID]*domain.Call),
		participants: make(map[uuid.UUID]map[uuid.UUID]*domain.CallParticipant),
	}
}

func (s *memoryCallStore) addCall(status domain.CallStatus) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.calls[id] = &domain.Call{
		CallID:    id,
		Kind:      domain.CallKindVideo,
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
	return id
}

func (s *memoryCallStore) FindCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.failAll {
		return nil, apperrors.DatabaseError("store unavailable", assert.AnError)
	}
	call, ok := s.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError("call not found")
	}
	return call, nil
}

func (s *memoryCallStore) UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, false, apperrors.DatabaseError("store unavailable", assert.AnError)
	}
	rows, ok := s.participants[callID]
	if !ok {
		rows = make(map[uuid.UUID]*domain.CallParticipant)
		s.participants[callID] = rows
	}
	if row, exists := rows[userID]; exists {
		row.Active = true
		row.LeftAt = nil
		return row, false, nil
	}
	row := &domain.CallParticipant{
		CallID:   callID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
		Active:   true,
	}
	rows[userID] = row
	return row, true, nil
}

func (s *memoryCallStore) DeactivateParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return apperrors.DatabaseError("store unavailable", assert.AnError)
	}
	if row, ok := s.participants[callID][userID]; ok && row.Active {
		now := time.Now().UTC()
		row.Active = false
		row.LeftAt = &now
	}
	return nil
}

func (s *memoryCallStore) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.CallParticipant, 0, len(s.participants[callID]))
	for _, row := range s.participants[callID] {
		out = append(out, row)
	}
	return out, nil
}

func TestDirectory_LookupCall(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)

	call, err := d.LookupCall(context.Background(), callID)

	require.NoError(t, err)
	assert.Equal(t, callID, call.CallID)
	assert.Equal(t, domain.CallStatusActive, call.Status)
}

func TestDirectory_LookupCachesResults(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)

	_, err := d.LookupCall(context.Background(), callID)
	require.NoError(t, err)
	_, err = d.LookupCall(context.Background(), callID)
	require.NoError(t, err)

	assert.Equal(t, 1, store.findCalls)
}

func TestDirectory_InvalidateCall(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)

	_, err := d.LookupCall(context.Background(), callID)
	require.NoError(t, err)

	d.InvalidateCall(callID)
	_, err = d.LookupCall(context.Background(), callID)
	require.NoError(t, err)

	assert.Equal(t, 2, store.findCalls)
}

func TestDirectory_UnknownCallIsNotFound(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)

	_, err := d.LookupCall(context.Background(), uuid.New())

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDirectory_StoreOutageIsNotNotFound(t *testing.T) {
	store := newMemoryCallStore()
	store.failAll = true
	d := NewDirectory(store)

	_, err := d.LookupCall(context.Background(), uuid.New())

	require.Error(t, err)
	assert.False(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatabase))
}

func TestDirectory_EnsureParticipantIdempotent(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)
	userID := uuid.New()

	require.NoError(t, d.EnsureParticipant(context.Background(), callID, userID))
	require.NoError(t, d.EnsureParticipant(context.Background(), callID, userID))

	rows, err := d.Participants(context.Background(), callID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Active)
}

func TestDirectory_EnsureParticipantConcurrent(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.EnsureParticipant(context.Background(), callID, userID)
		}()
	}
	wg.Wait()

	rows, err := d.Participants(context.Background(), callID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Active)
}

func TestDirectory_MarkLeftThenRejoin(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)
	userID := uuid.New()

	require.NoError(t, d.EnsureParticipant(context.Background(), callID, userID))
	require.NoError(t, d.MarkLeft(context.Background(), callID, userID))

	rows, _ := d.Participants(context.Background(), callID)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Active)
	assert.NotNil(t, rows[0].LeftAt)

	require.NoError(t, d.EnsureParticipant(context.Background(), callID, userID))

	rows, _ = d.Participants(context.Background(), callID)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Active)
	assert.Nil(t, rows[0].LeftAt)
}

func TestDirectory_MarkLeftTwiceIsNoOp(t *testing.T) {
	store := newMemoryCallStore()
	d := NewDirectory(store)
	callID := store.addCall(domain.CallStatusActive)
	userID := uuid.New()

	require.NoError(t, d.EnsureParticipant(context.Background(), callID, userID))
	require.NoError(t, d.MarkLeft(context.Background(), callID, userID))
	require.NoError(t, d.MarkLeft(context.Background(), callID, userID))
}
