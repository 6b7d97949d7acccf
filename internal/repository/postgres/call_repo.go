package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidlink-backend/internal/domain"
	apperrors "vidlink-backend/pkg/errors"
)

// uniqueViolation is the PostgreSQL error code raised when the
// (call_id, user_id) uniqueness constraint rejects a duplicate insert
const uniqueViolation = "23505"

// CallRepository handles call and participant persistence. It implements the
// session directory's CallStore contract.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateCall inserts a new call record
func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, initiator_id, call_type, status, started_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.InitiatorID,
		call.Kind,
		call.Status,
		call.StartedAt,
	)

	if err != nil {
		return apperrors.DatabaseError("failed to create call", err)
	}

	return nil
}

// FindCall retrieves a call by ID. An unknown ID yields CALL_NOT_FOUND,
// which is a distinct condition from a database failure.
func (r *CallRepository) FindCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, initiator_id, call_type, status, started_at, ended_at
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.InitiatorID,
		&call.Kind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError(fmt.Sprintf("call %s not found", callID))
		}
		return nil, apperrors.DatabaseError("failed to get call", err)
	}

	return call, nil
}

// UpdateStatus updates call status
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2
		WHERE call_id = $1
	`

	if _, err := r.pool.Exec(ctx, query, callID, status); err != nil {
		return apperrors.DatabaseError("failed to update call status", err)
	}

	return nil
}

// EndCall marks a call with the given terminal status and stamps the end time
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = NOW()
		WHERE call_id = $1 AND ended_at IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, callID, status); err != nil {
		return apperrors.DatabaseError("failed to end call", err)
	}

	return nil
}

// ActiveCallsForUser retrieves calls the user participates in that have not
// ended yet
func (r *CallRepository) ActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	query := `
		SELECT DISTINCT c.call_id, c.initiator_id, c.call_type, c.status,
		       c.started_at, c.ended_at
		FROM calls c
		LEFT JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE (c.initiator_id = $1 OR cp.user_id = $1)
		  AND c.ended_at IS NULL
		ORDER BY c.started_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to get active calls", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.CallID,
			&call.InitiatorID,
			&call.Kind,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
		)
		if err != nil {
			return nil, apperrors.DatabaseError("failed to scan call", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// UpsertParticipant idempotently records that the user joined the call. The
// fast path inserts a fresh row; when the uniqueness constraint on
// (call_id, user_id) rejects it, a concurrent or earlier join already owns
// the row and we reactivate it instead. The constraint, not the read, is the
// race-safety mechanism.
func (r *CallRepository) UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, bool, error) {
	insert := `
		INSERT INTO call_participants (call_id, user_id, joined_at, is_active)
		VALUES ($1, $2, $3, TRUE)
	`

	joinedAt := time.Now().UTC()
	_, err := r.pool.Exec(ctx, insert, callID, userID, joinedAt)
	if err == nil {
		return &domain.CallParticipant{
			CallID:   callID,
			UserID:   userID,
			JoinedAt: joinedAt,
			Active:   true,
		}, true, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil, false, apperrors.DatabaseError("failed to add participant", err)
	}

	// Someone else won the insert; reactivate their row.
	reactivate := `
		UPDATE call_participants
		SET is_active = TRUE, left_at = NULL
		WHERE call_id = $1 AND user_id = $2
		RETURNING call_id, user_id, joined_at, left_at, is_active
	`

	p := &domain.CallParticipant{}
	err = r.pool.QueryRow(ctx, reactivate, callID, userID).Scan(
		&p.CallID,
		&p.UserID,
		&p.JoinedAt,
		&p.LeftAt,
		&p.Active,
	)
	if err != nil {
		return nil, false, apperrors.DatabaseError("failed to reactivate participant", err)
	}

	return p, false, nil
}

// DeactivateParticipant flips the participant row inactive and stamps the
// departure time. Already-left rows are untouched, so duplicate calls are
// no-ops.
func (r *CallRepository) DeactivateParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	query := `
		UPDATE call_participants
		SET is_active = FALSE, left_at = $3
		WHERE call_id = $1 AND user_id = $2 AND is_active
	`

	if _, err := r.pool.Exec(ctx, query, callID, userID, time.Now().UTC()); err != nil {
		return apperrors.DatabaseError("failed to deactivate participant", err)
	}

	return nil
}

// ListParticipants retrieves all declared participants of a call, active and
// departed
func (r *CallRepository) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT call_id, user_id, joined_at, left_at, is_active
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to get participants", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		err := rows.Scan(
			&p.CallID,
			&p.UserID,
			&p.JoinedAt,
			&p.LeftAt,
			&p.Active,
		)
		if err != nil {
			return nil, apperrors.DatabaseError("failed to scan participant", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}
