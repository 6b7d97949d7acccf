package call

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vidlink-backend/internal/domain"
	"vidlink-backend/internal/service/quality"
	apperrors "vidlink-backend/pkg/errors"
	"vidlink-backend/pkg/logger"
	"vidlink-backend/pkg/metrics"
	"vidlink-backend/pkg/push"

	"go.uber.org/zap"
)

// CallRepository persists calls and their participant rows
type CallRepository interface {
	CreateCall(ctx context.Context, call *domain.Call) error
	FindCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	EndCall(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	ActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error)
	UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, bool, error)
	DeactivateParticipant(ctx context.Context, callID, userID uuid.UUID) error
	ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
}

// PresenceRepository tracks who is currently in a call and caches
// per-user active call lists
type PresenceRepository interface {
	SetInCall(ctx context.Context, userID, callID uuid.UUID) error
	ClearInCall(ctx context.Context, userID, callID uuid.UUID) error
	CacheActiveCalls(ctx context.Context, userID uuid.UUID, calls []*domain.Call) error
	GetActiveCalls(ctx context.Context, userID uuid.UUID) ([]*domain.Call, bool, error)
	InvalidateActiveCalls(ctx context.Context, userID uuid.UUID) error
}

// MetricsRepository stores quality telemetry samples
type MetricsRepository interface {
	Save(sample *domain.QualityMetricsSample) error
	RecentByCall(callID uuid.UUID, limit int) ([]*domain.QualityMetricsSample, error)
}

// Pusher rings callees on their registered devices
type Pusher interface {
	SendIncomingCall(ctx context.Context, call *push.IncomingCall, calleeIDs []uuid.UUID) error
}

// AdmissionCache holds cached call lookups used by the signaling layer to
// admit connections. Status transitions must drop the cached entry so a
// just-ended call does not keep admitting joiners for the cache TTL.
type AdmissionCache interface {
	InvalidateCall(callID uuid.UUID)
}

// Service implements call management on top of the repositories
type Service struct {
	callRepo       CallRepository
	presenceRepo   PresenceRepository
	metricsRepo    MetricsRepository
	pusher         Pusher
	admissionCache AdmissionCache
	metrics        *metrics.Metrics
}

// NewService creates a new call service. pusher, metricsRepo, admissionCache
// and m may be nil; the corresponding features degrade to no-ops
func NewService(callRepo CallRepository, presenceRepo PresenceRepository, metricsRepo MetricsRepository, pusher Pusher, admissionCache AdmissionCache, m *metrics.Metrics) *Service {
	return &Service{
		callRepo:       callRepo,
		presenceRepo:   presenceRepo,
		metricsRepo:    metricsRepo,
		pusher:         pusher,
		admissionCache: admissionCache,
		metrics:        m,
	}
}

// StartCallInput carries the parameters for starting a call
type StartCallInput struct {
	InitiatorID   uuid.UUID
	InitiatorName string
	Kind          domain.CallKind
	CalleeIDs     []uuid.UUID
}

// StartCall creates a call, records the initiator as its first participant
// and rings the callees. The call starts in waiting when no callees are
// named, otherwise in ringing
func (s *Service) StartCall(ctx context.Context, input StartCallInput) (*domain.Call, error) {
	if !input.Kind.Valid() {
		return nil, apperrors.ValidationError("unknown call type")
	}

	status := domain.CallStatusWaiting
	if len(input.CalleeIDs) > 0 {
		status = domain.CallStatusRinging
	}

	call := &domain.Call{
		CallID:      uuid.New(),
		InitiatorID: input.InitiatorID,
		Kind:        input.Kind,
		Status:      status,
		StartedAt:   time.Now().UTC(),
	}

	if err := s.callRepo.CreateCall(ctx, call); err != nil {
		return nil, err
	}

	if _, _, err := s.callRepo.UpsertParticipant(ctx, call.CallID, input.InitiatorID); err != nil {
		logger.Error("failed to record call initiator",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
	}

	if err := s.presenceRepo.SetInCall(ctx, input.InitiatorID, call.CallID); err != nil {
		logger.Warn("failed to set presence", zap.Error(err))
	}
	s.invalidateCaches(ctx, input.InitiatorID)

	if s.pusher != nil && len(input.CalleeIDs) > 0 {
		incoming := &push.IncomingCall{
			CallID:     call.CallID,
			CallerID:   input.InitiatorID,
			CallerName: input.InitiatorName,
			CallType:   string(input.Kind),
		}
		if err := s.pusher.SendIncomingCall(ctx, incoming, input.CalleeIDs); err != nil {
			logger.Warn("failed to ring callees",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.CallStarted(string(input.Kind))
	}

	logger.Info("call started",
		zap.String("call_id", call.CallID.String()),
		zap.String("initiator_id", input.InitiatorID.String()),
		zap.String("call_type", string(input.Kind)))

	return call, nil
}

// JoinCall records a user joining a call. Joining a ringing or waiting call
// moves it to active. Ended calls refuse new joins
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.FindCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Ended() {
		return nil, apperrors.CallEndedError("call has already ended")
	}

	if _, _, err := s.callRepo.UpsertParticipant(ctx, callID, userID); err != nil {
		return nil, err
	}

	if call.Status == domain.CallStatusWaiting || call.Status == domain.CallStatusRinging {
		if err := s.callRepo.UpdateStatus(ctx, callID, domain.CallStatusActive); err != nil {
			logger.Error("failed to activate call",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		} else {
			call.Status = domain.CallStatusActive
			s.invalidateAdmission(callID)
		}
	}

	if err := s.presenceRepo.SetInCall(ctx, userID, callID); err != nil {
		logger.Warn("failed to set presence", zap.Error(err))
	}
	s.invalidateCaches(ctx, userID)

	return call, nil
}

// LeaveCall records a user leaving a call. When the last active participant
// leaves, the call ends: missed if it never went active, ended otherwise
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) error {
	if err := s.callRepo.DeactivateParticipant(ctx, callID, userID); err != nil {
		return err
	}

	if err := s.presenceRepo.ClearInCall(ctx, userID, callID); err != nil {
		logger.Warn("failed to clear presence", zap.Error(err))
	}
	s.invalidateCaches(ctx, userID)

	participants, err := s.callRepo.ListParticipants(ctx, callID)
	if err != nil {
		logger.Warn("failed to list participants after leave",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return nil
	}
	for _, p := range participants {
		if p.Active {
			return nil
		}
	}

	call, err := s.callRepo.FindCall(ctx, callID)
	if err != nil || call.Ended() {
		return nil
	}

	final := domain.CallStatusEnded
	if call.Status == domain.CallStatusWaiting || call.Status == domain.CallStatusRinging {
		final = domain.CallStatusMissed
	}
	if err := s.callRepo.EndCall(ctx, callID, final); err != nil {
		logger.Error("failed to auto-end empty call",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return nil
	}
	s.invalidateAdmission(callID)

	if s.metrics != nil {
		s.metrics.CallEnded()
	}
	logger.Info("call ended",
		zap.String("call_id", callID.String()),
		zap.String("status", string(final)))
	return nil
}

// EndCall terminates a call for everyone. Only the initiator may end a call
// this way. Ending is idempotent
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.callRepo.FindCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.InitiatorID != userID {
		return apperrors.NewWithStatus(apperrors.ErrCodeUnauthorized, "only the initiator can end the call", 403)
	}
	if call.Ended() {
		return nil
	}

	final := domain.CallStatusEnded
	if call.Status == domain.CallStatusWaiting || call.Status == domain.CallStatusRinging {
		final = domain.CallStatusMissed
	}
	if err := s.callRepo.EndCall(ctx, callID, final); err != nil {
		return err
	}
	s.invalidateAdmission(callID)

	participants, perr := s.callRepo.ListParticipants(ctx, callID)
	if perr == nil {
		for _, p := range participants {
			if !p.Active {
				continue
			}
			if err := s.callRepo.DeactivateParticipant(ctx, callID, p.UserID); err != nil {
				logger.Warn("failed to deactivate participant on end",
					zap.String("user_id", p.UserID.String()),
					zap.Error(err))
			}
			if err := s.presenceRepo.ClearInCall(ctx, p.UserID, callID); err != nil {
				logger.Warn("failed to clear presence", zap.Error(err))
			}
			s.invalidateCaches(ctx, p.UserID)
		}
	}

	if s.metrics != nil {
		s.metrics.CallEnded()
	}
	logger.Info("call ended by initiator",
		zap.String("call_id", callID.String()),
		zap.String("status", string(final)))
	return nil
}

// CallStatusSnapshot is a point-in-time view of a call and its participants
type CallStatusSnapshot struct {
	Call         *domain.Call              `json:"call"`
	Participants []*domain.CallParticipant `json:"participants"`
}

// Status returns the call and its participant roster
func (s *Service) Status(ctx context.Context, callID uuid.UUID) (*CallStatusSnapshot, error) {
	call, err := s.callRepo.FindCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	participants, err := s.callRepo.ListParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	return &CallStatusSnapshot{Call: call, Participants: participants}, nil
}

// ActiveCalls lists the calls a user is currently part of, served from the
// cache when fresh
func (s *Service) ActiveCalls(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	if calls, ok, err := s.presenceRepo.GetActiveCalls(ctx, userID); err == nil && ok {
		return calls, nil
	}

	calls, err := s.callRepo.ActiveCallsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.presenceRepo.CacheActiveCalls(ctx, userID, calls); err != nil {
		logger.Warn("failed to cache active calls", zap.Error(err))
	}
	return calls, nil
}

// RecordQualitySample stores a telemetry sample and returns the tier the
// client should switch to. Storage failures do not block the recommendation
func (s *Service) RecordQualitySample(ctx context.Context, sample *domain.QualityMetricsSample, cpuUsagePct float64) (quality.Tier, quality.Constraints, error) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	if s.metricsRepo != nil {
		if err := s.metricsRepo.Save(sample); err != nil {
			logger.Warn("failed to store quality sample",
				zap.String("call_id", sample.CallID.String()),
				zap.Error(err))
		}
	}

	tier := quality.OptimalTier(float64(sample.BandwidthKbps), cpuUsagePct)
	return tier, quality.ConstraintsFor(tier), nil
}

// RecentQualitySamples returns the latest telemetry for a call
func (s *Service) RecentQualitySamples(ctx context.Context, callID uuid.UUID, limit int) ([]*domain.QualityMetricsSample, error) {
	if s.metricsRepo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.metricsRepo.RecentByCall(callID, limit)
}

func (s *Service) invalidateAdmission(callID uuid.UUID) {
	if s.admissionCache != nil {
		s.admissionCache.InvalidateCall(callID)
	}
}

func (s *Service) invalidateCaches(ctx context.Context, userID uuid.UUID) {
	if err := s.presenceRepo.InvalidateActiveCalls(ctx, userID); err != nil {
		logger.Warn("failed to invalidate active calls cache", zap.Error(err))
	}
}
