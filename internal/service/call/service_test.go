package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vidlink-backend/internal/domain"
	"vidlink-backend/internal/service/quality"
	apperrors "vidlink-backend/pkg/errors"
	"vidlink-backend/pkg/push"
)

type mockCallRepo struct {
	mock.Mock
}

func (m *mockCallRepo) CreateCall(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *mockCallRepo) FindCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *mockCallRepo) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	args := m.Called(ctx, callID, status)
	return args.Error(0)
}

func (m *mockCallRepo) EndCall(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	args := m.Called(ctx, callID, status)
	return args.Error(0)
}

func (m *mockCallRepo) ActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *mockCallRepo) UpsertParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, bool, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.CallParticipant), args.Bool(1), args.Error(2)
}

func (m *mockCallRepo) DeactivateParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	args := m.Called(ctx, callID, userID)
	return args.Error(0)
}

func (m *mockCallRepo) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallParticipant), args.Error(1)
}

type mockPresenceRepo struct {
	mock.Mock
}

func (m *mockPresenceRepo) SetInCall(ctx context.Context, userID, callID uuid.UUID) error {
	args := m.Called(ctx, userID, callID)
	return args.Error(0)
}

func (m *mockPresenceRepo) ClearInCall(ctx context.Context, userID, callID uuid.UUID) error {
	args := m.Called(ctx, userID, callID)
	return args.Error(0)
}

func (m *mockPresenceRepo) CacheActiveCalls(ctx context.Context, userID uuid.UUID, calls []*domain.Call) error {
	args := m.Called(ctx, userID, calls)
	return args.Error(0)
}

func (m *mockPresenceRepo) GetActiveCalls(ctx context.Context, userID uuid.UUID) ([]*domain.Call, bool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Call), args.Bool(1), args.Error(2)
}

func (m *mockPresenceRepo) InvalidateActiveCalls(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type mockMetricsRepo struct {
	mock.Mock
}

func (m *mockMetricsRepo) Save(sample *domain.QualityMetricsSample) error {
	args := m.Called(sample)
	return args.Error(0)
}

func (m *mockMetricsRepo) RecentByCall(callID uuid.UUID, limit int) ([]*domain.QualityMetricsSample, error) {
	args := m.Called(callID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QualityMetricsSample), args.Error(1)
}

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) SendIncomingCall(ctx context.Context, call *push.IncomingCall, calleeIDs []uuid.UUID) error {
	args := m.Called(ctx, call, calleeIDs)
	return args.Error(0)
}

func newTestService() (*Service, *mockCallRepo, *mockPresenceRepo, *mockMetricsRepo, *mockPusher) {
	callRepo := new(mockCallRepo)
	presenceRepo := new(mockPresenceRepo)
	metricsRepo := new(mockMetricsRepo)
	pusher := new(mockPusher)
	svc := NewService(callRepo, presenceRepo, metricsRepo, pusher, nil, nil)
	return svc, callRepo, presenceRepo, metricsRepo, pusher
}

type mockAdmissionCache struct {
	mock.Mock
}

func (m *mockAdmissionCache) InvalidateCall(callID uuid.UUID) {
	m.Called(callID)
}

func TestStartCall_RingsCallees(t *testing.T) {
	svc, callRepo, presenceRepo, _, pusher := newTestService()

	initiator := uuid.New()
	callee := uuid.New()

	callRepo.On("CreateCall", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	callRepo.On("UpsertParticipant", mock.Anything, mock.Anything, initiator).Return(&domain.CallParticipant{}, true, nil)
	presenceRepo.On("SetInCall", mock.Anything, initiator, mock.Anything).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, initiator).Return(nil)
	pusher.On("SendIncomingCall", mock.Anything, mock.AnythingOfType("*push.IncomingCall"), []uuid.UUID{callee}).Return(nil)

	call, err := svc.StartCall(context.Background(), StartCallInput{
		InitiatorID:   initiator,
		InitiatorName: "alice",
		Kind:          domain.CallKindVideo,
		CalleeIDs:     []uuid.UUID{callee},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, initiator, call.InitiatorID)
	assert.NotEqual(t, uuid.Nil, call.CallID)
	pusher.AssertExpectations(t)
}

func TestStartCall_NoCalleesStartsWaiting(t *testing.T) {
	svc, callRepo, presenceRepo, _, pusher := newTestService()

	initiator := uuid.New()
	callRepo.On("CreateCall", mock.Anything, mock.Anything).Return(nil)
	callRepo.On("UpsertParticipant", mock.Anything, mock.Anything, initiator).Return(&domain.CallParticipant{}, true, nil)
	presenceRepo.On("SetInCall", mock.Anything, initiator, mock.Anything).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, initiator).Return(nil)

	call, err := svc.StartCall(context.Background(), StartCallInput{
		InitiatorID: initiator,
		Kind:        domain.CallKindAudio,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusWaiting, call.Status)
	pusher.AssertNotCalled(t, "SendIncomingCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartCall_RejectsUnknownKind(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.StartCall(context.Background(), StartCallInput{
		InitiatorID: uuid.New(),
		Kind:        domain.CallKind("hologram"),
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestJoinCall_ActivatesRingingCall(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	callID := uuid.New()
	userID := uuid.New()

	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID: callID,
		Status: domain.CallStatusRinging,
	}, nil)
	callRepo.On("UpsertParticipant", mock.Anything, callID, userID).Return(&domain.CallParticipant{}, true, nil)
	callRepo.On("UpdateStatus", mock.Anything, callID, domain.CallStatusActive).Return(nil)
	presenceRepo.On("SetInCall", mock.Anything, userID, callID).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, userID).Return(nil)

	call, err := svc.JoinCall(context.Background(), callID, userID)

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, call.Status)
	callRepo.AssertExpectations(t)
}

func TestJoinCall_RefusesEndedCall(t *testing.T) {
	svc, callRepo, _, _, _ := newTestService()

	callID := uuid.New()
	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID: callID,
		Status: domain.CallStatusEnded,
	}, nil)

	_, err := svc.JoinCall(context.Background(), callID, uuid.New())

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallEnded))
	callRepo.AssertNotCalled(t, "UpsertParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinCall_UnknownCall(t *testing.T) {
	svc, callRepo, _, _, _ := newTestService()

	callID := uuid.New()
	callRepo.On("FindCall", mock.Anything, callID).Return(nil, apperrors.CallNotFoundError("call not found"))

	_, err := svc.JoinCall(context.Background(), callID, uuid.New())

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLeaveCall_LastParticipantEndsCall(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	callID := uuid.New()
	userID := uuid.New()
	left := time.Now()

	callRepo.On("DeactivateParticipant", mock.Anything, callID, userID).Return(nil)
	presenceRepo.On("ClearInCall", mock.Anything, userID, callID).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, userID).Return(nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{
		{CallID: callID, UserID: userID, Active: false, LeftAt: &left},
	}, nil)
	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID: callID,
		Status: domain.CallStatusActive,
	}, nil)
	callRepo.On("EndCall", mock.Anything, callID, domain.CallStatusEnded).Return(nil)

	err := svc.LeaveCall(context.Background(), callID, userID)

	require.NoError(t, err)
	callRepo.AssertExpectations(t)
}

func TestLeaveCall_NeverAnsweredGoesMissed(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	callID := uuid.New()
	userID := uuid.New()

	callRepo.On("DeactivateParticipant", mock.Anything, callID, userID).Return(nil)
	presenceRepo.On("ClearInCall", mock.Anything, userID, callID).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, userID).Return(nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{
		{CallID: callID, UserID: userID, Active: false},
	}, nil)
	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID: callID,
		Status: domain.CallStatusRinging,
	}, nil)
	callRepo.On("EndCall", mock.Anything, callID, domain.CallStatusMissed).Return(nil)

	err := svc.LeaveCall(context.Background(), callID, userID)

	require.NoError(t, err)
	callRepo.AssertExpectations(t)
}

func TestLeaveCall_OthersStillPresent(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	callID := uuid.New()
	userID := uuid.New()
	other := uuid.New()

	callRepo.On("DeactivateParticipant", mock.Anything, callID, userID).Return(nil)
	presenceRepo.On("ClearInCall", mock.Anything, userID, callID).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, userID).Return(nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{
		{CallID: callID, UserID: userID, Active: false},
		{CallID: callID, UserID: other, Active: true},
	}, nil)

	err := svc.LeaveCall(context.Background(), callID, userID)

	require.NoError(t, err)
	callRepo.AssertNotCalled(t, "EndCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestEndCall_OnlyInitiator(t *testing.T) {
	svc, callRepo, _, _, _ := newTestService()

	callID := uuid.New()
	initiator := uuid.New()
	stranger := uuid.New()

	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID:      callID,
		InitiatorID: initiator,
		Status:      domain.CallStatusActive,
	}, nil)

	err := svc.EndCall(context.Background(), callID, stranger)

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
	callRepo.AssertNotCalled(t, "EndCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestEndCall_IdempotentOnEndedCall(t *testing.T) {
	svc, callRepo, _, _, _ := newTestService()

	callID := uuid.New()
	initiator := uuid.New()

	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID:      callID,
		InitiatorID: initiator,
		Status:      domain.CallStatusEnded,
	}, nil)

	err := svc.EndCall(context.Background(), callID, initiator)

	require.NoError(t, err)
	callRepo.AssertNotCalled(t, "EndCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestEndCall_DeactivatesRemainingParticipants(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	callID := uuid.New()
	initiator := uuid.New()
	other := uuid.New()

	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID:      callID,
		InitiatorID: initiator,
		Status:      domain.CallStatusActive,
	}, nil)
	callRepo.On("EndCall", mock.Anything, callID, domain.CallStatusEnded).Return(nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{
		{CallID: callID, UserID: initiator, Active: true},
		{CallID: callID, UserID: other, Active: true},
	}, nil)
	callRepo.On("DeactivateParticipant", mock.Anything, callID, initiator).Return(nil)
	callRepo.On("DeactivateParticipant", mock.Anything, callID, other).Return(nil)
	presenceRepo.On("ClearInCall", mock.Anything, mock.Anything, callID).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, mock.Anything).Return(nil)

	err := svc.EndCall(context.Background(), callID, initiator)

	require.NoError(t, err)
	callRepo.AssertExpectations(t)
}

func TestEndCall_InvalidatesAdmissionCache(t *testing.T) {
	callRepo := new(mockCallRepo)
	presenceRepo := new(mockPresenceRepo)
	admission := new(mockAdmissionCache)
	svc := NewService(callRepo, presenceRepo, nil, nil, admission, nil)

	callID := uuid.New()
	initiator := uuid.New()

	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID:      callID,
		InitiatorID: initiator,
		Status:      domain.CallStatusActive,
	}, nil)
	callRepo.On("EndCall", mock.Anything, callID, domain.CallStatusEnded).Return(nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{}, nil)
	admission.On("InvalidateCall", callID).Return()

	err := svc.EndCall(context.Background(), callID, initiator)

	require.NoError(t, err)
	admission.AssertCalled(t, "InvalidateCall", callID)
}

func TestJoinCall_ActivationInvalidatesAdmissionCache(t *testing.T) {
	callRepo := new(mockCallRepo)
	presenceRepo := new(mockPresenceRepo)
	admission := new(mockAdmissionCache)
	svc := NewService(callRepo, presenceRepo, nil, nil, admission, nil)

	callID := uuid.New()
	joiner := uuid.New()

	callRepo.On("FindCall", mock.Anything, callID).Return(&domain.Call{
		CallID: callID,
		Status: domain.CallStatusRinging,
	}, nil)
	callRepo.On("UpsertParticipant", mock.Anything, callID, joiner).Return(&domain.CallParticipant{}, true, nil)
	callRepo.On("UpdateStatus", mock.Anything, callID, domain.CallStatusActive).Return(nil)
	presenceRepo.On("SetInCall", mock.Anything, joiner, callID).Return(nil)
	presenceRepo.On("InvalidateActiveCalls", mock.Anything, joiner).Return(nil)
	admission.On("InvalidateCall", callID).Return()

	call, err := svc.JoinCall(context.Background(), callID, joiner)

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, call.Status)
	admission.AssertCalled(t, "InvalidateCall", callID)
}

func TestActiveCalls_ServedFromCache(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	userID := uuid.New()
	cached := []*domain.Call{{CallID: uuid.New(), Status: domain.CallStatusActive}}
	presenceRepo.On("GetActiveCalls", mock.Anything, userID).Return(cached, true, nil)

	calls, err := svc.ActiveCalls(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, cached, calls)
	callRepo.AssertNotCalled(t, "ActiveCallsForUser", mock.Anything, mock.Anything)
}

func TestActiveCalls_CacheMissFallsThrough(t *testing.T) {
	svc, callRepo, presenceRepo, _, _ := newTestService()

	userID := uuid.New()
	fromDB := []*domain.Call{{CallID: uuid.New(), Status: domain.CallStatusActive}}
	presenceRepo.On("GetActiveCalls", mock.Anything, userID).Return(nil, false, nil)
	callRepo.On("ActiveCallsForUser", mock.Anything, userID).Return(fromDB, nil)
	presenceRepo.On("CacheActiveCalls", mock.Anything, userID, fromDB).Return(nil)

	calls, err := svc.ActiveCalls(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, fromDB, calls)
	presenceRepo.AssertExpectations(t)
}

func TestRecordQualitySample_RecommendsTier(t *testing.T) {
	svc, _, _, metricsRepo, _ := newTestService()

	sample := &domain.QualityMetricsSample{
		CallID:        uuid.New(),
		UserID:        uuid.New(),
		BandwidthKbps: 1500,
	}
	metricsRepo.On("Save", sample).Return(nil)

	tier, constraints, err := svc.RecordQualitySample(context.Background(), sample, 10)

	require.NoError(t, err)
	assert.Equal(t, quality.TierMedium, tier)
	assert.Equal(t, 1280, constraints.Width)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestRecordQualitySample_StorageFailureStillRecommends(t *testing.T) {
	svc, _, _, metricsRepo, _ := newTestService()

	sample := &domain.QualityMetricsSample{
		CallID:        uuid.New(),
		BandwidthKbps: 8000,
	}
	metricsRepo.On("Save", sample).Return(assert.AnError)

	tier, _, err := svc.RecordQualitySample(context.Background(), sample, 5)

	require.NoError(t, err)
	assert.Equal(t, quality.TierUltra, tier)
}
