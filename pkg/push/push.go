package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vidlink-backend/pkg/logger"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	// Name identifies the provider for logging and metrics
	Name() string
	// Send delivers the notification to the given device tokens
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// IncomingCall carries the data attached to a ring notification
type IncomingCall struct {
	CallID     uuid.UUID `json:"call_id"`
	CallerID   uuid.UUID `json:"caller_id"`
	CallerName string    `json:"caller_name"`
	CallType   string    `json:"call_type"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token represents one device's push notification token
type Token struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Token    string    `json:"token"`
	Type     TokenType `json:"type"`
	Platform string    `json:"platform,omitempty"` // ios, android, web
	Active   bool      `json:"active"`
}

// TokenRepository defines the interface for storing and retrieving push
// tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, userID uuid.UUID, token string) error
}

// Service sends ring notifications through a provider, resolving each
// callee's device tokens from the repository
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a device token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a device token for a user
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.Delete(ctx, userID, token)
}

// SendIncomingCall notifies each callee's devices that a call is ringing.
// Delivery is best-effort per callee: one user without tokens, or one failed
// provider round-trip, never blocks the rest.
func (s *Service) SendIncomingCall(ctx context.Context, call *IncomingCall, calleeIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", call.CallerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "call",
			"call_id":     call.CallID.String(),
			"caller_id":   call.CallerID.String(),
			"caller_name": call.CallerName,
			"call_type":   call.CallType,
		},
	}

	var tokens []string
	for _, userID := range calleeIDs {
		userTokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("failed to resolve push tokens",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		for _, t := range userTokens {
			if t.Active {
				tokens = append(tokens, t.Token)
			}
		}
	}

	if len(tokens) == 0 {
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		return fmt.Errorf("push send failed: %w", err)
	}

	if len(result.InvalidTokens) > 0 {
		logger.Info("pruning invalid push tokens",
			zap.String("provider", s.provider.Name()),
			zap.Int("count", len(result.InvalidTokens)))
		for _, userID := range calleeIDs {
			for _, invalid := range result.InvalidTokens {
				if err := s.repo.Delete(ctx, userID, invalid); err != nil {
					logger.Debug("failed to prune token", zap.Error(err))
				}
			}
		}
	}

	return nil
}

// MockProvider is a no-op provider for development and tests
type MockProvider struct{}

// Name implements Provider
func (m *MockProvider) Name() string { return "mock" }

// Send implements Provider; it reports every token as delivered
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	logger.Debug("mock push send",
		zap.String("title", notification.Title),
		zap.Int("tokens", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
