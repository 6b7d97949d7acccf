package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vidlink-backend/pkg/logger"
)

// State is the lifecycle state of one live connection. No state is skipped
// and StateClosed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAdmitted
	StateActive
	StateClosed
)

// ErrAnonymous is returned by Admit when the connecting principal carries no
// authenticated identity. The connection goes straight to Closed with a
// policy-violation close reason and never touches the registry.
var ErrAnonymous = errors.New("signaling: anonymous identity refused")

// cleanupTimeout bounds the persistence work done during teardown so a slow
// store cannot hold registry cleanup hostage
const cleanupTimeout = 5 * time.Second

// Session owns the lifecycle of a single live connection: admission into a
// call, inbound message handling, and best-effort teardown. The transport
// layer feeds it raw frames and close events; everything else happens here.
type Session struct {
	callID    uuid.UUID
	peer      Peer
	registry  *Registry
	directory *Directory
	router    *Router

	state     atomic.Int32
	closeOnce sync.Once
}

// NewSession creates a session in the Connecting state
func NewSession(callID uuid.UUID, peer Peer, registry *Registry, directory *Directory, router *Router) *Session {
	return &Session{
		callID:    callID,
		peer:      peer,
		registry:  registry,
		directory: directory,
		router:    router,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Admit moves the connection through Connecting → Admitted → Active.
//
// An anonymous identity is refused with ErrAnonymous; an unknown call
// surfaces the store's not-found error. On success the connection is
// registered, the durable participant row is ensured, the new connection
// receives a one-time roster snapshot of everyone already present, and
// pre-existing members receive a join notification.
func (s *Session) Admit(ctx context.Context) error {
	if s.peer.UserID() == uuid.Nil {
		s.state.Store(int32(StateClosed))
		return ErrAnonymous
	}

	if _, err := s.directory.LookupCall(ctx, s.callID); err != nil {
		s.state.Store(int32(StateClosed))
		return err
	}

	s.state.Store(int32(StateAdmitted))

	// Snapshot before registering so the roster holds only pre-existing
	// members and the join broadcast cannot echo back to us.
	members := s.registry.Members(s.callID)
	s.registry.Register(s.callID, s.peer)

	// Persistence failure here is retryable and must not stall the live
	// path: the registry entry stands and routing proceeds.
	if err := s.directory.EnsureParticipant(ctx, s.callID, s.peer.UserID()); err != nil {
		logger.Error("failed to persist participant join",
			zap.String("call_id", s.callID.String()),
			zap.String("user_id", s.peer.UserID().String()),
			zap.Error(err))
	}

	s.sendRoster(members)
	s.announce(KindJoin)

	s.state.Store(int32(StateActive))
	return nil
}

// HandleInbound processes one raw frame from the connection. Malformed input
// earns the sender a single error reply and is otherwise ignored; a directed
// kind without a target is answered the same way. Neither ever closes the
// connection.
func (s *Session) HandleInbound(raw []byte) {
	if s.State() != StateActive {
		return
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		logger.Debug("malformed envelope from client",
			zap.String("call_id", s.callID.String()),
			zap.String("user_id", s.peer.UserID().String()),
			zap.Error(err))
		s.replyError("invalid message format")
		return
	}

	// Stamp the envelope from the connection's own identity; clients cannot
	// spoof sender or call scope.
	env.CallID = s.callID
	env.SenderID = s.peer.UserID()
	env.SenderName = s.peer.Username()
	env.Timestamp = time.Now().UTC()

	if err := s.router.Route(s.peer, env); err != nil {
		s.replyError(err.Error())
	}
}

// Close tears the connection down: unregister from the registry, mark the
// durable row left, and notify remaining members. Each step is attempted
// independently so one failure never skips the others, and a duplicate close
// is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))
		if prev != StateAdmitted && prev != StateActive {
			// Never admitted: nothing was registered, nothing to announce.
			return
		}

		s.registry.Unregister(s.callID, s.peer)

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := s.directory.MarkLeft(ctx, s.callID, s.peer.UserID()); err != nil {
			logger.Error("failed to persist participant leave",
				zap.String("call_id", s.callID.String()),
				zap.String("user_id", s.peer.UserID().String()),
				zap.Error(err))
		}

		s.announce(KindLeave)
	})
}

// sendRoster delivers the one-time membership snapshot to the newly admitted
// connection so it can initiate peer connections to everyone present
func (s *Session) sendRoster(members []Member) {
	payload, err := json.Marshal(members)
	if err != nil {
		logger.Error("failed to encode roster", zap.Error(err))
		return
	}

	env := &Envelope{
		Kind:      KindRoster,
		CallID:    s.callID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	data, err := env.Encode()
	if err != nil {
		logger.Error("failed to encode roster envelope", zap.Error(err))
		return
	}
	if err := s.peer.Deliver(data); err != nil {
		logger.Warn("roster delivery failed",
			zap.String("call_id", s.callID.String()),
			zap.String("user_id", s.peer.UserID().String()),
			zap.Error(err))
	}
}

// announce broadcasts a join or leave notification to the other members
func (s *Session) announce(kind Kind) {
	env := &Envelope{
		Kind:       kind,
		CallID:     s.callID,
		SenderID:   s.peer.UserID(),
		SenderName: s.peer.Username(),
		Timestamp:  time.Now().UTC(),
	}
	if err := s.router.Route(s.peer, env); err != nil {
		logger.Warn("failed to announce lifecycle event",
			zap.String("kind", kind.String()),
			zap.String("call_id", s.callID.String()),
			zap.Error(err))
	}
}

// replyError sends a single error envelope back to the sender
func (s *Session) replyError(message string) {
	data, err := ErrorEnvelope(message).Encode()
	if err != nil {
		return
	}
	if err := s.peer.Deliver(data); err != nil {
		logger.Debug("error reply delivery failed",
			zap.String("call_id", s.callID.String()),
			zap.Error(err))
	}
}
