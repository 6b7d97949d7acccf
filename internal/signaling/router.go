package signaling

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vidlink-backend/pkg/logger"
	"vidlink-backend/pkg/metrics"
)

// ErrTargetRequired is returned when a kind that is always directed (answer)
// arrives without a target. The lifecycle layer turns it into an error reply
// to the sender; it never tears the connection down.
var ErrTargetRequired = errors.New("signaling: target_id required for this kind")

// Router delivers inbound envelopes to the correct recipients within the
// sender's call. It never interprets payloads and never crosses call
// boundaries: every fan-out starts from the registry group of the envelope's
// call ID.
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
}

// NewRouter creates a router over the given registry. Metrics may be nil.
func NewRouter(registry *Registry, m *metrics.Metrics) *Router {
	return &Router{registry: registry, metrics: m}
}

// Route classifies the envelope and fans it out.
//
//	offer, ice_candidate   unicast to target if set, else broadcast to others
//	answer                 unicast to target; missing target is a protocol error
//	quality_change         broadcast to every other connection in the call
//	screen_share_*         broadcast to every other connection in the call
//	user_joined, user_left broadcast to every other connection in the call
//	unknown                dropped silently
//
// The sender argument identifies the originating connection, which is always
// excluded from broadcasts. A unicast whose target has no live connections is
// dropped without error: the target may have disconnected mid-exchange.
func (r *Router) Route(sender Peer, env *Envelope) error {
	switch env.Kind {
	case KindOffer, KindICECandidate:
		if env.TargetID != uuid.Nil {
			r.unicast(env)
			return nil
		}
		r.broadcast(sender, env)
		return nil

	case KindAnswer:
		if env.TargetID == uuid.Nil {
			return ErrTargetRequired
		}
		r.unicast(env)
		return nil

	case KindQualityChange, KindScreenShareStart, KindScreenShareStop, KindJoin, KindLeave:
		r.broadcast(sender, env)
		return nil

	case KindUnknown:
		r.dropped(env, "unknown_kind")
		return nil

	case KindRoster, KindError:
		// Server-originated kinds; a client sending them is treated like an
		// unknown extension.
		r.dropped(env, "reserved_kind")
		return nil
	}

	r.dropped(env, "unknown_kind")
	return nil
}

// unicast delivers to every live connection of the target user within the
// call. Zero matches is an expected transient condition, not an error.
func (r *Router) unicast(env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		logger.Error("failed to encode envelope",
			zap.String("kind", env.Kind.String()),
			zap.Error(err))
		return
	}

	delivered := 0
	for _, p := range r.registry.Peers(env.CallID) {
		if p.UserID() != env.TargetID {
			continue
		}
		if err := p.Deliver(data); err != nil {
			logger.Warn("unicast delivery failed",
				zap.String("call_id", env.CallID.String()),
				zap.String("target_id", env.TargetID.String()),
				zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		r.dropped(env, "target_unreachable")
		return
	}
	r.relayed(env)
}

// broadcast delivers to every connection in the call except the originating
// one. A failed send to one recipient never aborts delivery to the rest.
func (r *Router) broadcast(sender Peer, env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		logger.Error("failed to encode envelope",
			zap.String("kind", env.Kind.String()),
			zap.Error(err))
		return
	}

	for _, p := range r.registry.Peers(env.CallID) {
		if p == sender {
			continue
		}
		if err := p.Deliver(data); err != nil {
			logger.Warn("broadcast delivery failed",
				zap.String("call_id", env.CallID.String()),
				zap.String("user_id", p.UserID().String()),
				zap.Error(err))
		}
	}
	r.relayed(env)
}

func (r *Router) relayed(env *Envelope) {
	if r.metrics != nil {
		r.metrics.SignalRelayed(env.Kind.String())
	}
}

func (r *Router) dropped(env *Envelope, reason string) {
	if r.metrics != nil {
		r.metrics.SignalDropped(env.Kind.String(), reason)
	}
}
