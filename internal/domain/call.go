package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallKind enumerates supported call media modes
type CallKind string

const (
	CallKindAudio       CallKind = "audio"
	CallKindVideo       CallKind = "video"
	CallKindScreenShare CallKind = "screen_share"
)

// Valid reports whether the kind is one of the known call modes
func (k CallKind) Valid() bool {
	switch k {
	case CallKindAudio, CallKindVideo, CallKindScreenShare:
		return true
	}
	return false
}

// CallStatus enumerates call lifecycle states
type CallStatus string

const (
	CallStatusWaiting CallStatus = "waiting"
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
	CallStatusMissed  CallStatus = "missed"
)

// Call represents one signaling session.
// The call ID is globally unique and immutable once assigned.
type Call struct {
	CallID      uuid.UUID  `json:"call_id"`
	InitiatorID uuid.UUID  `json:"initiator_id"`
	Kind        CallKind   `json:"call_type"`
	Status      CallStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the call has reached a terminal status
func (c *Call) Ended() bool {
	return c.Status == CallStatusEnded || c.Status == CallStatusMissed
}

// CallParticipant is the durable record of a user's membership in a call.
// At most one row exists per (call, user) pair; leaving flips Active rather
// than deleting the row, and a rejoin reactivates it.
type CallParticipant struct {
	CallID   uuid.UUID  `json:"call_id"`
	UserID   uuid.UUID  `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	Active   bool       `json:"is_active"`
}

// QualityMetricsSample is a fire-and-forget telemetry record reported by a
// client during a call
type QualityMetricsSample struct {
	CallID        uuid.UUID `json:"call_id"`
	UserID        uuid.UUID `json:"user_id"`
	BandwidthKbps int       `json:"bandwidth_kbps"`
	LatencyMs     int       `json:"latency_ms"`
	PacketLossPct float64   `json:"packet_loss_percent"`
	VideoQuality  string    `json:"video_quality"`
	AudioQuality  string    `json:"audio_quality"`
	Timestamp     time.Time `json:"timestamp"`
}
