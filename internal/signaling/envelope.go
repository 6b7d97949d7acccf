package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of signaling envelope kinds. The kind is decided
// once at the boundary when an envelope is decoded; everything downstream
// switches on this value rather than on wire strings.
type Kind int

const (
	// KindUnknown covers wire kinds this build does not recognize. Unknown
	// envelopes are dropped without an error so that future protocol
	// extensions do not break older participants.
	KindUnknown Kind = iota
	KindOffer
	KindAnswer
	KindICECandidate
	KindQualityChange
	KindScreenShareStart
	KindScreenShareStop
	KindJoin
	KindLeave
	KindRoster
	KindError
)

var kindNames = map[Kind]string{
	KindOffer:            "offer",
	KindAnswer:           "answer",
	KindICECandidate:     "ice_candidate",
	KindQualityChange:    "quality_change",
	KindScreenShareStart: "screen_share_start",
	KindScreenShareStop:  "screen_share_stop",
	KindJoin:             "user_joined",
	KindLeave:            "user_left",
	KindRoster:           "roster",
	KindError:            "error",
}

var kindValues = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the wire name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its wire name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name into a Kind. Names outside the known set
// decode to KindUnknown; only a non-string value is a decode error.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("envelope kind must be a string: %w", err)
	}
	*k = kindValues[name]
	return nil
}

// Envelope is the signaling message exchanged over a live connection. The
// payload is passed through opaquely; the relay only inspects kind, sender
// and target.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	CallID     uuid.UUID       `json:"call_id,omitempty"`
	SenderID   uuid.UUID       `json:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	TargetID   uuid.UUID       `json:"target_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Message    string          `json:"message,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DecodeEnvelope parses raw client input into an envelope. A parse failure
// means the input was not a well-formed envelope; an unrecognized kind is not
// a failure and yields KindUnknown.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}

// Encode marshals the envelope for delivery. Marshalling an envelope built
// from decoded input cannot fail, so errors are only possible for payloads
// constructed in-process.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorEnvelope builds the single error reply sent to a client whose input
// could not be handled
func ErrorEnvelope(message string) *Envelope {
	return &Envelope{
		Kind:      KindError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
