package signaling

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSlowConsumer is returned by Deliver implementations whose outbound
// buffer is full. The message is dropped for that recipient only.
var ErrSlowConsumer = errors.New("signaling: outbound buffer full")

// ErrPeerGone is returned by Deliver implementations whose connection has
// already been torn down. Senders holding a stale peer snapshot drop the
// message for that recipient only.
var ErrPeerGone = errors.New("signaling: connection closed")

// Peer is one live connection of one participant in one call. A user may
// hold several peers at once (multi-device); the router addresses peers by
// user identity within a call.
type Peer interface {
	// UserID is the authenticated identity behind the connection
	UserID() uuid.UUID
	// Username is the display identity carried on broadcasts
	Username() string
	// Deliver enqueues an encoded envelope for the connection. It must not
	// block; a peer that cannot accept the message returns an error and the
	// caller moves on to the next recipient.
	Deliver(data []byte) error
}

// Member is a snapshot entry of a call group
type Member struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// Registry maps call IDs to the set of live connections currently in the
// call. It is the only mutable shared state in the relay and is safe for
// concurrent use; groups are created and removed lazily so operations on
// unknown calls are tolerated rather than errors.
type Registry struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]map[Peer]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{calls: make(map[uuid.UUID]map[Peer]struct{})}
}

// Register adds a connection to the call's group, creating the group if
// needed. Multiple connections for the same user are allowed.
func (r *Registry) Register(callID uuid.UUID, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.calls[callID]
	if !ok {
		group = make(map[Peer]struct{})
		r.calls[callID] = group
	}
	group[p] = struct{}{}
}

// Unregister removes exactly this connection from the call's group. Removing
// a connection that is not registered is a no-op, so duplicate teardown
// triggers are harmless. Empty groups are dropped.
func (r *Registry) Unregister(callID uuid.UUID, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.calls[callID]
	if !ok {
		return
	}
	delete(group, p)
	if len(group) == 0 {
		delete(r.calls, callID)
	}
}

// Peers returns a snapshot of the connections in the call at call time. The
// slice does not track later membership changes.
func (r *Registry) Peers(callID uuid.UUID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.calls[callID]
	peers := make([]Peer, 0, len(group))
	for p := range group {
		peers = append(peers, p)
	}
	return peers
}

// Members returns a snapshot of (user, username) pairs present in the call,
// used to hand a newly admitted connection its peer roster
func (r *Registry) Members(callID uuid.UUID) []Member {
	peers := r.Peers(callID)
	members := make([]Member, 0, len(peers))
	for _, p := range peers {
		members = append(members, Member{UserID: p.UserID(), Username: p.Username()})
	}
	return members
}
