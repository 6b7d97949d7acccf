package signaling

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerFixture(t *testing.T) (*Router, *Registry, uuid.UUID, *fakePeer, *fakePeer, *fakePeer) {
	t.Helper()
	registry := NewRegistry()
	router := NewRouter(registry, nil)
	callID := uuid.New()

	sender := newFakePeer("alice")
	b := newFakePeer("bob")
	c := newFakePeer("carol")
	registry.Register(callID, sender)
	registry.Register(callID, b)
	registry.Register(callID, c)

	return router, registry, callID, sender, b, c
}

func TestRoute_OfferWithTargetUnicasts(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)

	err := router.Route(sender, &Envelope{
		Kind:     KindOffer,
		CallID:   callID,
		SenderID: sender.userID,
		TargetID: b.userID,
	})

	require.NoError(t, err)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, c.received())
	assert.Empty(t, sender.received())
}

func TestRoute_OfferWithoutTargetBroadcasts(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)

	err := router.Route(sender, &Envelope{
		Kind:     KindOffer,
		CallID:   callID,
		SenderID: sender.userID,
	})

	require.NoError(t, err)
	assert.Len(t, b.received(), 1)
	assert.Len(t, c.received(), 1)
	assert.Empty(t, sender.received())
}

func TestRoute_AnswerRequiresTarget(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)

	err := router.Route(sender, &Envelope{
		Kind:     KindAnswer,
		CallID:   callID,
		SenderID: sender.userID,
	})

	assert.ErrorIs(t, err, ErrTargetRequired)
	assert.Empty(t, b.received())
	assert.Empty(t, c.received())
}

func TestRoute_AnswerUnicasts(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)

	err := router.Route(sender, &Envelope{
		Kind:     KindAnswer,
		CallID:   callID,
		SenderID: sender.userID,
		TargetID: c.userID,
	})

	require.NoError(t, err)
	assert.Empty(t, b.received())
	assert.Len(t, c.received(), 1)
}

func TestRoute_UnreachableTargetDroppedSilently(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)

	err := router.Route(sender, &Envelope{
		Kind:     KindAnswer,
		CallID:   callID,
		SenderID: sender.userID,
		TargetID: uuid.New(),
	})

	require.NoError(t, err)
	assert.Empty(t, b.received())
	assert.Empty(t, c.received())
}

func TestRoute_BroadcastKindsExcludeSender(t *testing.T) {
	kinds := []Kind{KindQualityChange, KindScreenShareStart, KindScreenShareStop, KindJoin, KindLeave}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			router, _, callID, sender, b, c := routerFixture(t)

			err := router.Route(sender, &Envelope{
				Kind:     kind,
				CallID:   callID,
				SenderID: sender.userID,
			})

			require.NoError(t, err)
			assert.Len(t, b.received(), 1)
			assert.Len(t, c.received(), 1)
			assert.Empty(t, sender.received())
		})
	}
}

func TestRoute_BroadcastReachesSendersOtherConnections(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)
	callID := uuid.New()

	userID := uuid.New()
	phone := &fakePeer{userID: userID, username: "alice"}
	laptop := &fakePeer{userID: userID, username: "alice"}
	registry.Register(callID, phone)
	registry.Register(callID, laptop)

	err := router.Route(phone, &Envelope{
		Kind:     KindScreenShareStart,
		CallID:   callID,
		SenderID: userID,
	})

	require.NoError(t, err)
	assert.Empty(t, phone.received())
	assert.Len(t, laptop.received(), 1)
}

func TestRoute_UnicastReachesAllTargetConnections(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)
	callID := uuid.New()

	sender := newFakePeer("alice")
	targetID := uuid.New()
	phone := &fakePeer{userID: targetID, username: "bob"}
	laptop := &fakePeer{userID: targetID, username: "bob"}
	registry.Register(callID, sender)
	registry.Register(callID, phone)
	registry.Register(callID, laptop)

	err := router.Route(sender, &Envelope{
		Kind:     KindOffer,
		CallID:   callID,
		SenderID: sender.userID,
		TargetID: targetID,
	})

	require.NoError(t, err)
	assert.Len(t, phone.received(), 1)
	assert.Len(t, laptop.received(), 1)
}

func TestRoute_UnknownKindDropped(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)

	err := router.Route(sender, &Envelope{
		Kind:     KindUnknown,
		CallID:   callID,
		SenderID: sender.userID,
	})

	require.NoError(t, err)
	assert.Empty(t, b.received())
	assert.Empty(t, c.received())
}

func TestRoute_ReservedKindsDropped(t *testing.T) {
	for _, kind := range []Kind{KindRoster, KindError} {
		t.Run(kind.String(), func(t *testing.T) {
			router, _, callID, sender, b, _ := routerFixture(t)

			err := router.Route(sender, &Envelope{
				Kind:     kind,
				CallID:   callID,
				SenderID: sender.userID,
			})

			require.NoError(t, err)
			assert.Empty(t, b.received())
		})
	}
}

func TestRoute_FailedRecipientDoesNotAbortBroadcast(t *testing.T) {
	router, _, callID, sender, b, c := routerFixture(t)
	b.failSend = true

	err := router.Route(sender, &Envelope{
		Kind:     KindQualityChange,
		CallID:   callID,
		SenderID: sender.userID,
	})

	require.NoError(t, err)
	assert.Len(t, c.received(), 1)
}

func TestRoute_CrossCallIsolation(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	callA := uuid.New()
	callB := uuid.New()
	sender := newFakePeer("alice")
	inA := newFakePeer("bob")
	inB := newFakePeer("carol")
	registry.Register(callA, sender)
	registry.Register(callA, inA)
	registry.Register(callB, inB)

	err := router.Route(sender, &Envelope{
		Kind:     KindOffer,
		CallID:   callA,
		SenderID: sender.userID,
	})

	require.NoError(t, err)
	assert.Len(t, inA.received(), 1)
	assert.Empty(t, inB.received())
}
