package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus(nil)

	var got []Connected
	sub := Subscribe(bus, func(e Connected) { got = append(got, e) })

	bus.Publish(Connected{SocketID: "abc"}, Disconnected{Reason: "transport close"})

	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].SocketID)
	assert.True(t, sub.Active())
	assert.Equal(t, KindConnected, sub.Kind())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	sub := Subscribe(bus, func(Disconnected) { calls++ })
	sub.Unsubscribe()
	sub.Unsubscribe()

	bus.Publish(Disconnected{})
	assert.Equal(t, 0, calls)
	assert.False(t, sub.Active())
	assert.Equal(t, 0, bus.Count(KindDisconnected))
}

func TestBus_Off(t *testing.T) {
	bus := NewBus(nil)

	var a, b int
	subA := Subscribe(bus, func(SessionEnded) { a++ })
	Subscribe(bus, func(SessionEnded) { b++ })

	bus.Off(subA)
	bus.Publish(SessionEnded{Reason: "refresh rejected"})

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestBus_PanickingSubscriberDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(nil)

	delivered := false
	Subscribe(bus, func(AuthenticationFailed) { panic("boom") })
	Subscribe(bus, func(AuthenticationFailed) { delivered = true })

	require.NotPanics(t, func() {
		bus.Publish(AuthenticationFailed{Message: "Token inválido"})
	})
	assert.True(t, delivered)
}

func TestBus_SnapshotDuringDispatch(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	var late *Subscription
	var second *Subscription

	Subscribe(bus, func(Reconnecting) {
		order = append(order, "first")
		// Added during dispatch: must not see the current event.
		late = Subscribe(bus, func(Reconnecting) { order = append(order, "late") })
		// Removed during dispatch: still sees the current event.
		second.Unsubscribe()
	})
	second = Subscribe(bus, func(Reconnecting) { order = append(order, "second") })

	bus.Publish(Reconnecting{Attempt: 1})
	assert.Equal(t, []string{"first", "second"}, order)

	order = nil
	late.Unsubscribe()
	bus.Publish(Reconnecting{Attempt: 2})
	assert.Equal(t, []string{"first"}, order)
}

func TestBus_ReentrantPublish(t *testing.T) {
	bus := NewBus(nil)

	var ended int
	Subscribe(bus, func(AuthenticationFailed) {
		bus.Publish(SessionEnded{Reason: "guest session"})
	})
	Subscribe(bus, func(SessionEnded) { ended++ })

	bus.Publish(AuthenticationFailed{})
	assert.Equal(t, 1, ended)
}

func TestBus_SubscribeDomain(t *testing.T) {
	bus := NewBus(nil)

	var added, all []string
	SubscribeDomain(bus, ProductAdded, func(d Domain) { added = append(added, d.Name) })
	Subscribe(bus, func(d Domain) { all = append(all, d.Name) })

	bus.Publish(
		Domain{Name: ProductAdded, Payload: json.RawMessage(`{"producto":{"nombre":"Tornillo"}}`)},
		Domain{Name: SessionUpdated, Payload: json.RawMessage(`{}`)},
	)

	assert.Equal(t, []string{ProductAdded}, added)
	assert.Equal(t, []string{ProductAdded, SessionUpdated}, all)
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	sub := Subscribe(bus, func(Connected) { calls++ })
	SubscribeDomain(bus, ProductRemoved, func(Domain) { calls++ })

	bus.Clear()
	bus.Publish(Connected{}, Domain{Name: ProductRemoved})

	assert.Equal(t, 0, calls)
	assert.False(t, sub.Active())
}

func TestBus_Register(t *testing.T) {
	bus := NewBus(nil)

	var seen []Kind
	unsubscribe := bus.Register(Handlers{
		Connected:    func(Connected) { seen = append(seen, KindConnected) },
		SessionEnded: func(SessionEnded) { seen = append(seen, KindSessionEnded) },
	})

	bus.Publish(Connected{}, Disconnected{}, SessionEnded{})
	assert.Equal(t, []Kind{KindConnected, KindSessionEnded}, seen)

	unsubscribe()
	bus.Publish(Connected{})
	assert.Len(t, seen, 2)
}

func TestHandlers_Dispatch(t *testing.T) {
	var got string
	h := Handlers{Domain: func(d Domain) { got = d.Name }}

	assert.True(t, h.Dispatch(Domain{Name: SessionCompleted}))
	assert.Equal(t, SessionCompleted, got)
	assert.False(t, h.Dispatch(AuthBlockLifted{}))
}

func TestDomain_Decode(t *testing.T) {
	d := Domain{Name: OnlineCollaboratorsCount, Payload: json.RawMessage(`{"count":3}`)}

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, d.Decode(&body))
	assert.Equal(t, 3, body.Count)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "authentication_failed", KindAuthenticationFailed.String())
	assert.Equal(t, "session_ended", SessionEnded{}.Kind().String())
	assert.Equal(t, "unknown", Kind(0).String())
}
