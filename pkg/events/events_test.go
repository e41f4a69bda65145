package events

import (
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(&Event{Kind: types.EventCheckpointEnd, Name: "run", Version: 3})

	select {
	case ev := <-sub:
		require.Equal(t, types.EventCheckpointEnd, ev.Kind)
		require.Equal(t, "run", ev.Name)
		require.Equal(t, 3, ev.Version)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerObserveInvokesCallback(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	received := make(chan struct {
		name    string
		version int
	}, 1)
	unsubscribe := b.Observe(func(name string, version int) {
		received <- struct {
			name    string
			version int
		}{name, version}
	})
	defer unsubscribe()

	b.Publish(&Event{Kind: types.EventRestartEnd, Name: "sim", Version: 7})

	select {
	case got := <-received:
		require.Equal(t, "sim", got.name)
		require.Equal(t, 7, got.version)
	case <-time.After(time.Second):
		t.Fatal("observer not invoked")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())
}
