package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu       sync.Mutex
	err      error
	received []interface{}
}

func (f *fakeListener) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, v)
	return f.err
}

func (f *fakeListener) events() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}{}, f.received...)
}

// stuckListener blocks every write until unblocked.
type stuckListener struct {
	unblock chan struct{}
}

func (s *stuckListener) WriteJSON(interface{}) error {
	<-s.unblock
	return nil
}

func receives(t *testing.T, f *fakeListener, want []interface{}) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := f.events()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewNotificationHub()
	first := &fakeListener{}
	second := &fakeListener{}
	elsewhere := &fakeListener{}

	hub.RegisterListener(EscrowTopic("s1"), first)
	hub.RegisterListener(EscrowTopic("s1"), second)
	hub.RegisterListener(EscrowTopic("s2"), elsewhere)
	require.Equal(t, 2, hub.ListenerCount("escrow/s1"))

	hub.Publish(EscrowTopic("s1"), "joined")
	receives(t, first, []interface{}{"joined"})
	receives(t, second, []interface{}{"joined"})

	hub.UnregisterListener(EscrowTopic("s1"), first)
	hub.Publish(EscrowTopic("s1"), "claimed")
	receives(t, second, []interface{}{"joined", "claimed"})
	require.Len(t, first.events(), 1)
	require.Empty(t, elsewhere.events())

	hub.UnregisterListener(EscrowTopic("s1"), second)
	require.Zero(t, hub.ListenerCount(EscrowTopic("s1")))
	hub.Publish(EscrowTopic("s1"), "ignored")
}

func TestHubSurvivesFailingListener(t *testing.T) {
	hub := NewNotificationHub()
	broken := &fakeListener{err: errors.New("broken pipe")}
	healthy := &fakeListener{}
	hub.RegisterListener("topic", broken)
	hub.RegisterListener("topic", healthy)

	hub.Publish("topic", 1)
	hub.Publish("topic", 2)
	receives(t, healthy, []interface{}{1, 2})
	receives(t, broken, []interface{}{1, 2})
}

func TestHubPublishDoesNotWaitForStuckListener(t *testing.T) {
	hub := NewNotificationHub()
	stuck := &stuckListener{unblock: make(chan struct{})}
	healthy := &fakeListener{}
	hub.RegisterListener("topic", stuck)
	hub.RegisterListener("topic", healthy)
	t.Cleanup(func() {
		close(stuck.unblock)
		hub.UnregisterListener("topic", stuck)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3*listenerBuffer; i++ {
			hub.Publish("topic", i)
		}
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Registration and publishing stay available while the write is stuck.
	late := &fakeListener{}
	hub.RegisterListener("topic", late)
	require.Equal(t, 3, hub.ListenerCount("topic"))
	hub.Publish("topic", "after")
	receives(t, late, []interface{}{"after"})
	require.Eventually(t, func() bool {
		return len(healthy.events()) > 0
	}, time.Second, 5*time.Millisecond)
}
