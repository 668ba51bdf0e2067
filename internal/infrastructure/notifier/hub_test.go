package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish("user-1", "purchase-invoice", "Download: 1/10")

	event := <-ch
	assert.Equal(t, "purchase-invoice", event.Topic)
	assert.Equal(t, "Download: 1/10", event.Message)
	assert.False(t, event.At.IsZero())
}

func TestHub_ScopedToUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish("user-2", "purchase-invoice", "not for user-1")

	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	default:
	}
}

func TestHub_FullBufferDropsNotBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	_, cancel := hub.Subscribe("user-1")
	defer cancel()

	// more than the buffer; must return promptly without a consumer
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish("user-1", "rate-limit", "backing off")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, cancel := hub.Subscribe("user-1")
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// publishing to a user with no subscribers is a no-op
	hub.Publish("user-1", "purchase-invoice", "nobody listening")
}

func TestHub_CloseStopsEverything(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch, _ := hub.Subscribe("user-1")
	hub.Close()

	_, open := <-ch
	require.False(t, open)

	hub.Publish("user-1", "purchase-invoice", "after close")
	late, _ := hub.Subscribe("user-1")
	_, open = <-late
	assert.False(t, open)
}
