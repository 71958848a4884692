package diagnostics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaksy/photonest/internal/models"
)

func event(i int) models.DiagnosticEvent {
	return models.NewDiagnosticEvent(models.EventQueueSnapshot,
		map[string]interface{}{"seq": i})
}

func TestAppendAndRecent(t *testing.T) {
	hub := NewHub(10)

	for i := 0; i < 3; i++ {
		hub.Append(event(i))
	}

	events := hub.Recent(0)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i, e.Payload["seq"], "events must come back oldest first")
	}
}

func TestAppendDropsOldestAtCapacity(t *testing.T) {
	hub := NewHub(5)

	for i := 0; i < 12; i++ {
		hub.Append(event(i))
	}

	assert.Equal(t, 5, hub.Len())
	events := hub.Recent(0)
	require.Len(t, events, 5)
	assert.Equal(t, 7, events[0].Payload["seq"], "oldest surviving event")
	assert.Equal(t, 11, events[4].Payload["seq"], "newest event")
}

func TestRecentLimit(t *testing.T) {
	hub := NewHub(10)
	for i := 0; i < 6; i++ {
		hub.Append(event(i))
	}

	events := hub.Recent(2)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].Payload["seq"])
	assert.Equal(t, 5, events[1].Payload["seq"])
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(10)

	var got []models.DiagnosticEvent
	unsubscribe := hub.Subscribe(func(e models.DiagnosticEvent) {
		got = append(got, e)
	})

	hub.Append(event(0))
	hub.Append(event(1))
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Payload["seq"])

	unsubscribe()
	hub.Append(event(2))
	assert.Len(t, got, 2, "no delivery after unsubscribe")
}

func TestSubscriberMayCallBackIntoHub(t *testing.T) {
	hub := NewHub(10)

	done := make(chan int, 1)
	hub.Subscribe(func(models.DiagnosticEvent) {
		// Re-entrancy must not deadlock.
		done <- hub.Len()
	})

	hub.Append(event(0))
	assert.Equal(t, 1, <-done)
}

func TestNewHubFallsBackToDefaultCapacity(t *testing.T) {
	hub := NewHub(0)
	for i := 0; i < DefaultCapacity+10; i++ {
		hub.Append(event(i))
	}
	assert.Equal(t, DefaultCapacity, hub.Len())
}

func TestConcurrentAppend(t *testing.T) {
	hub := NewHub(50)

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			for i := 0; i < 100; i++ {
				hub.Append(models.NewDiagnosticEvent(models.EventSyncCycle,
					map[string]interface{}{"worker": fmt.Sprintf("g%d", g)}))
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	assert.Equal(t, 50, hub.Len())
}
