package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p2pxfer/models"
)

func ev(sessionID string, fileIndex int, bytes int64, ts time.Time, terminal bool) models.FileProgress {
	return models.FileProgress{
		SessionID:        sessionID,
		FileIndex:        fileIndex,
		BytesTransferred: bytes,
		TotalBytes:       1000,
		MonotonicTS:      ts,
		Terminal:         terminal,
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	now := time.Now()
	bus.Publish(ev("s1", 0, 10, now, false))

	require.Equal(t, int64(10), (<-sub1.Events).BytesTransferred)
	require.Equal(t, int64(10), (<-sub2.Events).BytesTransferred)
}

func TestPublishThrottlesIntermediateEventsWithinWindow(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	base := time.Now()
	bus.Publish(ev("s1", 0, 10, base, false))
	bus.Publish(ev("s1", 0, 20, base.Add(10*time.Millisecond), false))
	bus.Publish(ev("s1", 0, 30, base.Add(150*time.Millisecond), false))

	first := <-sub.Events
	require.Equal(t, int64(10), first.BytesTransferred)

	second := <-sub.Events
	require.Equal(t, int64(30), second.BytesTransferred)

	select {
	case extra := <-sub.Events:
		t.Fatalf("unexpected third event: %+v", extra)
	default:
	}
}

func TestPublishNeverDropsTerminalEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	now := time.Now()
	for i := 0; i < subscriberQueueCapacity+5; i++ {
		bus.Publish(ev("s1", 0, int64(i), now.Add(time.Duration(i)*time.Millisecond), false))
	}

	terminal := ev("s1", 0, 1000, now.Add(time.Second), true)
	bus.Publish(terminal)

	var lastSeen models.FileProgress
	for {
		select {
		case received := <-sub.Events:
			lastSeen = received
		default:
			require.True(t, lastSeen.Terminal)
			require.Equal(t, int64(1000), lastSeen.BytesTransferred)
			return
		}
	}
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	sub.Unsubscribe()
	_, open := <-sub.Events
	require.False(t, open)

	require.NotPanics(t, func() { sub.Unsubscribe() })
}
