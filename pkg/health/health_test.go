package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchdogExpiresSilentEntries(t *testing.T) {
	w := NewWatchdog(Config{Timeout: 20 * time.Millisecond})
	w.Start("a")
	require.Empty(t, w.Expired())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, []string{"a"}, w.Expired())
}

func TestWatchdogTouchResetsClock(t *testing.T) {
	w := NewWatchdog(Config{Timeout: 30 * time.Millisecond})
	w.Start("a")

	time.Sleep(20 * time.Millisecond)
	w.Touch("a")
	time.Sleep(20 * time.Millisecond)

	require.Empty(t, w.Expired(), "touch should have reset the silence clock")
}

func TestWatchdogStopRemovesEntry(t *testing.T) {
	w := NewWatchdog(Config{Timeout: 10 * time.Millisecond})
	w.Start("a")
	w.Stop("a")

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, w.Expired())
}

func TestWatchdogZeroTimeoutNeverExpires(t *testing.T) {
	w := NewWatchdog(Config{})
	w.Start("a")
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, w.Expired())
}

func TestWatchdogRunInvokesOnExpire(t *testing.T) {
	w := NewWatchdog(Config{Interval: 5 * time.Millisecond, Timeout: 10 * time.Millisecond})
	w.Start("a")

	var mu sync.Mutex
	var expired []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx, func(id string) {
			mu.Lock()
			expired = append(expired, id)
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && expired[0] == "a"
	}, 200*time.Millisecond, 5*time.Millisecond)

	cancel()
	<-done
}
