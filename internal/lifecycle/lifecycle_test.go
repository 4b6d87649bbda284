package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadyFalseBeforeStart(t *testing.T) {
	c := New(time.Second)
	require.False(t, c.Ready())
}

func TestShutdownWithNoComponentsIsSafeAndIdempotent(t *testing.T) {
	c := New(100 * time.Millisecond)
	err := c.Shutdown(context.Background())
	require.NoError(t, err)

	// A second call must not panic or re-run the sequence.
	err = c.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestWaitShutdownReturnsAfterShutdownCompletes(t *testing.T) {
	c := New(100 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.WaitShutdown(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return true }, time.Millisecond, time.Millisecond)
	require.NoError(t, c.Shutdown(context.Background()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitShutdown did not return after Shutdown completed")
	}
}

func TestWaitShutdownRespectsContextDeadline(t *testing.T) {
	c := New(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	c.WaitShutdown(ctx)
	require.Less(t, time.Since(start), time.Second)
}
