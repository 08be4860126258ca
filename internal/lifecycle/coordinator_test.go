package lifecycle

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecuteCleanupRunsEachHandlerOnce(t *testing.T) {
	t.Parallel()

	c := New(Config{}, zap.NewNop())
	var first, second atomic.Int32
	c.AddCleanupHandler("first", func(context.Context) error {
		first.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	c.AddCleanupHandler("second", func(context.Context) error {
		second.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ExecuteCleanup(context.Background())
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), first.Load())
	require.Equal(t, int32(1), second.Load())
}

func TestExecuteCleanupContinuesAfterFailures(t *testing.T) {
	t.Parallel()

	c := New(Config{}, zap.NewNop())
	var order []string
	c.AddCleanupHandler("fails", func(context.Context) error {
		order = append(order, "fails")
		return errors.New("close failed")
	})
	c.AddCleanupHandler("panics", func(context.Context) error {
		order = append(order, "panics")
		panic("boom")
	})
	c.AddCleanupHandler("ok", func(context.Context) error {
		order = append(order, "ok")
		return nil
	})

	c.ExecuteCleanup(context.Background())
	c.ExecuteCleanup(context.Background())

	require.Equal(t, []string{"fails", "panics", "ok"}, order)
}

func TestAddCleanupHandlerAfterStartIsIgnored(t *testing.T) {
	t.Parallel()

	c := New(Config{}, nil)
	c.ExecuteCleanup(context.Background())

	called := false
	c.AddCleanupHandler("late", func(context.Context) error {
		called = true
		return nil
	})
	c.ExecuteCleanup(context.Background())
	require.False(t, called)
}

func TestRunExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		trigger  func(c *Coordinator)
		wantCode int
	}{
		{name: "graceful shutdown", trigger: func(c *Coordinator) { c.Shutdown() }, wantCode: ExitGraceful},
		{name: "fatal error", trigger: func(c *Coordinator) { c.Fatal(errors.New("listener died")) }, wantCode: ExitFault},
		{
			name: "recovered panic",
			trigger: func(c *Coordinator) {
				c.Go(func() error { panic("worker exploded") })
			},
			wantCode: ExitFault,
		},
		{
			name: "goroutine error",
			trigger: func(c *Coordinator) {
				c.Go(func() error { return errors.New("serve failed") })
			},
			wantCode: ExitFault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(Config{Signals: []os.Signal{syscall.SIGUSR2}}, zap.NewNop())
			var cleaned atomic.Int32
			c.AddCleanupHandler("pool", func(context.Context) error {
				cleaned.Add(1)
				return nil
			})
			tt.trigger(c)
			require.Equal(t, tt.wantCode, c.Run(context.Background()))
			require.Equal(t, int32(1), cleaned.Load())
		})
	}
}

func TestRunCoalescesRepeatedTriggers(t *testing.T) {
	t.Parallel()

	c := New(Config{Signals: []os.Signal{syscall.SIGUSR2}}, zap.NewNop())
	var cleaned atomic.Int32
	c.AddCleanupHandler("pool", func(context.Context) error {
		cleaned.Add(1)
		return nil
	})

	c.Shutdown()
	c.Fatal(errors.New("late fault"))
	c.Shutdown()

	require.Equal(t, ExitGraceful, c.Run(context.Background()))
	c.ExecuteCleanup(context.Background())
	require.Equal(t, int32(1), cleaned.Load())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	c := New(Config{Signals: []os.Signal{syscall.SIGUSR2}}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, ExitGraceful, c.Run(ctx))
}
