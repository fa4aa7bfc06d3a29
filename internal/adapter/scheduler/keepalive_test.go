package scheduler

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestKeepAlive_AcquireRelease(t *testing.T) {
	k := New(nil, zap.NewNop())

	k.Acquire("a")
	k.Acquire("a")
	k.Acquire("b")
	if got := k.Active(); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}

	k.Release("a")
	if got := k.Active(); got != 2 {
		t.Errorf("Active() = %d after one of two releases, want 2", got)
	}
	k.Release("a")
	k.Release("b")
	k.Release("unknown")
	if got := k.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestKeepAlive_RunStopsWhenIdle(t *testing.T) {
	k := New(&Config{IdleTimeout: 20 * time.Millisecond}, zap.NewNop())

	var tornDown bool
	k.OnTeardown(func() { tornDown = true })

	done := make(chan struct{})
	go func() {
		k.Run(context.Background())
		close(done)
	}()

	k.Acquire("a")
	k.Release("a")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() should return once idle")
	}
	if !tornDown {
		t.Error("teardown hook should run before Run returns")
	}
}

func TestKeepAlive_AcquireCancelsIdle(t *testing.T) {
	k := New(&Config{IdleTimeout: 30 * time.Millisecond}, zap.NewNop())

	k.Acquire("a")
	k.Release("a")
	k.Acquire("b")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	k.Run(ctx)
	if time.Since(start) < 90*time.Millisecond {
		t.Error("Run() returned on idle although a transfer is running")
	}
}

func TestKeepAlive_TeardownRunsHooksOnceInOrder(t *testing.T) {
	k := New(nil, zap.NewNop())

	var order []int
	k.OnTeardown(func() { order = append(order, 1) })
	k.OnTeardown(func() { order = append(order, 2) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k.Run(ctx)
	k.Teardown()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("hooks ran as %v, want [1 2]", order)
	}
}
