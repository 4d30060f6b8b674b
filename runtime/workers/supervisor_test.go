package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type funcWorker struct {
	run func(ctx context.Context) error
}

func (w *funcWorker) Run(ctx context.Context) error { return w.run(ctx) }

func TestSupervisor_RestartOnPanic(t *testing.T) {
	req := require.New(t)

	var calls atomic.Int32
	worker := &funcWorker{run: func(ctx context.Context) error {
		calls.Add(1)
		panic("boom")
	}}

	sup := NewSupervisor(slog.Default(), 50*time.Millisecond)
	sup.Add(worker)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Run(ctx)

	// Waiting for panics and restarts.
	time.Sleep(400 * time.Millisecond)
	cancel()
	sup.Stop()

	req.GreaterOrEqual(calls.Load(), int32(2))
}

func TestSupervisor_StopOnSuccess(t *testing.T) {
	req := require.New(t)

	var calls atomic.Int32
	worker := &funcWorker{run: func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}}

	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	sup.Add(worker)
	sup.Run(context.Background())

	// A clean return is terminal: no restart.
	time.Sleep(200 * time.Millisecond)
	sup.Stop()

	req.Equal(int32(1), calls.Load())
}

func TestSupervisor_Stop_Cancels_Running_Workers(t *testing.T) {
	req := require.New(t)

	started := make(chan struct{})
	worker := &funcWorker{run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}

	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	sup.Add(worker)
	sup.Run(context.Background())

	select {
	case <-started:
	case <-time.After(time.Second):
		req.Fail("worker never started")
	}

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Stop did not terminate the supervised worker")
	}
}
