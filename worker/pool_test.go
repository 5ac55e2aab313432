package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/tcpserver/metrics"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(WithName("test"), WithSize(3))
	defer p.Stop()

	var (
		count atomic.Int32
		wg    sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		if err := p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			count.Add(1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	wg.Wait()

	if count.Load() != 20 {
		t.Errorf("expected 20 tasks, got %d", count.Load())
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	recovered := make(chan any, 1)
	p := NewPool(WithSize(1), WithPanicHandler(func(r any) { recovered <- r }))
	defer p.Stop()

	_ = p.Submit(context.Background(), func(ctx context.Context) { panic("bad task") })

	select {
	case r := <-recovered:
		if r != "bad task" {
			t.Errorf("unexpected panic value %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("panic handler not invoked")
	}

	done := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool(WithSize(1))
	p.Stop()
	p.Stop()

	if err := p.Submit(context.Background(), func(ctx context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	if p.Active() != 0 {
		t.Errorf("expected no active workers, got %d", p.Active())
	}
}

func TestTrySubmitFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	p := NewPool(WithSize(1), WithQueueSize(0))
	defer p.Stop()
	defer close(block)

	if err := p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-block
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := p.TrySubmit(func(ctx context.Context) {}); !errors.Is(err, ErrPoolFull) {
		t.Errorf("expected ErrPoolFull, got %v", err)
	}
}

func TestSubmitWithTimeout(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	p := NewPool(WithSize(1), WithQueueSize(0))

	if err := p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-block
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := p.SubmitWithTimeout(func(ctx context.Context) {}, 20*time.Millisecond); !errors.Is(err, ErrTaskTimeout) {
		t.Errorf("expected ErrTaskTimeout, got %v", err)
	}

	close(block)
	ran := make(chan struct{})
	if err := p.SubmitWithTimeout(func(ctx context.Context) { close(ran) }, time.Second); err != nil {
		t.Fatalf("submit after the worker freed up: %v", err)
	}
	<-ran

	p.Stop()
	if err := p.SubmitWithTimeout(func(ctx context.Context) {}, time.Second); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolMetrics(t *testing.T) {
	m := metrics.NewMetrics("worker-test")
	p := NewPool(WithName("metered"), WithSize(2), WithMetrics(m))

	if got := testutil.ToFloat64(m.Gauge("worker_pool_active_workers", "metered")); got != 2 {
		t.Errorf("expected 2 active workers, got %v", got)
	}
	p.Stop()
	if got := testutil.ToFloat64(m.Gauge("worker_pool_active_workers", "metered")); got != 0 {
		t.Errorf("expected 0 active workers after stop, got %v", got)
	}
}
