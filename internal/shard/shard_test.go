package shard

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viacore/tier1-core/internal/observability"
	"github.com/viacore/tier1-core/internal/policy"
	"github.com/viacore/tier1-core/internal/registry"
)

func newTestPool(t *testing.T, cfg Config) (*Pool, context.Context, context.CancelFunc) {
	t.Helper()
	reg := registry.New(1)
	pol := policy.NewRuntime()
	metrics := observability.NewMetrics()
	pool := New(cfg, reg, pol, metrics, zap.NewNop(), 64)
	ctx, cancel := context.WithCancel(context.Background())
	return pool, ctx, cancel
}

func TestSubmit_RoutesByEntityHashModulo(t *testing.T) {
	pool, _, cancel := newTestPool(t, Config{NumShards: 4, QueueSize: 10})
	defer cancel()

	if !pool.Submit(Event{EntityHash: 7, TimestampNs: 1, Value: 1.0}) {
		t.Fatal("expected Submit to succeed on a non-full queue")
	}
	if depth := pool.QueueDepth(int(7 % 4)); depth != 1 {
		t.Fatalf("QueueDepth(%d) = %d, want 1", 7%4, depth)
	}
}

func TestSubmit_FailsWhenShardQueueFull(t *testing.T) {
	pool, _, cancel := newTestPool(t, Config{NumShards: 1, QueueSize: 1})
	defer cancel()

	if !pool.Submit(Event{EntityHash: 1, TimestampNs: 1, Value: 1.0}) {
		t.Fatal("expected first Submit to succeed")
	}
	if pool.Submit(Event{EntityHash: 1, TimestampNs: 2, Value: 1.0}) {
		t.Fatal("expected second Submit to fail once the shard queue is full")
	}
}

func TestRun_ProcessesSubmittedEventsIntoSignals(t *testing.T) {
	pool, ctx, cancel := newTestPool(t, Config{NumShards: 2, QueueSize: 100})
	defer cancel()

	out := pool.Run(ctx)

	for i := 0; i < 5; i++ {
		if !pool.Submit(Event{EntityHash: 42, TimestampNs: uint64(i) * 1_000_000, Sequence: uint64(i), Value: 10.0}) {
			t.Fatalf("Submit(%d) failed unexpectedly", i)
		}
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 5 {
		select {
		case sig, ok := <-out:
			if !ok {
				t.Fatalf("output channel closed early after %d signals", received)
			}
			if sig.EntityHash != 42 {
				t.Errorf("signal EntityHash = %d, want 42", sig.EntityHash)
			}
			received++
		case <-timeout:
			t.Fatalf("timed out waiting for signals, got %d/5", received)
		}
	}
}

func TestRun_ClosesOutputChannelAfterCancel(t *testing.T) {
	pool, ctx, cancel := newTestPool(t, Config{NumShards: 2, QueueSize: 10})
	out := pool.Run(ctx)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected output channel to be empty and closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output channel to close after cancel")
	}
}

func TestNew_ClampsZeroShardsAndQueueSize(t *testing.T) {
	reg := registry.New(1)
	pol := policy.NewRuntime()
	metrics := observability.NewMetrics()
	pool := New(Config{NumShards: 0, QueueSize: 0}, reg, pol, metrics, zap.NewNop(), 8)
	if pool.NumShards() != 1 {
		t.Fatalf("NumShards() = %d, want 1 (clamped)", pool.NumShards())
	}
}
