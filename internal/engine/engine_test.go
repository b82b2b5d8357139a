package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viacore/tier1-core/internal/config"
	"github.com/viacore/tier1-core/internal/feedback"
	"github.com/viacore/tier1-core/internal/forwarder"
	"github.com/viacore/tier1-core/internal/shard"
	"github.com/viacore/tier1-core/internal/signal"
)

func feedbackEventFor(t *testing.T, entityHash uint64) feedback.Event {
	t.Helper()
	var scores [signal.NumDetectors]float64
	return feedback.TruePositive(entityHash, 1_000_000, scores, feedback.SourceHumanReview, 1.0)
}

func testConfig(t *testing.T, tier2URL string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.NodeID = "test-node"
	cfg.Checkpoint.StorePath = filepath.Join(t.TempDir(), "checkpoints.db")
	cfg.Checkpoint.Interval = 50 * time.Millisecond
	cfg.Shard.NumShards = 2
	cfg.Shard.QueueSize = 100
	cfg.Shard.OutputCapacity = 100
	cfg.Forwarder.Tier2URL = tier2URL
	cfg.Forwarder.BatchSize = 1
	cfg.Forwarder.FlushInterval = 20 * time.Millisecond
	cfg.Policy.AdminSocketPath = filepath.Join(t.TempDir(), "policy.sock")
	return &cfg
}

func TestEngine_SubmitFlowsThroughToForwarder(t *testing.T) {
	received := make(chan forwarder.SignalBatch, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch forwarder.SignalBatch
		_ = json.NewDecoder(r.Body).Decode(&batch)
		received <- batch
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	eng, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	// Feed a spike of extreme values so at least one detector fires
	// strongly enough to clear the is_anomaly threshold.
	for i := 0; i < 30; i++ {
		eng.Submit(shard.Event{EntityHash: 99, TimestampNs: uint64(i) * 1_000_000, Sequence: uint64(i), Value: 1.0})
	}
	for i := 0; i < 5; i++ {
		eng.Submit(shard.Event{EntityHash: 99, TimestampNs: uint64(30+i) * 1_000_000, Sequence: uint64(30 + i), Value: 10_000.0})
	}

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a forwarded signal batch")
	}
}

func TestEngine_WritesCheckpointToStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	eng, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	eng.Submit(shard.Event{EntityHash: 1, TimestampNs: 1, Sequence: 0, Value: 1.0})

	time.Sleep(200 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)

	full, ok, err := eng.store.LatestCheckpoint()
	if err != nil {
		t.Fatalf("LatestCheckpoint() error = %v", err)
	}
	if !ok {
		t.Fatal("expected at least one checkpoint to have been written")
	}
	if full.Policy.ActivePolicyVersion == "" {
		t.Error("expected a non-empty active policy version on the checkpoint")
	}

	eng.Close()
}

func TestEngine_RestoresResidentProfilesFromExistingCheckpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)

	eng1, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 50; i++ {
		eng1.Submit(shard.Event{EntityHash: 777, TimestampNs: uint64(i) * 1_000_000, Sequence: uint64(i), Value: 5.0})
	}
	ctx1, cancel1 := context.WithCancel(context.Background())
	go eng1.Run(ctx1)
	time.Sleep(100 * time.Millisecond)
	cancel1()
	time.Sleep(50 * time.Millisecond)
	if err := eng1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	eng2, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer eng2.Close()

	if !eng2.registry.Contains(777) {
		t.Fatal("expected entity 777 to be resident after restoring from the prior checkpoint")
	}
	if eng2.registry.Get(777).EventCount() == 0 {
		t.Error("expected the restored profile to carry over its learned event count")
	}
}

func TestEngine_SubmitFeedbackDoesNotPanicOnUnknownEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	eng, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	if !eng.SubmitFeedback(feedbackEventFor(t, 12345)) {
		t.Fatal("expected SubmitFeedback to succeed on a fresh channel")
	}
	time.Sleep(1100 * time.Millisecond)
}
