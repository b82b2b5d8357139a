package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/viacore/tier1-core/internal/checkpoint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndLatestCheckpoint_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	mgr := checkpoint.NewManager()

	req, err := mgr.CreateCheckpoint(nil, checkpoint.DefaultEnsembleCheckpoint(), checkpoint.FeedbackCheckpoint{}, "policy-v1")
	if err != nil {
		t.Fatalf("CreateCheckpoint() error = %v", err)
	}
	if err := s.PutCheckpoint(req); err != nil {
		t.Fatalf("PutCheckpoint() error = %v", err)
	}

	full, ok, err := s.LatestCheckpoint()
	if err != nil {
		t.Fatalf("LatestCheckpoint() error = %v", err)
	}
	if !ok {
		t.Fatal("expected LatestCheckpoint to find the just-written checkpoint")
	}
	if full.Policy.ActivePolicyVersion != "policy-v1" {
		t.Errorf("ActivePolicyVersion = %q, want policy-v1", full.Policy.ActivePolicyVersion)
	}
}

func TestLatestCheckpoint_FalseWhenEmpty(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LatestCheckpoint()
	if err != nil {
		t.Fatalf("LatestCheckpoint() error = %v", err)
	}
	if ok {
		t.Fatal("expected ok=false on an empty store")
	}
}

func TestKeepLatest_PrunesOlderCheckpoints(t *testing.T) {
	s := openTestStore(t)
	mgr := checkpoint.NewManager()

	for i := 0; i < 5; i++ {
		req, err := mgr.CreateCheckpoint(nil, checkpoint.DefaultEnsembleCheckpoint(), checkpoint.FeedbackCheckpoint{}, "policy-v1")
		if err != nil {
			t.Fatalf("CreateCheckpoint() error = %v", err)
		}
		if err := s.PutCheckpoint(req); err != nil {
			t.Fatalf("PutCheckpoint() error = %v", err)
		}
	}

	deleted, err := s.KeepLatest(2)
	if err != nil {
		t.Fatalf("KeepLatest() error = %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("Count() = %d, want 2", count)
	}
}
