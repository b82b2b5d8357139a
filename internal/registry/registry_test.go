package registry

import (
	"testing"
	"time"

	"github.com/viacore/tier1-core/internal/checkpoint"
	"github.com/viacore/tier1-core/internal/profile"
)

func TestGetOrCreate_CreatesOnceReturnsExistingAfter(t *testing.T) {
	r := New(1)
	p1 := r.GetOrCreate(123)
	p2 := r.GetOrCreate(123)
	if p1 != p2 {
		t.Fatal("expected GetOrCreate to return the same profile for a repeated hash")
	}
	if r.Stats().TotalCreations != 1 {
		t.Fatalf("TotalCreations = %d, want 1", r.Stats().TotalCreations)
	}
}

func TestBasicOperations_InsertContainsRemove(t *testing.T) {
	r := WithConfig(Config{MaxProfiles: 10, MinEventsForEviction: 1}, 1)
	r.GetOrCreate(1)
	r.GetOrCreate(2)

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if !r.Contains(1) || !r.Contains(2) {
		t.Fatal("expected both hashes to be resident")
	}

	r.Remove(1)
	if r.Contains(1) {
		t.Fatal("expected hash 1 to be gone after Remove")
	}
}

func TestEviction_BoundsRegistryAtCapacity(t *testing.T) {
	r := WithConfig(Config{MaxProfiles: 3, MinEventsForEviction: 0}, 1)
	r.GetOrCreate(1)
	r.GetOrCreate(2)
	r.GetOrCreate(3)
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	r.GetOrCreate(4)
	if r.Len() != 3 {
		t.Fatalf("Len() after forced eviction = %d, want still 3", r.Len())
	}
	if r.Stats().TotalEvictions < 1 {
		t.Fatal("expected at least one eviction once capacity was exceeded")
	}
}

func TestPriorityEviction_HighPrioritySurvives(t *testing.T) {
	r := WithConfig(Config{MaxProfiles: 3, MinEventsForEviction: 0}, 1)
	r.GetOrCreateWithPriority(1, 0)
	r.GetOrCreateWithPriority(2, 5)
	r.GetOrCreateWithPriority(3, 10)

	// Touch all three so each accumulates some event count.
	for i := 0; i < 5; i++ {
		r.Get(1)
		r.Get(2)
		r.Get(3)
	}

	r.GetOrCreate(4)

	if !r.Contains(3) {
		t.Error("expected the highest-priority profile to survive eviction")
	}
}

func TestEvictToSize_StopsAtTarget(t *testing.T) {
	r := WithConfig(Config{MaxProfiles: 100, MinEventsForEviction: 0}, 1)
	for i := uint64(0); i < 10; i++ {
		r.GetOrCreate(i)
	}
	evicted := r.EvictToSize(4)
	if evicted != 6 {
		t.Fatalf("EvictToSize evicted %d entries, want 6", evicted)
	}
	if r.Len() != 4 {
		t.Fatalf("Len() after EvictToSize = %d, want 4", r.Len())
	}
}

func TestForEach_VisitsEveryResidentProfile(t *testing.T) {
	r := New(1)
	for i := uint64(0); i < 5; i++ {
		r.GetOrCreate(i)
	}
	seen := map[uint64]bool{}
	r.ForEach(func(hash uint64, _ *profile.AnomalyProfile) {
		seen[hash] = true
	})
	if len(seen) != 5 {
		t.Fatalf("ForEach visited %d profiles, want 5", len(seen))
	}
}

func TestEvictOneLocked_EqualEventCountsEvictsOlderLastAccess(t *testing.T) {
	r := WithConfig(Config{MaxProfiles: 10, MinEventsForEviction: 0}, 1)

	now := time.Now()
	r.profiles[1] = &entry{profile: profile.New(1, 1), createdAt: now, lastAccess: now.Add(-10 * time.Second), eventCount: 5}
	r.profiles[2] = &entry{profile: profile.New(2, 1), createdAt: now, lastAccess: now.Add(-5 * time.Second), eventCount: 5}

	r.mu.Lock()
	evictedHash, ok := r.evictOneLocked()
	r.mu.Unlock()

	if !ok {
		t.Fatal("expected an eviction")
	}
	if evictedHash != 1 {
		t.Fatalf("evicted hash = %d, want 1 (equal event counts, so the longer-idle entry scores lower)", evictedHash)
	}
}

func TestOnEvict_FiresWithEvictedHashAndProfile(t *testing.T) {
	r := WithConfig(Config{MaxProfiles: 2, MinEventsForEviction: 0}, 1)

	var gotHash uint64
	var gotProfile *profile.AnomalyProfile
	calls := 0
	r.OnEvict(func(hash uint64, p *profile.AnomalyProfile) {
		calls++
		gotHash, gotProfile = hash, p
	})

	p1 := r.GetOrCreate(1)
	r.GetOrCreate(2)
	r.Get(1) // keep 1 more recently accessed than 2
	r.GetOrCreate(3)

	if calls != 1 {
		t.Fatalf("OnEvict called %d times, want 1", calls)
	}
	if gotHash != 2 {
		t.Fatalf("evicted hash = %d, want 2", gotHash)
	}
	if gotProfile == nil {
		t.Fatal("expected OnEvict to receive the evicted profile")
	}
	_ = p1
}

func TestRestoreFrom_RepopulatesProfilesFromCheckpoint(t *testing.T) {
	r := New(1)

	profiles := []checkpoint.ProfileCheckpoint{
		{EntityHash: 7, EventCount: 42, Priority: 3, Ensemble: checkpoint.DefaultEnsembleCheckpoint(), LastAccess: 123456},
		{EntityHash: 8, EventCount: 9, Priority: 0, Ensemble: checkpoint.DefaultEnsembleCheckpoint(), LastAccess: 654321},
	}

	restored := r.RestoreFrom(profiles, checkpoint.DefaultEnsembleCheckpoint())
	if restored != 2 {
		t.Fatalf("RestoreFrom returned %d, want 2", restored)
	}
	if !r.Contains(7) || !r.Contains(8) {
		t.Fatal("expected both checkpointed entities to be resident after RestoreFrom")
	}
	if r.Get(7).EventCount() != 42 {
		t.Fatalf("restored EventCount = %d, want 42", r.Get(7).EventCount())
	}
}
