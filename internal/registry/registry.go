// Package registry bounds how many entity profiles the engine keeps
// resident in memory, evicting the least valuable one once a configured
// capacity is reached.
package registry

import (
	"math"
	"sync"
	"time"

	"github.com/viacore/tier1-core/internal/checkpoint"
	"github.com/viacore/tier1-core/internal/profile"
)

// Config tunes the registry's capacity and eviction behavior.
type Config struct {
	// MaxProfiles caps how many entities can be resident at once.
	MaxProfiles int
	// MinEventsForEviction protects a profile that hasn't finished
	// warming up from being evicted purely for being newly created.
	MinEventsForEviction uint64
}

// DefaultConfig mirrors the production default: a 100k-entity ceiling,
// profiles need at least 10 events before they're eviction-eligible.
func DefaultConfig() Config {
	return Config{MaxProfiles: 100_000, MinEventsForEviction: 10}
}

type entry struct {
	profile    *profile.AnomalyProfile
	createdAt  time.Time
	lastAccess time.Time
	eventCount uint64
	priority   uint8
}

// evictionScore ranks an entry for eviction — lower is more disposable.
// Recent access, a higher event count, and a higher priority all raise
// the score (the entry survives longer).
func (e *entry) evictionScore(now time.Time) float64 {
	ageSeconds := now.Sub(e.lastAccess).Seconds()
	eventFactor := math.Log(float64(e.eventCount) + math.E)
	priorityFactor := 1.0 + float64(e.priority)*0.5
	return (eventFactor * priorityFactor) / (ageSeconds + 1.0)
}

// Stats summarizes the registry's lifetime activity.
type Stats struct {
	TotalProfiles  int
	TotalEvictions uint64
	TotalCreations uint64
	TotalAccesses  uint64
	Capacity       int
}

// ProfileRegistry is a memory-bounded, mutex-guarded map from entity hash
// to AnomalyProfile, evicting the least valuable entry once MaxProfiles
// is reached.
type ProfileRegistry struct {
	mu       sync.Mutex
	cfg      Config
	profiles map[uint64]*entry
	stats    Stats
	seed     int64
	onEvict  func(hash uint64, p *profile.AnomalyProfile)
}

// New builds a registry with DefaultConfig.
func New(seed int64) *ProfileRegistry {
	return WithConfig(DefaultConfig(), seed)
}

// WithConfig builds a registry with a custom capacity/eviction policy.
func WithConfig(cfg Config, seed int64) *ProfileRegistry {
	return &ProfileRegistry{
		cfg:      cfg,
		profiles: make(map[uint64]*entry, cfg.MaxProfiles),
		stats:    Stats{Capacity: cfg.MaxProfiles},
		seed:     seed,
	}
}

// OnEvict registers fn to be called synchronously, still holding the
// registry's lock, whenever an entry is evicted to make room for a new
// one. Callers typically use this to flush the evicted profile's state
// into a checkpoint before it's lost. Only one callback may be
// registered; a later call replaces an earlier one.
func (r *ProfileRegistry) OnEvict(fn func(hash uint64, p *profile.AnomalyProfile)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// RestoreFrom repopulates the registry from a checkpoint's profile
// snapshots. globalEnsemble is accepted but not applied: profiles created
// later start from a fresh ensemble. It must be called before any event is
// processed, on an empty registry. Returns how many profiles were
// restored.
func (r *ProfileRegistry) RestoreFrom(profiles []checkpoint.ProfileCheckpoint, globalEnsemble checkpoint.EnsembleCheckpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	now := time.Now()
	for _, pc := range profiles {
		p := profile.New(pc.EntityHash, r.seed)
		p.RestoreCheckpoint(pc)

		r.profiles[pc.EntityHash] = &entry{
			profile:    p,
			createdAt:  now,
			lastAccess: now,
			eventCount: pc.EventCount,
			priority:   pc.Priority,
		}
		restored++
	}
	r.stats.TotalCreations += uint64(restored)
	return restored
}

// Len returns the number of resident profiles.
func (r *ProfileRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}

// Stats returns a snapshot of the registry's lifetime counters.
func (r *ProfileRegistry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.TotalProfiles = len(r.profiles)
	return s
}

// Get returns the profile for hash, touching its access time, or nil if
// absent.
func (r *ProfileRegistry) Get(hash uint64) *profile.AnomalyProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.profiles[hash]
	if !ok {
		return nil
	}
	r.touch(e)
	return e.profile
}

// Contains reports whether hash has a resident profile.
func (r *ProfileRegistry) Contains(hash uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.profiles[hash]
	return ok
}

// GetOrCreate returns the profile for hash, creating and (if at capacity)
// evicting one entry to make room when it doesn't yet exist.
func (r *ProfileRegistry) GetOrCreate(hash uint64) *profile.AnomalyProfile {
	return r.GetOrCreateWithPriority(hash, 0)
}

// GetOrCreateWithPriority is GetOrCreate with an explicit eviction
// priority for newly-created profiles (higher survives longer).
func (r *ProfileRegistry) GetOrCreateWithPriority(hash uint64, priority uint8) *profile.AnomalyProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.profiles[hash]; ok {
		r.touch(e)
		return e.profile
	}

	if len(r.profiles) >= r.cfg.MaxProfiles {
		r.evictOneLocked()
	}

	now := time.Now()
	e := &entry{
		profile:    profile.New(hash, r.seed),
		createdAt:  now,
		lastAccess: now,
		priority:   priority,
	}
	r.profiles[hash] = e
	r.stats.TotalCreations++
	return e.profile
}

func (r *ProfileRegistry) touch(e *entry) {
	e.lastAccess = time.Now()
	e.eventCount++
	r.stats.TotalAccesses++
}

// evictOneLocked removes the lowest-scoring eligible entry, preferring the
// entry with the older lastAccess on an exact score tie. Callers must hold
// mu. If an eviction callback is registered, it's invoked synchronously
// with the evicted profile right before the entry is dropped from the map.
func (r *ProfileRegistry) evictOneLocked() (uint64, bool) {
	if len(r.profiles) == 0 {
		return 0, false
	}

	now := time.Now()
	var bestHash uint64
	var bestScore float64
	var bestLastAccess time.Time
	found := false
	for hash, e := range r.profiles {
		if e.eventCount < r.cfg.MinEventsForEviction {
			continue
		}
		score := e.evictionScore(now)
		switch {
		case !found:
			bestHash, bestScore, bestLastAccess, found = hash, score, e.lastAccess, true
		case score < bestScore:
			bestHash, bestScore, bestLastAccess = hash, score, e.lastAccess
		case score == bestScore && e.lastAccess.Before(bestLastAccess):
			bestHash, bestScore, bestLastAccess = hash, score, e.lastAccess
		}
	}

	// No entry has finished warming up yet — fall back to the oldest by
	// last access so the registry can still make room.
	if !found {
		var oldest time.Time
		first := true
		for hash, e := range r.profiles {
			if first || e.lastAccess.Before(oldest) {
				bestHash, oldest, first = hash, e.lastAccess, false
			}
		}
		found = !first
	}

	if !found {
		return 0, false
	}

	evicted := r.profiles[bestHash]
	if r.onEvict != nil {
		r.onEvict(bestHash, evicted.profile)
	}

	delete(r.profiles, bestHash)
	r.stats.TotalEvictions++
	return bestHash, true
}

// Remove deletes a specific profile, if present.
func (r *ProfileRegistry) Remove(hash uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, hash)
}

// SetPriority updates the eviction priority of a resident profile.
func (r *ProfileRegistry) SetPriority(hash uint64, priority uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.profiles[hash]; ok {
		e.priority = priority
	}
}

// EvictToSize evicts entries until at most targetSize remain, returning
// how many were evicted.
func (r *ProfileRegistry) EvictToSize(targetSize int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for len(r.profiles) > targetSize {
		if _, ok := r.evictOneLocked(); !ok {
			break
		}
		evicted++
	}
	return evicted
}

// ForEach iterates every resident profile under the registry's lock. fn
// must not call back into the registry.
func (r *ProfileRegistry) ForEach(fn func(hash uint64, p *profile.AnomalyProfile)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, e := range r.profiles {
		fn(hash, e.profile)
	}
}

// Hashes returns every resident entity hash.
func (r *ProfileRegistry) Hashes() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	hashes := make([]uint64, 0, len(r.profiles))
	for hash := range r.profiles {
		hashes = append(hashes, hash)
	}
	return hashes
}
