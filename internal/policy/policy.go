// Package policy runs the entity/detector rule engine Tier-2 pushes down
// to shape which signals get suppressed or boosted before forwarding.
// Snapshots are immutable once installed; a small bounded history lets
// the runtime roll back to a prior version.
package policy

import (
	"sync"
	"time"
)

const defaultHistoryLimit = 16

// Action is what a matching rule does to a signal.
type Action int

const (
	ActionSuppress Action = iota
	ActionBoost
)

// DetectorPriorAdjustment names a detector and alpha/beta deltas for its
// Thompson-bandit prior. It is carried on a PatternRule as data only:
// Evaluate does not read it, and no bandit prior is changed by it.
type DetectorPriorAdjustment struct {
	DetectorID uint8
	AlphaDelta float64
	BetaDelta  float64
}

// PatternRule is one operator-authored rule: match on entity hash and/or
// primary detector and confidence, then suppress or boost.
type PatternRule struct {
	PatternID       string
	Action          Action
	EntityHashes    []uint64
	PrimaryDetector *uint8
	MinConfidence   *float64
	ScoreScale      *float64
	ConfidenceScale *float64
	TTLSeconds      uint64
	DetectorPriors  []DetectorPriorAdjustment
}

// Defaults are the score/confidence multipliers applied before any rule
// runs.
type Defaults struct {
	ScoreScale      float64
	ConfidenceScale float64
}

// DefaultDefaults returns the neutral 1.0/1.0 multiplier pair.
func DefaultDefaults() Defaults {
	return Defaults{ScoreScale: 1.0, ConfidenceScale: 1.0}
}

// Snapshot is one immutable, versioned policy push from Tier-2.
type Snapshot struct {
	Version         string
	CreatedAtUnix   uint64
	Rules           []PatternRule
	Defaults        Defaults
	CanaryPercent   float64
	FallbackVersion string
}

// DefaultSnapshot is the neutral starting policy installed before any
// Tier-2 push arrives.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Version:       "policy-default",
		Rules:         nil,
		Defaults:      DefaultDefaults(),
		CanaryPercent: 100.0,
	}
}

type indexedRule struct {
	rule      PatternRule
	expiresAt uint64
	hasExpiry bool
}

// IndexedSnapshot is a Snapshot compiled into entity-hash and
// primary-detector indexes so Evaluate avoids a linear scan over every
// rule on every signal.
type IndexedSnapshot struct {
	defaults      Defaults
	entityIndex   map[uint64][]int
	detectorIndex map[uint8][]int
	wildcardRules []int
	rules         []indexedRule
}

// IndexFromSnapshot compiles a Snapshot's rules into lookup indexes.
func IndexFromSnapshot(s Snapshot) *IndexedSnapshot {
	entityIndex := make(map[uint64][]int)
	detectorIndex := make(map[uint8][]int)
	var wildcard []int
	rules := make([]indexedRule, len(s.Rules))

	for idx, rule := range s.Rules {
		if len(rule.EntityHashes) == 0 && rule.PrimaryDetector == nil {
			wildcard = append(wildcard, idx)
		} else {
			for _, h := range rule.EntityHashes {
				entityIndex[h] = append(entityIndex[h], idx)
			}
			if rule.PrimaryDetector != nil {
				detectorIndex[*rule.PrimaryDetector] = append(detectorIndex[*rule.PrimaryDetector], idx)
			}
		}

		var expiresAt uint64
		var hasExpiry bool
		if rule.TTLSeconds > 0 && s.CreatedAtUnix > 0 {
			expiresAt = s.CreatedAtUnix + rule.TTLSeconds
			hasExpiry = true
		}
		rules[idx] = indexedRule{rule: rule, expiresAt: expiresAt, hasExpiry: hasExpiry}
	}

	return &IndexedSnapshot{
		defaults:      s.Defaults,
		entityIndex:   entityIndex,
		detectorIndex: detectorIndex,
		wildcardRules: wildcard,
		rules:         rules,
	}
}

// Effect is the net result of evaluating every matching rule against one
// signal: suppress it outright, or scale its score/confidence.
type Effect struct {
	Suppress        bool
	ScoreScale      float64
	ConfidenceScale float64
}

// NeutralEffect is a no-op effect: nothing suppressed, nothing scaled.
func NeutralEffect() Effect {
	return Effect{ScoreScale: 1.0, ConfidenceScale: 1.0}
}

// Evaluate applies every rule that matches entityHash/primaryDetector, in
// entity-indexed, then detector-indexed, then wildcard order. Later
// matches overwrite earlier ones — rule composition is overwrite, not
// accumulation.
func (s *IndexedSnapshot) Evaluate(entityHash uint64, primaryDetector uint8, confidence float64, now uint64) Effect {
	effect := NeutralEffect()
	effect.ScoreScale = maxFloat(s.defaults.ScoreScale, 0)
	effect.ConfidenceScale = maxFloat(s.defaults.ConfidenceScale, 0)

	checked := make(map[int]bool)

	if indices, ok := s.entityIndex[entityHash]; ok {
		for _, idx := range indices {
			checked[idx] = true
			if r, matched := s.applyRule(idx, primaryDetector, confidence, now); matched {
				effect = r
			}
		}
	}

	if indices, ok := s.detectorIndex[primaryDetector]; ok {
		for _, idx := range indices {
			if checked[idx] {
				continue
			}
			checked[idx] = true
			if r, matched := s.applyRule(idx, primaryDetector, confidence, now); matched {
				effect = r
			}
		}
	}

	for _, idx := range s.wildcardRules {
		if checked[idx] {
			continue
		}
		if r, matched := s.applyRule(idx, primaryDetector, confidence, now); matched {
			effect = r
		}
	}

	return effect
}

func (s *IndexedSnapshot) applyRule(idx int, primaryDetector uint8, confidence float64, now uint64) (Effect, bool) {
	if idx < 0 || idx >= len(s.rules) {
		return Effect{}, false
	}
	ir := s.rules[idx]
	rule := ir.rule

	if rule.PrimaryDetector != nil && *rule.PrimaryDetector != primaryDetector {
		return Effect{}, false
	}
	if rule.MinConfidence != nil && confidence < *rule.MinConfidence {
		return Effect{}, false
	}
	if ir.hasExpiry && now > ir.expiresAt {
		return Effect{}, false
	}

	effect := NeutralEffect()
	switch rule.Action {
	case ActionSuppress:
		effect.Suppress = true
	case ActionBoost:
		effect.ScoreScale = maxFloat(derefOr(rule.ScoreScale, 1.0), 0)
		effect.ConfidenceScale = maxFloat(derefOr(rule.ConfidenceScale, 1.0), 0)
	}
	return effect, true
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Runtime is the mutex-guarded live policy: the active snapshot, its
// compiled index, and a bounded rollback history.
type Runtime struct {
	mu           sync.RWMutex
	active       Snapshot
	indexed      *IndexedSnapshot
	history      []Snapshot
	historyLimit int
}

// NewRuntime builds a Runtime starting from DefaultSnapshot.
func NewRuntime() *Runtime {
	r := &Runtime{historyLimit: defaultHistoryLimit}
	r.active = DefaultSnapshot()
	r.indexed = IndexFromSnapshot(r.active)
	return r
}

// CurrentSnapshot returns a copy of the active policy snapshot.
func (r *Runtime) CurrentSnapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// CurrentVersion returns the active snapshot's version string.
func (r *Runtime) CurrentVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active.Version
}

// InstallSnapshot pushes a new policy live, archiving the previous one
// into history (trimmed to historyLimit) and recompiling the index.
func (r *Runtime) InstallSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, r.active)
	if len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}

	r.indexed = IndexFromSnapshot(s)
	r.active = s
}

// RollbackToVersion reinstalls the most recent history entry matching
// version, returning false if no such version is archived.
func (r *Runtime) RollbackToVersion(version string) bool {
	r.mu.RLock()
	var candidate *Snapshot
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].Version == version {
			candidate = &r.history[i]
			break
		}
	}
	r.mu.RUnlock()

	if candidate == nil {
		return false
	}
	r.InstallSnapshot(*candidate)
	return true
}

// Evaluate applies the currently active compiled policy to one signal.
func (r *Runtime) Evaluate(entityHash uint64, primaryDetector uint8, confidence float64) Effect {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexed.Evaluate(entityHash, primaryDetector, confidence, uint64(time.Now().Unix()))
}
