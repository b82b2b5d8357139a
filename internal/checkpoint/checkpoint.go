// Package checkpoint serializes engine state into a versioned snapshot
// Tier-2 owns the durable storage for, and restores it on restart. This
// side only serializes/deserializes and tracks checkpoint bookkeeping —
// the actual write/read to disk is the caller's concern (see
// internal/boltstore for the example sink).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/viacore/tier1-core/internal/signal"
)

// Version is the checkpoint wire format version. Bumped on any
// incompatible change to FullCheckpoint's shape.
const Version uint32 = 1

// EnsembleCheckpoint captures the adaptive ensemble's learned weighting
// state: current weights, the Thompson bandit's raw parameters, and how
// many feedback samples it has absorbed.
type EnsembleCheckpoint struct {
	Weights      [signal.NumDetectors]float64 `json:"weights"`
	Alpha        [signal.NumDetectors]float64 `json:"alpha"`
	Beta         [signal.NumDetectors]float64 `json:"beta"`
	TotalSamples uint64                       `json:"total_samples"`
}

// DefaultEnsembleCheckpoint is the neutral starting state: uniform
// weights and a flat (1,1) Beta prior on every detector.
func DefaultEnsembleCheckpoint() EnsembleCheckpoint {
	e := EnsembleCheckpoint{}
	for i := 0; i < signal.NumDetectors; i++ {
		e.Weights[i] = 0.1
		e.Alpha[i] = 1.0
		e.Beta[i] = 1.0
	}
	return e
}

// DetectorCheckpoint is one detector's opaque, detector-specific state.
type DetectorCheckpoint struct {
	DetectorID uint8  `json:"detector_id"`
	State      []byte `json:"state"`
}

// ProfileCheckpoint is one entity's checkpointed registry metadata, its
// own ensemble weights and bandit parameters, and its detector states;
// profile.RestoreCheckpoint reinstalls all of them on recovery.
type ProfileCheckpoint struct {
	EntityHash uint64               `json:"entity_hash"`
	EventCount uint64               `json:"event_count"`
	Priority   uint8                `json:"priority"`
	Ensemble   EnsembleCheckpoint   `json:"ensemble"`
	Detectors  []DetectorCheckpoint `json:"detectors"`
	CreatedAt  uint64               `json:"created_at"`
	LastAccess uint64               `json:"last_access"`
}

// FeedbackCheckpoint is a point-in-time copy of the feedback stats
// counters.
type FeedbackCheckpoint struct {
	TotalReceived  uint64 `json:"total_received"`
	TotalProcessed uint64 `json:"total_processed"`
	TruePositives  uint64 `json:"true_positives"`
	FalsePositives uint64 `json:"false_positives"`
	FalseNegatives uint64 `json:"false_negatives"`
}

// PolicyCheckpoint records which policy version was active at checkpoint
// time, with a checksum so a restart can detect a mismatched policy push.
type PolicyCheckpoint struct {
	ActivePolicyVersion string `json:"active_policy_version"`
	PolicyChecksum      uint64 `json:"policy_checksum"`
}

// FullCheckpoint is the entire serialized engine state: every resident
// profile, the global ensemble used for freshly-created profiles,
// feedback stats, and active policy metadata.
type FullCheckpoint struct {
	Version        uint32              `json:"version"`
	Timestamp      uint64              `json:"timestamp"`
	ProfileCount   int                 `json:"profile_count"`
	Profiles       []ProfileCheckpoint `json:"profiles"`
	GlobalEnsemble EnsembleCheckpoint  `json:"global_ensemble"`
	FeedbackStats  FeedbackCheckpoint  `json:"feedback_stats"`
	Policy         PolicyCheckpoint    `json:"policy"`
}

// Empty returns a checkpoint with no profiles and default ensemble/policy
// state.
func Empty() FullCheckpoint {
	return FullCheckpoint{
		Version:        Version,
		GlobalEnsemble: DefaultEnsembleCheckpoint(),
	}
}

// ToBytes serializes the checkpoint to its wire format.
func (c FullCheckpoint) ToBytes() ([]byte, error) {
	return json.Marshal(c)
}

// Error is a structured checkpoint failure, distinguishing an
// unsupported format version from an ordinary decode failure so callers
// can decide whether to fall back to a fresh start or retry.
type Error struct {
	Kind    string
	Message string
	Found   uint32
	Max     uint32
}

func (e *Error) Error() string {
	if e.Kind == "unsupported_version" {
		return fmt.Sprintf("checkpoint: unsupported version %d (max supported %d)", e.Found, e.Max)
	}
	return fmt.Sprintf("checkpoint: %s: %s", e.Kind, e.Message)
}

// FromBytes deserializes a checkpoint, rejecting any format version newer
// than this binary supports.
func FromBytes(data []byte) (FullCheckpoint, error) {
	var c FullCheckpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return FullCheckpoint{}, &Error{Kind: "deserialization_failed", Message: err.Error()}
	}
	if c.Version > Version {
		return FullCheckpoint{}, &Error{Kind: "unsupported_version", Found: c.Version, Max: Version}
	}
	return c, nil
}

// SizeBytes returns the approximate serialized size, or 0 if
// serialization fails.
func (c FullCheckpoint) SizeBytes() int {
	b, err := c.ToBytes()
	if err != nil {
		return 0
	}
	return len(b)
}

// Manager tracks checkpoint bookkeeping: the next checkpoint ID to hand
// out, and the last one that was confirmed durably stored.
type Manager struct {
	nextID             uint64
	lastCheckpointID   uint64
	lastCheckpointTime uint64
	hasLastCheckpoint  bool
}

// NewManager builds a fresh checkpoint manager, IDs starting at 1.
func NewManager() *Manager {
	return &Manager{nextID: 1}
}

// Request is a checkpoint ready to hand off to Tier-2's storage layer.
type Request struct {
	CheckpointID     uint64
	Timestamp        uint64
	Data             []byte
	ProfileCount     int
	UncompressedSize int
}

// CreateCheckpoint assembles a FullCheckpoint from the given profile
// checkpoints, global ensemble, and feedback stats, serializes it, and
// returns a Request with a freshly-allocated checkpoint ID.
func (m *Manager) CreateCheckpoint(profiles []ProfileCheckpoint, globalEnsemble EnsembleCheckpoint, feedbackStats FeedbackCheckpoint, activePolicyVersion string) (Request, error) {
	timestamp := uint64(time.Now().UnixNano())

	full := FullCheckpoint{
		Version:        Version,
		Timestamp:      timestamp,
		ProfileCount:   len(profiles),
		Profiles:       profiles,
		GlobalEnsemble: globalEnsemble,
		FeedbackStats:  feedbackStats,
		Policy: PolicyCheckpoint{
			ActivePolicyVersion: activePolicyVersion,
			PolicyChecksum:      xxhash.Sum64String(activePolicyVersion),
		},
	}

	data, err := full.ToBytes()
	if err != nil {
		return Request{}, &Error{Kind: "serialization_failed", Message: err.Error()}
	}

	id := m.nextID
	m.nextID++

	return Request{
		CheckpointID:     id,
		Timestamp:        timestamp,
		Data:             data,
		ProfileCount:     full.ProfileCount,
		UncompressedSize: len(data),
	}, nil
}

// RecordSuccess marks checkpointID as the last durably-stored checkpoint.
func (m *Manager) RecordSuccess(checkpointID uint64) {
	m.lastCheckpointID = checkpointID
	m.lastCheckpointTime = uint64(time.Now().UnixNano())
	m.hasLastCheckpoint = true
}

// LastCheckpoint returns the last confirmed checkpoint's ID and
// timestamp, and whether one has ever succeeded.
func (m *Manager) LastCheckpoint() (id, timestamp uint64, ok bool) {
	return m.lastCheckpointID, m.lastCheckpointTime, m.hasLastCheckpoint
}
