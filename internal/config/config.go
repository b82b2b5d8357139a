// Package config provides configuration loading, validation, and hot-reload
// for the tier1-agent anomaly-detection service.
//
// Configuration file: /etc/tier1-agent/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - A reloaded config is validated and logged but not applied to the
//     running engine; every change takes effect only after a restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., exploration_rate ∈ [0,1]).
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.

package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for tier1-agent.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID is a unique identifier for this tier1-agent node. Used in
	// checkpoint metadata and log lines. Default: hostname.
	NodeID string `yaml:"node_id"`

	// Shard configures the hash-partitioned event pipeline.
	Shard ShardConfig `yaml:"shard"`

	// Registry configures the bounded entity profile store.
	Registry RegistryConfig `yaml:"registry"`

	// Ensemble configures the adaptive detector-weighting bandit.
	Ensemble EnsembleConfig `yaml:"ensemble"`

	// Feedback configures the ground-truth learning channel.
	Feedback FeedbackConfig `yaml:"feedback"`

	// Checkpoint configures periodic state snapshots.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Forwarder configures Tier-2 signal delivery.
	Forwarder ForwarderConfig `yaml:"forwarder"`

	// Policy configures the administrative policy-install/rollback socket.
	Policy PolicyConfig `yaml:"policy"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// ShardConfig holds event-pipeline parallelism parameters.
type ShardConfig struct {
	// NumShards is the number of independent worker goroutines, each
	// owning a disjoint slice of the entity hash space. Default:
	// runtime.GOMAXPROCS(0).
	NumShards int `yaml:"num_shards"`

	// QueueSize is the bounded per-shard event channel capacity. If
	// full, new events are dropped and the drop counter is incremented.
	// Default: 10000.
	QueueSize int `yaml:"queue_size"`

	// OutputCapacity bounds the shared output channel the forwarder
	// drains signals from. Default: 10000.
	OutputCapacity int `yaml:"output_capacity"`
}

// RegistryConfig holds entity profile residency parameters.
type RegistryConfig struct {
	// MaxProfiles caps how many entities can be resident at once.
	// Default: 100000.
	MaxProfiles int `yaml:"max_profiles"`

	// MinEventsForEviction protects a profile that hasn't finished
	// warming up from being evicted purely for being newly created.
	// Default: 10.
	MinEventsForEviction uint64 `yaml:"min_events_for_eviction"`
}

// EnsembleConfig holds the adaptive ensemble's bandit parameters.
type EnsembleConfig struct {
	// ExplorationRate is the probability the Thompson bandit samples
	// from its posterior rather than exploiting expected weights.
	// Range: [0.0, 1.0]. Default: 0.1.
	ExplorationRate float64 `yaml:"exploration_rate"`

	// UpdateInterval is how many feedback samples accumulate before the
	// ensemble recomputes its detector weights. Default: 100.
	UpdateInterval int `yaml:"update_interval"`

	// Seed drives the Thompson bandit's and RRCF detector's random
	// sampling, for reproducible behavior in tests and replay. Default:
	// 0, in which case the engine combines len(NodeID) with the current
	// clock, so that run is not reproducible.
	Seed int64 `yaml:"seed"`
}

// FeedbackConfig holds ground-truth channel parameters.
type FeedbackConfig struct {
	// ChannelCapacity bounds the feedback event channel. Default: 10000.
	ChannelCapacity int `yaml:"channel_capacity"`
}

// CheckpointConfig holds periodic snapshot parameters.
type CheckpointConfig struct {
	// Interval is how often the engine assembles and persists a
	// checkpoint. Default: 5m.
	Interval time.Duration `yaml:"interval"`

	// StorePath is the BoltDB file checkpoints are written to.
	// Default: /var/lib/tier1-agent/checkpoints.db.
	StorePath string `yaml:"store_path"`
}

// ForwarderConfig holds Tier-2 HTTP delivery parameters.
type ForwarderConfig struct {
	// Tier2URL is the base URL of the Tier-2 ingestion endpoint.
	// Default: http://localhost:3000.
	Tier2URL string `yaml:"tier2_url"`

	// BatchSize is the number of signals accumulated before a flush.
	// Default: 100.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time a partial batch waits before
	// being flushed anyway. Default: 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// MaxRetries caps retry attempts per batch before it's dropped.
	// Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the base of the exponential backoff between
	// retries. Default: 100ms.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// ChannelCapacity bounds the forwarder's input channel. Default: 10000.
	ChannelCapacity int `yaml:"channel_capacity"`

	// Timeout is the per-request HTTP client timeout. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`
}

// PolicyConfig holds the administrative policy socket's parameters.
type PolicyConfig struct {
	// AdminSocketPath is the Unix domain socket path the policy admin
	// server listens on for install/rollback/status commands.
	// Default: /run/tier1-agent/policy.sock.
	AdminSocketPath string `yaml:"admin_socket_path"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Shard: ShardConfig{
			NumShards:      runtime.GOMAXPROCS(0),
			QueueSize:      10000,
			OutputCapacity: 10000,
		},
		Registry: RegistryConfig{
			MaxProfiles:          100_000,
			MinEventsForEviction: 10,
		},
		Ensemble: EnsembleConfig{
			ExplorationRate: 0.1,
			UpdateInterval:  100,
		},
		Feedback: FeedbackConfig{
			ChannelCapacity: 10000,
		},
		Checkpoint: CheckpointConfig{
			Interval:  5 * time.Minute,
			StorePath: DefaultCheckpointPath,
		},
		Forwarder: ForwarderConfig{
			Tier2URL:        "http://localhost:3000",
			BatchSize:       100,
			FlushInterval:   time.Second,
			MaxRetries:      3,
			RetryBaseDelay:  100 * time.Millisecond,
			ChannelCapacity: 10000,
			Timeout:         5 * time.Second,
		},
		Policy: PolicyConfig{
			AdminSocketPath: "/run/tier1-agent/policy.sock",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// DefaultCheckpointPath is the default BoltDB file checkpoints are
// written to.
const DefaultCheckpointPath = "/var/lib/tier1-agent/checkpoints.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Shard.NumShards < 1 || cfg.Shard.NumShards > 1024 {
		errs = append(errs, fmt.Sprintf("shard.num_shards must be in [1, 1024], got %d", cfg.Shard.NumShards))
	}
	if cfg.Shard.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("shard.queue_size must be >= 1, got %d", cfg.Shard.QueueSize))
	}
	if cfg.Registry.MaxProfiles < 1 {
		errs = append(errs, fmt.Sprintf("registry.max_profiles must be >= 1, got %d", cfg.Registry.MaxProfiles))
	}
	if cfg.Ensemble.ExplorationRate < 0.0 || cfg.Ensemble.ExplorationRate > 1.0 {
		errs = append(errs, fmt.Sprintf("ensemble.exploration_rate must be in [0.0, 1.0], got %f", cfg.Ensemble.ExplorationRate))
	}
	if cfg.Ensemble.UpdateInterval < 1 {
		errs = append(errs, fmt.Sprintf("ensemble.update_interval must be >= 1, got %d", cfg.Ensemble.UpdateInterval))
	}
	if cfg.Feedback.ChannelCapacity < 1 {
		errs = append(errs, fmt.Sprintf("feedback.channel_capacity must be >= 1, got %d", cfg.Feedback.ChannelCapacity))
	}
	if cfg.Checkpoint.Interval < time.Second {
		errs = append(errs, fmt.Sprintf("checkpoint.interval must be >= 1s, got %s", cfg.Checkpoint.Interval))
	}
	if cfg.Checkpoint.StorePath == "" {
		errs = append(errs, "checkpoint.store_path must not be empty")
	}
	if cfg.Forwarder.Tier2URL == "" {
		errs = append(errs, "forwarder.tier2_url must not be empty")
	}
	if cfg.Forwarder.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("forwarder.batch_size must be >= 1, got %d", cfg.Forwarder.BatchSize))
	}
	if cfg.Forwarder.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("forwarder.max_retries must be >= 0, got %d", cfg.Forwarder.MaxRetries))
	}
	if cfg.Forwarder.ChannelCapacity < 1 {
		errs = append(errs, fmt.Sprintf("forwarder.channel_capacity must be >= 1, got %d", cfg.Forwarder.ChannelCapacity))
	}
	if cfg.Policy.AdminSocketPath == "" {
		errs = append(errs, "policy.admin_socket_path must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
