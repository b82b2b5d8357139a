package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_PassesValidation(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate(Defaults()) = %v, want nil", err)
	}
}

func TestValidate_RejectsBadSchemaVersion(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for unsupported schema_version")
	}
}

func TestValidate_RejectsOutOfRangeExplorationRate(t *testing.T) {
	cfg := Defaults()
	cfg.Ensemble.ExplorationRate = 1.5
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for exploration_rate > 1.0")
	}
}

func TestValidate_RejectsZeroShards(t *testing.T) {
	cfg := Defaults()
	cfg.Shard.NumShards = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for num_shards = 0")
	}
}

func TestValidate_RejectsShortCheckpointInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Checkpoint.Interval = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for checkpoint.interval < 1s")
	}
}

func TestLoad_ParsesAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "schema_version: \"1\"\nnode_id: test-node\nshard:\n  num_shards: 8\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NodeID != "test-node" {
		t.Errorf("NodeID = %q, want test-node", cfg.NodeID)
	}
	if cfg.Shard.NumShards != 8 {
		t.Errorf("Shard.NumShards = %d, want 8 (overridden)", cfg.Shard.NumShards)
	}
	if cfg.Registry.MaxProfiles != 100_000 {
		t.Errorf("Registry.MaxProfiles = %d, want 100000 (default retained)", cfg.Registry.MaxProfiles)
	}
}

func TestLoad_FailsOnMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
}
