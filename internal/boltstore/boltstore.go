// Package boltstore — boltstore.go
//
// BoltDB-backed durable storage for checkpoint snapshots. This is the
// example opaque sink checkpoint.Manager's output is handed to; the
// checkpoint package itself knows nothing about how its bytes are
// persisted.
//
// Schema (BoltDB bucket layout):
//
//	/checkpoints
//	    key:   big-endian uint64 checkpoint ID (sortable)
//	    value: checkpoint.FullCheckpoint.ToBytes()
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent
//     writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Older checkpoints are pruned by KeepLatest, typically called right
//     after a successful write — only the most recent N snapshots are
//     kept on disk.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The caller should treat this as a cold start.
//   - Disk full: bbolt.Update() returns an error; the in-memory engine
//     state is unaffected, only durability is lost until the next
//     successful write.
package boltstore

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/viacore/tier1-core/internal/checkpoint"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketCheckpoints = "checkpoints"
	bucketMeta        = "meta"
)

// Store wraps a BoltDB instance with typed accessors for checkpoint
// snapshots.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at path, initializing all
// required buckets.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &Store{db: bdb}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketCheckpoints, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying BoltDB file.
func (s *Store) Close() error {
	return s.db.Close()
}

func checkpointKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// PutCheckpoint durably persists req's serialized bytes under its
// checkpoint ID.
func (s *Store) PutCheckpoint(req checkpoint.Request) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		if err := b.Put(checkpointKey(req.CheckpointID), req.Data); err != nil {
			return fmt.Errorf("PutCheckpoint bolt.Put: %w", err)
		}
		return nil
	})
}

// LatestCheckpoint returns the most recently written checkpoint, or
// ok=false if none has ever been stored.
func (s *Store) LatestCheckpoint() (full checkpoint.FullCheckpoint, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		c := b.Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		restored, decodeErr := checkpoint.FromBytes(v)
		if decodeErr != nil {
			return decodeErr
		}
		full, ok = restored, true
		return nil
	})
	return full, ok, err
}

// KeepLatest prunes all but the N most recently written checkpoints,
// returning the number of entries deleted. Typically called right after
// a successful PutCheckpoint.
func (s *Store) KeepLatest(n int) (int, error) {
	if n < 0 {
		n = 0
	}

	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			keys = append(keys, keyCopy)
		}

		if len(keys) <= n {
			return nil
		}
		toDelete := keys[:len(keys)-n]
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("KeepLatest delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Count returns the number of checkpoints currently stored.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoints))
		return b.ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}
