package primitives

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// CountMinSketch is a fixed-size width*depth table approximating per-key
// frequencies in a stream, keyed by a per-row seeded hash (xxh3-style
// salting via appending the row index before hashing).
type CountMinSketch struct {
	width int
	depth int
	table []uint32
}

// NewCountMinSketch builds a sketch with the given width and depth.
func NewCountMinSketch(width, depth int) *CountMinSketch {
	if width <= 0 || depth <= 0 {
		panic("primitives: CountMinSketch width/depth must be positive")
	}
	return &CountMinSketch{width: width, depth: depth, table: make([]uint32, width*depth)}
}

// NewDefaultCountMinSketch returns a sketch sized for a reasonable
// memory/accuracy trade-off (width 64, depth 4 — 1KB).
func NewDefaultCountMinSketch() *CountMinSketch {
	return NewCountMinSketch(64, 4)
}

func rowHash(hash uint64, row int) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], hash)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(row))
	return xxhash.Sum64(buf[:])
}

// Increment adds one observation of hash to every row of the sketch.
func (c *CountMinSketch) Increment(hash uint64) {
	for d := 0; d < c.depth; d++ {
		w := int(rowHash(hash, d) % uint64(c.width))
		idx := d*c.width + w
		if c.table[idx] != ^uint32(0) {
			c.table[idx]++
		}
	}
}

// Estimate returns the minimum count across all rows for hash, the
// standard Count-Min point estimate (always >= the true count).
func (c *CountMinSketch) Estimate(hash uint64) uint32 {
	minVal := ^uint32(0)
	for d := 0; d < c.depth; d++ {
		w := int(rowHash(hash, d) % uint64(c.width))
		val := c.table[d*c.width+w]
		if val < minVal {
			minVal = val
		}
	}
	return minVal
}

// Contains reports whether hash has ever been incremented (estimate > 0).
func (c *CountMinSketch) Contains(hash uint64) bool {
	return c.Estimate(hash) > 0
}

// Clear resets every counter to zero.
func (c *CountMinSketch) Clear() {
	for i := range c.table {
		c.table[i] = 0
	}
}

// CountMinSketchState is the serializable snapshot of a CountMinSketch.
type CountMinSketchState struct {
	Width int      `json:"width"`
	Depth int      `json:"depth"`
	Table []uint32 `json:"table"`
}

// Snapshot returns the current state for serialization.
func (c *CountMinSketch) Snapshot() CountMinSketchState {
	table := make([]uint32, len(c.table))
	copy(table, c.table)
	return CountMinSketchState{Width: c.width, Depth: c.depth, Table: table}
}

// Restore replaces the sketch's state with a previously captured snapshot.
func (c *CountMinSketch) Restore(s CountMinSketchState) {
	c.width = s.Width
	c.depth = s.Depth
	c.table = append(c.table[:0], s.Table...)
}
