package primitives

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// HyperLogLog is a fixed-memory cardinality estimator: precision p gives
// 2^p registers and a relative error around 1.04/sqrt(2^p).
type HyperLogLog struct {
	registers []uint8
	p         uint8
	m         int
	alphaMM   float64
}

// NewHyperLogLog builds an estimator with the given precision, clamped to
// [4,16].
func NewHyperLogLog(precision uint8) *HyperLogLog {
	p := precision
	if p < 4 {
		p = 4
	}
	if p > 16 {
		p = 16
	}
	m := 1 << p
	var alpha float64
	switch p {
	case 4:
		alpha = 0.673
	case 5:
		alpha = 0.697
	case 6:
		alpha = 0.709
	default:
		alpha = 0.7213 / (1.0 + 1.079/float64(m))
	}
	return &HyperLogLog{
		registers: make([]uint8, m),
		p:         p,
		m:         m,
		alphaMM:   alpha * float64(m) * float64(m),
	}
}

// Add hashes s with 64-bit xxHash (XXH64) and folds it into the sketch.
func (h *HyperLogLog) Add(s string) {
	h.AddHash(xxhash.Sum64String(s))
}

// AddHash folds an already-hashed 64-bit value into the sketch.
func (h *HyperLogLog) AddHash(hash uint64) {
	idx := hash >> (64 - h.p)
	w := hash << h.p
	lz := uint8(bits.LeadingZeros64(w)) + 1
	if lz > h.registers[idx] {
		h.registers[idx] = lz
	}
}

// Count returns the current cardinality estimate.
func (h *HyperLogLog) Count() float64 {
	var rawSum float64
	var zeros int
	for _, reg := range h.registers {
		rawSum += 1.0 / float64(uint64(1)<<reg)
		if reg == 0 {
			zeros++
		}
	}

	estimate := h.alphaMM / rawSum

	if estimate <= 2.5*float64(h.m) && zeros > 0 {
		estimate = float64(h.m) * math.Log(float64(h.m)/float64(zeros))
	}

	return estimate
}

// HyperLogLogState is the serializable snapshot of a HyperLogLog.
type HyperLogLogState struct {
	Registers []uint8 `json:"registers"`
	P         uint8   `json:"p"`
}

// Snapshot returns the current state for serialization.
func (h *HyperLogLog) Snapshot() HyperLogLogState {
	regs := make([]uint8, len(h.registers))
	copy(regs, h.registers)
	return HyperLogLogState{Registers: regs, P: h.p}
}

// Restore rebuilds the sketch from a previously captured snapshot.
func (h *HyperLogLog) Restore(s HyperLogLogState) {
	rebuilt := NewHyperLogLog(s.P)
	copy(rebuilt.registers, s.Registers)
	*h = *rebuilt
}
