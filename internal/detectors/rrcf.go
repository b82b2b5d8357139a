package detectors

import (
	"math"
	"math/rand"
)

const (
	rrcfNumTrees   = 20
	rrcfTreeSize   = 256
	rrcfShingleLen = 4
)

// rcNode is a node in a robust random cut tree: either an internal split
// (cutDim/cutValue divide its bounding box in two) or a leaf holding one
// shingled point.
type rcNode struct {
	isLeaf bool

	// internal
	cutDim      int
	cutValue    float64
	left, right *rcNode
	bboxMin     []float64
	bboxMax     []float64
	numPoints   int

	// leaf
	point   []float64
	pointID uint64
}

// rcTree is one robust random cut tree in the RRCF forest: a fixed-capacity
// structure that evicts a uniformly random point before every insert once
// full, so the forest continuously reflects only the most recent window of
// shingles.
type rcTree struct {
	root    *rcNode
	points  map[uint64]*rcNode
	maxSize int
	rng     *rand.Rand
}

func newRcTree(maxSize int, rng *rand.Rand) *rcTree {
	return &rcTree{points: make(map[uint64]*rcNode), maxSize: maxSize, rng: rng}
}

func (t *rcTree) insert(point []float64, id uint64) {
	if len(t.points) >= t.maxSize {
		t.evictRandom()
	}
	leaf := &rcNode{isLeaf: true, point: point, pointID: id}
	if t.root == nil {
		t.root = leaf
	} else {
		t.root = t.insertRecursive(t.root, leaf)
	}
	t.points[id] = leaf
}

func (t *rcTree) evictRandom() {
	if len(t.points) == 0 {
		return
	}
	ids := make([]uint64, 0, len(t.points))
	for id := range t.points {
		ids = append(ids, id)
	}
	victim := ids[t.rng.Intn(len(ids))]
	victimPoint := t.points[victim].point
	delete(t.points, victim)
	if t.root != nil && t.root.isLeaf && t.root.pointID == victim {
		t.root = nil
	} else {
		t.root = t.deleteRecursive(t.root, victim, victimPoint)
	}
}

func (t *rcTree) insertRecursive(node *rcNode, leaf *rcNode) *rcNode {
	if node.isLeaf {
		return t.splitLeaf(node, leaf)
	}
	expandBBox(node.bboxMin, node.bboxMax, leaf.point)
	node.numPoints++
	if leaf.point[node.cutDim] <= node.cutValue {
		node.left = t.insertRecursive(node.left, leaf)
	} else {
		node.right = t.insertRecursive(node.right, leaf)
	}
	return node
}

func (t *rcTree) splitLeaf(existing, incoming *rcNode) *rcNode {
	dims := len(existing.point)
	bboxMin := make([]float64, dims)
	bboxMax := make([]float64, dims)
	for i := 0; i < dims; i++ {
		bboxMin[i] = math.Min(existing.point[i], incoming.point[i])
		bboxMax[i] = math.Max(existing.point[i], incoming.point[i])
	}

	cutDim := 0
	maxRange := -1.0
	for i := 0; i < dims; i++ {
		r := bboxMax[i] - bboxMin[i]
		if r > maxRange {
			maxRange = r
			cutDim = i
		}
	}

	var cutValue float64
	if maxRange <= 0 {
		cutValue = bboxMin[cutDim]
	} else {
		cutValue = bboxMin[cutDim] + t.rng.Float64()*maxRange
	}

	node := &rcNode{
		isLeaf: false, cutDim: cutDim, cutValue: cutValue,
		bboxMin: bboxMin, bboxMax: bboxMax, numPoints: 2,
	}
	if existing.point[cutDim] <= cutValue {
		node.left, node.right = existing, incoming
	} else {
		node.left, node.right = incoming, existing
	}
	return node
}

func expandBBox(min, max []float64, point []float64) {
	for i := range point {
		if point[i] < min[i] {
			min[i] = point[i]
		}
		if point[i] > max[i] {
			max[i] = point[i]
		}
	}
}

// deleteRecursive removes the leaf identified by id, navigating down by
// comparing point against each internal node's cut exactly as insert does
// (mirroring it, since RRCF never needs to delete a point other than the
// one it just inserted a new point in place of).
func (t *rcTree) deleteRecursive(node *rcNode, id uint64, point []float64) *rcNode {
	if node == nil || node.isLeaf {
		return node
	}
	if point[node.cutDim] <= node.cutValue {
		if node.left != nil && node.left.isLeaf && node.left.pointID == id {
			return node.right
		}
		node.left = t.deleteRecursive(node.left, id, point)
	} else {
		if node.right != nil && node.right.isLeaf && node.right.pointID == id {
			return node.left
		}
		node.right = t.deleteRecursive(node.right, id, point)
	}
	node.numPoints--
	return node
}

// depth returns the tree depth at which id's leaf sits, used as a cheap
// proxy for co-displacement: a point that splits off near the root (low
// depth) disturbed more of the tree's structure to be isolated, and is
// more anomalous.
func (t *rcTree) depth(id uint64) int {
	leaf, ok := t.points[id]
	if !ok {
		return 0
	}
	d := 0
	node := t.root
	for node != nil && node != leaf {
		d++
		if node.isLeaf {
			break
		}
		if leaf.point[node.cutDim] <= node.cutValue {
			node = node.left
		} else {
			node = node.right
		}
	}
	return d
}

// StreamingRRCF maintains a forest of robust random cut trees over a
// shingled window of the value stream, scoring each new point by its
// average inverse-depth ("codisplacement proxy") across the forest.
type StreamingRRCF struct {
	trees         []*rcTree
	shingleBuffer []float64
	nextPointID   uint64
	rng           *rand.Rand
}

// NewStreamingRRCF builds a forest of rrcfNumTrees trees, each capped at
// rrcfTreeSize points, operating over rrcfShingleLen-wide shingles.
func NewStreamingRRCF(seed int64) *StreamingRRCF {
	rng := rand.New(rand.NewSource(seed))
	trees := make([]*rcTree, rrcfNumTrees)
	for i := range trees {
		trees[i] = newRcTree(rrcfTreeSize, rng)
	}
	return &StreamingRRCF{trees: trees, rng: rng}
}

// Update folds value into the shingle buffer and, once a full shingle is
// available, inserts it into every tree and returns a normalized anomaly
// score in roughly [0,1].
func (s *StreamingRRCF) Update(value float64) (float64, bool) {
	s.shingleBuffer = append(s.shingleBuffer, value)
	if len(s.shingleBuffer) > rrcfShingleLen {
		s.shingleBuffer = s.shingleBuffer[1:]
	}
	if len(s.shingleBuffer) < rrcfShingleLen {
		return 0.0, false
	}

	point := append([]float64(nil), s.shingleBuffer...)
	id := s.nextPointID
	s.nextPointID++

	var totalInverseDepth float64
	for _, tree := range s.trees {
		tree.insert(point, id)
		depth := tree.depth(id)
		if depth == 0 {
			depth = 1
		}
		totalInverseDepth += 1.0 / float64(depth)
	}
	avg := totalInverseDepth / float64(len(s.trees))

	normalized := clamp01(avg / (1.0 / math.Log2(float64(rrcfTreeSize))))
	return normalized, normalized > 0.7
}

// RRCFDetector wraps StreamingRRCF as a Detector.
type RRCFDetector struct {
	rrcf        *StreamingRRCF
	sampleCount int
}

// NewRRCFDetector builds an RRCF detector with an independent PRNG seed
// (never shared across workers, per the concurrency model).
func NewRRCFDetector(seed int64) *RRCFDetector {
	return &RRCFDetector{rrcf: NewStreamingRRCF(seed)}
}

// Update folds in one event and returns the RRCF detector's output.
func (d *RRCFDetector) Update(ctx Context) Output {
	d.sampleCount++
	score, anomaly := d.rrcf.Update(ctx.Value)

	if d.sampleCount < rrcfShingleLen+20 {
		return Neutral("rrcf", ctx.Value)
	}

	confidence := 0.65
	if anomaly {
		confidence = 0.8
	}

	return Output{
		DetectorID: "rrcf",
		Score:      score,
		Confidence: confidence,
		SignalType: "isolation_codisp",
		Fired:      anomaly,
		Expected:   0.0,
		Observed:   score,
	}
}
