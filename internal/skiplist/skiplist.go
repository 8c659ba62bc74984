// Package skiplist implements a probabilistic skip list ordered by
// (score desc, id asc), indexed by id for O(1) lookup.
//
// The leaderboard needs three things a plain sorted slice can't give it
// cheaply under frequent updates: O(log n) expected insert/erase, O(1)
// lookup of an arbitrary user's node, and an ordered level-0 traversal for
// top-k and full-table decay refresh. A skip list gets all three, at the
// cost of the index map (userID -> node) needing to be kept in lockstep
// with every insert and erase — the map holds plain Go pointers into nodes
// still owned by the list, invalidated the moment Erase removes them,
// exactly the "arena of node records with integer handles" caveat spec.md
// calls out for ownership-strict languages; Go's GC makes plain pointers
// safe here as long as Erase and Upsert never leave a dangling map entry.
package skiplist

import (
	"errors"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// MaxSupportedLevels is the highest level count New will accept.
const MaxSupportedLevels = 32

// ErrInvalidConfig is returned by New when maxLevels is outside [1,32] or
// probability is outside (0,1).
var ErrInvalidConfig = errors.New("skiplist: maxLevels must be in [1,32] and probability must be in (0,1)")

// Node is a single (id, score) entry. Nodes are owned by the SkipList that
// created them; callers must not retain a Node across a call to Erase or
// Upsert for the same id, since both may replace or free the underlying
// node.
type Node struct {
	ID         string
	Score      float64
	LastUpdate int64
	forward    []*Node
}

// SkipList stores (id, score) pairs ordered by (score desc, id asc).
//
// SkipList is not safe for concurrent use; the leaderboard package
// serializes all access with its own mutex.
type SkipList struct {
	header       *Node
	maxLevels    int
	probability  float64
	currentLevel int
	size         int
	index        map[string]*Node

	// levelCounter feeds randomLevel with an alloc-free, lock-free entropy
	// source: rather than draw from math/rand's globally-locked source on
	// every insert (a real bottleneck once many goroutines update a shared
	// leaderboard through the same mutex-protected list), each call mixes
	// a monotonic counter through xxhash, the same "atomic counter instead
	// of a syscall or a lock" trick internal/pds/topk/topk.go uses for its
	// own decay-table seeding.
	levelCounter atomic.Uint64
}

// New builds an empty SkipList. maxLevels bounds how tall a node's tower
// can grow; probability is the per-level chance a tower continues to the
// next level (the classic value is 0.5).
func New(maxLevels int, probability float64) (*SkipList, error) {
	if maxLevels <= 0 || maxLevels > MaxSupportedLevels || probability <= 0 || probability >= 1 {
		return nil, ErrInvalidConfig
	}
	return &SkipList{
		header:       &Node{forward: make([]*Node, maxLevels)},
		maxLevels:    maxLevels,
		probability:  probability,
		currentLevel: 1,
		index:        make(map[string]*Node),
	}, nil
}

// Size returns the number of nodes currently stored.
func (s *SkipList) Size() int { return s.size }

func (s *SkipList) randomLevel() int {
	level := 1
	for level < s.maxLevels && s.coinFlip() {
		level++
	}
	return level
}

// coinFlip returns true with probability s.probability, drawn from an
// xxhash-mixed monotonic counter rather than a shared, lock-guarded PRNG.
func (s *SkipList) coinFlip() bool {
	n := s.levelCounter.Add(1)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
	h := xxhash.Sum64(buf[:])
	// h's top 53 bits give more than enough precision to compare against a
	// float64 probability without noticeable bias.
	const mantissaBits = 53
	frac := float64(h>>(64-mantissaBits)) / float64(uint64(1)<<mantissaBits)
	return frac < s.probability
}

// comesBefore reports whether candidate sorts strictly before (score, id)
// under the (score desc, id asc) ordering.
func comesBefore(candidate *Node, score float64, id string) bool {
	if candidate.Score > score {
		return true
	}
	if candidate.Score < score {
		return false
	}
	return candidate.ID < id
}

// Upsert inserts or replaces the node for id with the given score and
// timestamp, re-threading it into its new sorted position.
func (s *SkipList) Upsert(id string, score float64, timestamp int64) *Node {
	s.Erase(id)

	level := s.randomLevel()
	node := &Node{ID: id, Score: score, LastUpdate: timestamp, forward: make([]*Node, level)}

	update := make([]*Node, s.maxLevels)
	current := s.header
	for l := s.currentLevel - 1; l >= 0; l-- {
		for current.forward[l] != nil && comesBefore(current.forward[l], score, id) {
			current = current.forward[l]
		}
		update[l] = current
	}

	if level > s.currentLevel {
		for l := s.currentLevel; l < level; l++ {
			update[l] = s.header
		}
		s.currentLevel = level
	}

	for l := 0; l < level; l++ {
		node.forward[l] = update[l].forward[l]
		update[l].forward[l] = node
	}

	s.index[id] = node
	s.size++
	return node
}

// Find returns the node for id, if present.
func (s *SkipList) Find(id string) (*Node, bool) {
	n, ok := s.index[id]
	return n, ok
}

// Erase removes id from the list, returning true if it was present.
func (s *SkipList) Erase(id string) bool {
	target, ok := s.index[id]
	if !ok {
		return false
	}

	update := make([]*Node, s.maxLevels)
	current := s.header
	for l := s.currentLevel - 1; l >= 0; l-- {
		for current.forward[l] != nil && current.forward[l] != target &&
			comesBefore(current.forward[l], target.Score, target.ID) {
			current = current.forward[l]
		}
		update[l] = current
	}

	removed := false
	for l := 0; l < len(target.forward); l++ {
		if update[l].forward[l] == target {
			update[l].forward[l] = target.forward[l]
			removed = true
		}
	}
	if !removed {
		return false
	}

	for s.currentLevel > 1 && s.header.forward[s.currentLevel-1] == nil {
		s.currentLevel--
	}

	delete(s.index, id)
	s.size--
	return true
}

// RankOf returns the 1-based position of id in score-descending order, or
// 0 if id is absent. This is a level-0 linear walk: acceptable because
// callers rank one user at a time rather than the whole table.
func (s *SkipList) RankOf(id string) int {
	rank := 1
	for current := s.header.forward[0]; current != nil; current = current.forward[0] {
		if current.ID == id {
			return rank
		}
		rank++
	}
	return 0
}

// TopK returns up to the first k nodes in score-descending order.
func (s *SkipList) TopK(k int) []*Node {
	if k < 0 {
		k = 0
	}
	results := make([]*Node, 0, min(k, s.size))
	for current := s.header.forward[0]; current != nil && len(results) < k; current = current.forward[0] {
		results = append(results, current)
	}
	return results
}

// Tail returns the lowest-scoring node (highest id among ties), or nil if
// the list is empty.
func (s *SkipList) Tail() *Node {
	current := s.header.forward[0]
	if current == nil {
		return nil
	}
	for current.forward[0] != nil {
		current = current.forward[0]
	}
	return current
}

// ForEach visits every node once in score-descending order.
func (s *SkipList) ForEach(fn func(*Node)) {
	for current := s.header.forward[0]; current != nil; current = current.forward[0] {
		fn(current)
	}
}
