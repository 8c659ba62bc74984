// Package cms implements a Count-Min Sketch for approximate frequency
// counting of per-key events in a high-volume stream.
//
// A Count-Min Sketch trades exactness for sub-linear space: a depth*width
// table of counters is updated by hashing each key into one column per row
// and incrementing all of them. Querying takes the minimum counter across
// the rows a key hashes to. Collisions can only inflate an estimate, never
// deflate it, so CMS.Estimate is always >= the true count — a one-sided
// error bound rather than an average-case one.
//
// Each row uses an independently salted MurmurHash3 seed (see internal/mmh3)
// so that a collision in one row is, with high probability, not repeated in
// another row. Width must be a power of two so that column selection can use
// a mask instead of a modulo.
package cms

import (
	"errors"
	"math"

	"engagehub.dev/analytics/internal/mmh3"
)

// rowSalt decorrelates the per-row hash seeds from a single base seed.
const rowSalt = 0x9E3779B97F4A7C15

// ErrInvalidConfig is returned when New is called with a width that is not
// a power of two, or a depth of zero.
var ErrInvalidConfig = errors.New("cms: width must be a power of two and depth must be greater than zero")

// CMS is a Count-Min Sketch of depth*width uint64 counters.
//
// CMS is not safe for concurrent use; callers that need concurrent access
// must serialize it externally (this module always does so under a single
// stats mutex — see eventstream.Processor).
type CMS struct {
	width uint32
	depth uint32
	seed  uint64
	table []uint64 // depth rows of width columns, row-major
}

// New builds a Count-Min Sketch with the given width, depth, and base seed.
// width must be a power of two and depth must be nonzero.
func New(width, depth uint32, seed uint64) (*CMS, error) {
	if width == 0 || (width&(width-1)) != 0 || depth == 0 {
		return nil, ErrInvalidConfig
	}
	return &CMS{
		width: width,
		depth: depth,
		seed:  seed,
		table: make([]uint64, uint64(width)*uint64(depth)),
	}, nil
}

// Width returns the number of columns per row.
func (c *CMS) Width() uint32 { return c.width }

// Depth returns the number of rows.
func (c *CMS) Depth() uint32 { return c.depth }

func (c *CMS) rowSeed(row uint32) uint64 {
	return c.seed + uint64(row)*rowSalt
}

func (c *CMS) index(row uint32, key []byte) uint32 {
	h := mmh3.Sum64(key, c.rowSeed(row))
	return uint32(h) & (c.width - 1)
}

// Increment adds count to every row's counter for key. A count of zero is a
// no-op. Counters never decrement and saturate at math.MaxUint64 rather than
// wrapping.
func (c *CMS) Increment(key []byte, count uint64) {
	if count == 0 {
		return
	}
	for row := uint32(0); row < c.depth; row++ {
		idx := row*c.width + c.index(row, key)
		if c.table[idx] > math.MaxUint64-count {
			c.table[idx] = math.MaxUint64
			continue
		}
		c.table[idx] += count
	}
}

// Estimate returns the minimum counter across all rows for key, which is
// guaranteed to be >= the true count of key (0 for a key never seen). In
// the degenerate case where every row's counter has saturated at MaxUint64,
// which never happens in practice, it also returns 0.
func (c *CMS) Estimate(key []byte) uint64 {
	min := uint64(math.MaxUint64)
	for row := uint32(0); row < c.depth; row++ {
		idx := row*c.width + c.index(row, key)
		if c.table[idx] < min {
			min = c.table[idx]
		}
	}
	if min == math.MaxUint64 {
		return 0
	}
	return min
}
