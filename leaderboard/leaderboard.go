// Package leaderboard implements a decay-aware ranking table: scores fall
// off exponentially between updates, ranking is refreshed lazily on read,
// and the whole table can be snapshotted to and restored from a small,
// hand-parsed JSON format.
package leaderboard

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"engagehub.dev/analytics/internal/decay"
	"engagehub.dev/analytics/internal/skiplist"
)

// ErrIO wraps a snapshot file that could not be opened for reading or
// writing.
var ErrIO = errors.New("leaderboard: io error")

const (
	skipListLevels      = 16
	skipListProbability = 0.5
	refreshEpsilon      = 1e-6
)

// RankEntry describes one user's position in the table at the moment a
// query was answered.
type RankEntry struct {
	UserID     string
	Score      float64
	Rank       int
	LastUpdate int64
}

// Leaderboard is a decay-weighted ranking table safe for concurrent use.
// All operations serialize on a single mutex; ranking work (the skip-list
// walk, the lazy decay refresh) is cheap enough relative to typical query
// rates that splitting the lock further isn't worth the complexity, the
// same call the original single-mutex design makes.
type Leaderboard struct {
	mu         sync.Mutex
	skipList   *skiplist.SkipList
	decay      *decay.Decay
	maxUsers   int
	timeSource func() int64
}

// New builds a Leaderboard with the given per-day decay factor (validated
// by internal/decay, so it must lie in (0,1]) and an optional cap on the
// number of tracked users. A maxUsers of 0 disables eviction; callers
// should watch Size to notice unbounded growth.
func New(decayFactor float64, maxUsers int) (*Leaderboard, error) {
	d, err := decay.New(decayFactor)
	if err != nil {
		return nil, err
	}
	sl, err := skiplist.New(skipListLevels, skipListProbability)
	if err != nil {
		return nil, err
	}
	return &Leaderboard{
		skipList:   sl,
		decay:      d,
		maxUsers:   maxUsers,
		timeSource: defaultTimeSource,
	}, nil
}

func defaultTimeSource() int64 { return time.Now().Unix() }

// SetTimeSource overrides the clock used when a caller does not supply an
// explicit timestamp to UpdateUser, and for every read-path refresh. Tests
// use this to drive decay deterministically.
func (l *Leaderboard) SetTimeSource(fn func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn == nil {
		fn = defaultTimeSource
	}
	l.timeSource = fn
}

// Size returns the number of users currently tracked.
func (l *Leaderboard) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipList.Size()
}

// UpdateUser adds points to userID's score, decaying any prior score up to
// timestamp first. A timestamp of 0 (or negative) uses the leaderboard's
// time source instead. Adding 0 points to a user not yet present is a
// no-op: zero-score rows are never materialized.
func (l *Leaderboard) UpdateUser(userID string, points float64, timestamp int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := timestamp
	if now <= 0 {
		now = l.timeSource()
	}

	existing, exists := l.skipList.Find(userID)
	if points == 0 && !exists {
		return
	}

	newScore := points
	if exists {
		newScore = l.decay.Apply(existing.Score, existing.LastUpdate, now) + points
	}

	l.skipList.Upsert(userID, newScore, now)

	if l.maxUsers > 0 && l.skipList.Size() > l.maxUsers {
		if tail := l.skipList.Tail(); tail != nil {
			if tail.ID != userID || l.skipList.Size() > l.maxUsers {
				l.skipList.Erase(tail.ID)
			}
		}
	}
}

// GetTopUsers refreshes every score against the current time and returns
// up to k entries in rank order, ranks starting at 1.
func (l *Leaderboard) GetTopUsers(k int) []RankEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeSource()
	l.refreshScoresLocked(now)

	nodes := l.skipList.TopK(k)
	results := make([]RankEntry, 0, len(nodes))
	for i, n := range nodes {
		results = append(results, RankEntry{UserID: n.ID, Score: n.Score, Rank: i + 1, LastUpdate: n.LastUpdate})
	}
	return results
}

// GetUserRank refreshes every score against the current time and returns
// userID's entry, or false if userID is not tracked.
func (l *Leaderboard) GetUserRank(userID string) (RankEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeSource()
	l.refreshScoresLocked(now)

	node, ok := l.skipList.Find(userID)
	if !ok {
		return RankEntry{}, false
	}
	rank := l.skipList.RankOf(userID)
	return RankEntry{UserID: node.ID, Score: node.Score, Rank: rank, LastUpdate: node.LastUpdate}, true
}

// refreshScoresLocked applies decay to every tracked user as of now. It
// collects the (id, newScore) pairs during a single read-only traversal
// and applies them afterward, since Upsert re-threads the skip list's
// pointers and would corrupt an in-progress ForEach.
func (l *Leaderboard) refreshScoresLocked(now int64) {
	type update struct {
		id    string
		score float64
	}
	var updates []update
	l.skipList.ForEach(func(n *skiplist.Node) {
		decayed := l.decay.Apply(n.Score, n.LastUpdate, now)
		if math.Abs(decayed-n.Score) > refreshEpsilon || n.LastUpdate != now {
			updates = append(updates, update{n.ID, decayed})
		}
	})
	for _, u := range updates {
		l.skipList.Upsert(u.id, u.score, now)
	}
}

// SaveToJSON writes a snapshot of the table to path as a JSON object with
// decay_factor, max_users, and an entries array of {user_id, score,
// last_update} objects in current rank order.
func (l *Leaderboard) SaveToJSON(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"decay_factor\": %v,\n", l.decay.Factor())
	fmt.Fprintf(&b, "  \"max_users\": %d,\n", l.maxUsers)
	b.WriteString("  \"entries\": [\n")
	first := true
	l.skipList.ForEach(func(n *skiplist.Node) {
		if !first {
			b.WriteString(",\n")
		}
		first = false
		fmt.Fprintf(&b, "    {\"user_id\": \"%s\", \"score\": %v, \"last_update\": %d}",
			escapeJSON(n.ID), n.Score, n.LastUpdate)
	})
	b.WriteString("\n  ]\n}\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// LoadFromJSON replaces the table's contents with the snapshot at path.
// The parser is deliberately tolerant: it locates fields by string search
// rather than full JSON decoding, accepts trailing commas, and skips any
// entry missing a required field, matching the reference format's stated
// contract.
func (l *Leaderboard) LoadFromJSON(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	content := string(raw)

	if v, ok := extractScalar(content, "decay_factor"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if d, err := decay.New(f); err == nil {
				l.decay = d
			}
		}
	}
	if v, ok := extractScalar(content, "max_users"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			l.maxUsers = n
		}
	}

	sl, err := skiplist.New(skipListLevels, skipListProbability)
	if err != nil {
		return err
	}
	l.skipList = sl

	entriesPos := strings.Index(content, "\"entries\"")
	if entriesPos < 0 {
		return nil
	}
	arrayStart := strings.IndexByte(content[entriesPos:], '[')
	if arrayStart < 0 {
		return nil
	}
	arrayStart += entriesPos
	arrayEnd := strings.IndexByte(content[arrayStart:], ']')
	if arrayEnd < 0 {
		return nil
	}
	arrayEnd += arrayStart

	block := content[arrayStart+1 : arrayEnd]
	pos := 0
	for {
		objStart := strings.IndexByte(block[pos:], '{')
		if objStart < 0 {
			break
		}
		objStart += pos
		objEnd := strings.IndexByte(block[objStart:], '}')
		if objEnd < 0 {
			break
		}
		objEnd += objStart
		obj := block[objStart+1 : objEnd]

		userID, hasUser := extractString(obj, "user_id")
		scoreStr, hasScore := extractScalar(obj, "score")
		tsStr, hasTS := extractScalar(obj, "last_update")

		if hasUser && hasScore && hasTS {
			score, scoreErr := strconv.ParseFloat(scoreStr, 64)
			ts, tsErr := strconv.ParseInt(tsStr, 10, 64)
			if scoreErr == nil && tsErr == nil {
				l.skipList.Upsert(userID, score, ts)
			}
		}

		pos = objEnd + 1
	}
	return nil
}

// extractScalar finds "key": <value> and returns value trimmed of
// whitespace, stopping at the next comma, closing brace, or newline.
func extractScalar(content, key string) (string, bool) {
	needle := "\"" + key + "\""
	keyPos := strings.Index(content, needle)
	if keyPos < 0 {
		return "", false
	}
	colon := strings.IndexByte(content[keyPos:], ':')
	if colon < 0 {
		return "", false
	}
	colon += keyPos
	rest := content[colon+1:]
	end := strings.IndexAny(rest, ",}\n")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractString finds "key": "value" and returns the quoted value,
// unescaping \" and \\.
func extractString(content, key string) (string, bool) {
	needle := "\"" + key + "\""
	keyPos := strings.Index(content, needle)
	if keyPos < 0 {
		return "", false
	}
	colon := strings.IndexByte(content[keyPos:], ':')
	if colon < 0 {
		return "", false
	}
	colon += keyPos
	rest := content[colon+1:]
	firstQuote := strings.IndexByte(rest, '"')
	if firstQuote < 0 {
		return "", false
	}
	scan := rest[firstQuote+1:]
	var out strings.Builder
	for i := 0; i < len(scan); i++ {
		if scan[i] == '\\' && i+1 < len(scan) && (scan[i+1] == '"' || scan[i+1] == '\\') {
			out.WriteByte(scan[i+1])
			i++
			continue
		}
		if scan[i] == '"' {
			return out.String(), true
		}
		out.WriteByte(scan[i])
	}
	return "", false
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
