package skiplist

import "testing"

func TestNewInvalidConfig(t *testing.T) {
	cases := []struct {
		maxLevels   int
		probability float64
	}{
		{0, 0.5},
		{33, 0.5},
		{4, 0},
		{4, 1},
		{4, -0.1},
	}
	for _, c := range cases {
		if _, err := New(c.maxLevels, c.probability); err != ErrInvalidConfig {
			t.Errorf("New(%d, %v): got %v, want ErrInvalidConfig", c.maxLevels, c.probability, err)
		}
	}
}

func TestUpsertAndFind(t *testing.T) {
	s, _ := New(16, 0.5)
	s.Upsert("alice", 100, 1)
	n, ok := s.Find("alice")
	if !ok || n.Score != 100 {
		t.Fatalf("Find(alice) = %v, %v", n, ok)
	}
	if s.Size() != 1 {
		t.Fatalf("Size = %d, want 1", s.Size())
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	s, _ := New(16, 0.5)
	s.Upsert("alice", 100, 1)
	s.Upsert("alice", 50, 2)
	if s.Size() != 1 {
		t.Fatalf("Size after replace = %d, want 1", s.Size())
	}
	n, _ := s.Find("alice")
	if n.Score != 50 || n.LastUpdate != 2 {
		t.Fatalf("after replace = %+v", n)
	}
}

func TestEraseRemovesAndReturnsFalseOnMissing(t *testing.T) {
	s, _ := New(16, 0.5)
	s.Upsert("alice", 100, 1)
	if !s.Erase("alice") {
		t.Fatal("Erase(alice) = false, want true")
	}
	if s.Erase("alice") {
		t.Fatal("Erase(alice) second time = true, want false")
	}
	if s.Size() != 0 {
		t.Fatalf("Size after erase = %d, want 0", s.Size())
	}
	if _, ok := s.Find("alice"); ok {
		t.Fatal("Find(alice) after erase = true, want false")
	}
}

// TestLevelZeroOrderMatchesSorted mirrors spec invariant 6: walking level 0
// always yields nodes in (score desc, id asc) order, regardless of insertion
// order or tower heights chosen by randomLevel.
func TestLevelZeroOrderMatchesSorted(t *testing.T) {
	s, _ := New(8, 0.5)
	entries := []struct {
		id    string
		score float64
	}{
		{"eve", 10}, {"dan", 90}, {"carol", 30}, {"bob", 75}, {"alice", 50},
		{"frank", 75}, {"grace", 30},
	}
	for _, e := range entries {
		s.Upsert(e.id, e.score, 0)
	}

	var walked []*Node
	s.ForEach(func(n *Node) { walked = append(walked, n) })

	if len(walked) != len(entries) {
		t.Fatalf("walked %d nodes, want %d", len(walked), len(entries))
	}
	for i := 1; i < len(walked); i++ {
		prev, cur := walked[i-1], walked[i]
		if prev.Score < cur.Score {
			t.Fatalf("out of order by score at %d: %+v before %+v", i, prev, cur)
		}
		if prev.Score == cur.Score && prev.ID > cur.ID {
			t.Fatalf("tie not broken by id ascending at %d: %+v before %+v", i, prev, cur)
		}
	}
}

func TestRankOf(t *testing.T) {
	s, _ := New(8, 0.5)
	s.Upsert("bob", 75, 0)
	s.Upsert("alice", 50, 0)
	s.Upsert("carol", 30, 0)

	if got := s.RankOf("bob"); got != 1 {
		t.Errorf("RankOf(bob) = %d, want 1", got)
	}
	if got := s.RankOf("alice"); got != 2 {
		t.Errorf("RankOf(alice) = %d, want 2", got)
	}
	if got := s.RankOf("carol"); got != 3 {
		t.Errorf("RankOf(carol) = %d, want 3", got)
	}
	if got := s.RankOf("nobody"); got != 0 {
		t.Errorf("RankOf(nobody) = %d, want 0", got)
	}
}

// TestTopKOrdersByScore mirrors spec scenario S6: bob(75) and alice(50) and
// carol(30) inserted at the same timestamp; top 2 should be bob then alice.
func TestTopKOrdersByScore(t *testing.T) {
	s, _ := New(8, 0.5)
	s.Upsert("alice", 50, 100)
	s.Upsert("bob", 75, 100)
	s.Upsert("carol", 30, 100)

	top := s.TopK(2)
	if len(top) != 2 {
		t.Fatalf("TopK(2) returned %d nodes, want 2", len(top))
	}
	if top[0].ID != "bob" || s.RankOf("bob") != 1 {
		t.Errorf("top[0] = %s, want bob at rank 1", top[0].ID)
	}
	if top[1].ID != "alice" || s.RankOf("alice") != 2 {
		t.Errorf("top[1] = %s, want alice at rank 2", top[1].ID)
	}
}

func TestTopKExceedingSizeReturnsAll(t *testing.T) {
	s, _ := New(8, 0.5)
	s.Upsert("alice", 50, 0)
	s.Upsert("bob", 75, 0)

	top := s.TopK(10)
	if len(top) != 2 {
		t.Fatalf("TopK(10) on 2-element list returned %d", len(top))
	}
}

func TestTail(t *testing.T) {
	s, _ := New(8, 0.5)
	if s.Tail() != nil {
		t.Fatal("Tail() on empty list != nil")
	}
	s.Upsert("alice", 50, 0)
	s.Upsert("bob", 75, 0)
	s.Upsert("carol", 10, 0)

	tail := s.Tail()
	if tail == nil || tail.ID != "carol" {
		t.Fatalf("Tail() = %v, want carol", tail)
	}
}

func TestManyUpsertsStayConsistent(t *testing.T) {
	s, _ := New(16, 0.5)
	const n = 2000
	for i := 0; i < n; i++ {
		id := string(rune('a' + i%26))
		s.Upsert(id+itoa(i), float64(i%100), int64(i))
	}
	if s.Size() != n {
		t.Fatalf("Size = %d, want %d", s.Size(), n)
	}

	count := 0
	var prev *Node
	s.ForEach(func(node *Node) {
		count++
		if prev != nil && prev.Score < node.Score {
			t.Fatalf("order violated: %+v before %+v", prev, node)
		}
		prev = node
	})
	if count != n {
		t.Fatalf("ForEach visited %d nodes, want %d", count, n)
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
