package ring

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 8},
		{1024, 1024},
		{1025, 2048},
	}
	for _, tt := range tests {
		r := New[int](tt.size)
		if got := r.Capacity(); got != tt.want {
			t.Errorf("New(%d).Capacity() = %d, want %d", tt.size, got, tt.want)
		}
	}
}

// TestFIFO mirrors spec scenario S3: capacity 8, push 0..7, a ninth push
// fails, pop returns items in order, and a further pop fails.
func TestFIFO(t *testing.T) {
	r := New[int](8)

	for i := 0; i < 8; i++ {
		if !r.Push(i) {
			t.Fatalf("Push(%d) failed unexpectedly", i)
		}
	}
	if r.Push(8) {
		t.Fatalf("Push into full ring succeeded, want failure")
	}

	for i := 0; i < 8; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("Pop() failed at index %d", i)
		}
		if got != i {
			t.Fatalf("Pop() = %d, want %d", got, i)
		}
	}

	if _, ok := r.Pop(); ok {
		t.Fatalf("Pop() on empty ring succeeded, want failure")
	}
}

func TestEmpty(t *testing.T) {
	r := New[int](4)
	if !r.Empty() {
		t.Fatalf("Empty() = false on fresh ring")
	}
	r.Push(1)
	if r.Empty() {
		t.Fatalf("Empty() = true after Push")
	}
	r.Pop()
	if !r.Empty() {
		t.Fatalf("Empty() = false after draining")
	}
}

// TestStress mirrors spec scenario S4: 4 producers x 2000 items into a
// capacity-1024 ring, drained by 4 consumers; total consumed must equal
// total pushed successfully.
func TestStress(t *testing.T) {
	r := New[int](1024)
	const (
		producers = 4
		itemsEach = 2000
		consumers = 4
	)

	var pushed atomic.Int64
	var wg sync.WaitGroup

	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < itemsEach; i++ {
				for !r.Push(1) {
					// Ring transiently full; retry until a consumer drains.
				}
				pushed.Add(1)
			}
		}()
	}

	done := make(chan struct{})
	var consumed atomic.Int64
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			for {
				if _, ok := r.Pop(); ok {
					consumed.Add(1)
					continue
				}
				select {
				case <-done:
					// Drain whatever remains after producers finish.
					for {
						if _, ok := r.Pop(); ok {
							consumed.Add(1)
							continue
						}
						return
					}
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	cwg.Wait()

	if got := consumed.Load(); got != int64(producers*itemsEach) {
		t.Fatalf("consumed %d items, want %d", got, producers*itemsEach)
	}
}
