package ring

import (
	"sync"
	"testing"

	"github.com/go-quicktest/qt"
)

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	tests := []struct {
		name      string
		size      uint64
		wantError bool
	}{
		{"zero", 0, true},
		{"seven", 7, true},
		{"one", 1, false},
		{"four", 4, false},
		{"1024", 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New[int](tt.size)
			if tt.wantError {
				qt.Assert(t, qt.IsNotNil(err))
			} else {
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.IsNotNil(r))
			}
		})
	}
}

func TestWriteReadInOrder(t *testing.T) {
	r, err := New[int](4)
	qt.Assert(t, qt.IsNil(err))

	for i := 1; i <= 3; i++ {
		r.Write([]int{i})
	}

	for i := 1; i <= 3; i++ {
		got, err := r.Read(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != i {
			t.Errorf("expected %d, got %d", i, got)
		}
	}

	if r.Overflow() != 0 {
		t.Errorf("expected no overflow, got %d", r.Overflow())
	}
}

func TestEmptyRingReadError(t *testing.T) {
	r, err := New[int](4)
	qt.Assert(t, qt.IsNil(err))

	if _, err := r.Read(nil); err != ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestOverrunOnEveryWriteAfterFirstWithSizeOne(t *testing.T) {
	r, err := New[int](1)
	qt.Assert(t, qt.IsNil(err))

	// No reader drains this ring, so every write after the first laps it.
	for i := 0; i < 10; i++ {
		r.Write([]int{i})
	}

	if got := r.Overflow(); got != 9 {
		t.Errorf("expected 9 overruns after 10 writes with size 1, got %d", got)
	}
}

func TestWriterForcedAheadOfSizePlusOne(t *testing.T) {
	r, err := New[int](4)
	qt.Assert(t, qt.IsNil(err))

	for i := 0; i < 5; i++ {
		r.Write([]int{i})
	}

	if got, want := r.Reader(), r.Writer()-r.Size(); got != want {
		t.Errorf("expected reader forced to writer-size (%d), got %d", want, got)
	}
}

func TestLastEntrySurvivesOverrun(t *testing.T) {
	r, err := New[int](4)
	qt.Assert(t, qt.IsNil(err))

	for i := 0; i < 10; i++ {
		r.Write([]int{i})
	}

	var last int
	for {
		v, err := r.Read(nil)
		if err == ErrEmpty {
			break
		}
		if err == ErrCatchUp {
			continue
		}
		last = v
	}

	if last != 9 {
		t.Errorf("expected last dumped value to be 9, got %d", last)
	}
}

func TestIndependentCursorsCatchUp(t *testing.T) {
	r, err := New[int](4)
	qt.Assert(t, qt.IsNil(err))

	var slow uint64
	for i := 0; i < 10; i++ {
		r.Write([]int{i})
	}

	_, err = r.Read(&slow)
	if err != ErrCatchUp {
		t.Fatalf("expected ErrCatchUp, got %v", err)
	}
	if want := r.Writer() - r.Size(); slow != want {
		t.Errorf("expected cursor snapped to %d, got %d", want, slow)
	}
}

func TestConcurrentWritersPreserveOrder(t *testing.T) {
	// 2048 slots hold all 8*200 writes, so nothing is overrun.
	r, err := New[int](2048)
	qt.Assert(t, qt.IsNil(err))

	const perGoroutine = 200
	const goroutines = 8

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				r.Write([]int{g*perGoroutine + i})
			}
		}(g)
	}
	wg.Wait()

	count := 0
	next := make([]int, goroutines)
	for {
		v, err := r.Read(nil)
		if err == ErrEmpty {
			break
		}
		if err == ErrCatchUp {
			continue
		}
		g, i := v/perGoroutine, v%perGoroutine
		if i != next[g] {
			t.Errorf("goroutine %d: expected item %d, got %d", g, next[g], i)
		}
		next[g] = i + 1
		count++
	}

	if want := goroutines * perGoroutine; count != want {
		t.Errorf("expected to read %d entries, got %d", want, count)
	}
}
