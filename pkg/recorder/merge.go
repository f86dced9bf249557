package recorder

import (
	"container/heap"
	"fmt"
	"regexp"
)

// recorderHeap is a min-heap of recorders ordered by the order field of
// each one's oldest unread entry, the same shape as the perf-sample heap
// used to merge per-CPU ring buffers into one time-ordered stream.
type recorderHeap []recorderHeapItem

type recorderHeapItem struct {
	order uint64
	rec   *Recorder
}

func (h recorderHeap) Len() int            { return len(h) }
func (h recorderHeap) Less(i, j int) bool  { return h[i].order < h[j].order }
func (h recorderHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recorderHeap) Push(x interface{}) { *h = append(*h, x.(recorderHeapItem)) }
func (h *recorderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CompilePattern anchors pattern to a full match and makes it
// case-insensitive, matching the original's use of a POSIX extended
// regex over the whole recorder name. pkg/traceconfig reuses this so a
// trace directive's pattern and a dump pattern behave identically.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("recorder: invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Sort merges every registered recorder whose name matches pattern into
// one global-order stream and formats each entry in turn, draining every
// matching ring to empty. It returns the number of entries dumped.
func Sort(pattern string) (int, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return 0, err
	}

	var h recorderHeap
	for _, rec := range All() {
		if !re.MatchString(rec.Name) {
			continue
		}
		if e, err := rec.ring.Peek(nil); err == nil {
			heap.Push(&h, recorderHeapItem{order: e.Order, rec: rec})
		}
	}

	dumped := 0
	for h.Len() > 0 {
		item := heap.Pop(&h).(recorderHeapItem)

		entry, err := item.rec.ring.Read(nil)
		if err != nil {
			// Emptied or the cursor caught up between Peek and Read;
			// either way there's nothing to dump from this recorder
			// right now, so it's simply dropped from the heap.
			continue
		}
		formatAndShow(item.rec.Name, entry)
		dumped++

		if e, err := item.rec.ring.Peek(nil); err == nil {
			heap.Push(&h, recorderHeapItem{order: e.Order, rec: item.rec})
		}
	}
	return dumped, nil
}

// Dump merges and formats every registered recorder's pending entries.
func Dump() (int, error) { return Sort(".*") }

// DumpFor merges and formats the pending entries of recorders whose name
// matches pattern.
func DumpFor(pattern string) (int, error) { return Sort(pattern) }
