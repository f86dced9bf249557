// Package tweak implements named, runtime-mutable integers reachable by
// name from the trace/tweak configuration language.
package tweak

import (
	"sync/atomic"
)

// Tweak is a named mutable integer with a description. Tweaks have
// process lifetime and, like recorders, are registered exactly once via
// a lock-free push onto the global list.
type Tweak struct {
	Name        string
	Description string

	value int64
	next  atomic.Pointer[Tweak]
}

var head atomic.Pointer[Tweak]

// New creates and registers a tweak with the given initial value.
// Registering the same *Tweak twice is a caller bug, same as recorders.
func New(name string, initial int64, description string) *Tweak {
	tw := &Tweak{Name: name, Description: description, value: initial}
	Register(tw)
	return tw
}

// Register pushes tw onto the global tweak list via a CAS loop on the
// head, mirroring recorder registration.
func Register(tw *Tweak) {
	for {
		old := head.Load()
		tw.next.Store(old)
		if head.CompareAndSwap(old, tw) {
			return
		}
	}
}

// Get returns the tweak's current value.
func (t *Tweak) Get() int64 { return atomic.LoadInt64(&t.value) }

// Set stores a new value. Like the recorder's trace field, concurrent
// readers may observe either the old or new value; writes are
// word-sized and the race is accepted as a relaxed-ordering window.
func (t *Tweak) Set(v int64) { atomic.StoreInt64(&t.value, v) }

// All returns every registered tweak, head first (most recently
// registered first), tolerant of concurrent registration.
func All() []*Tweak {
	var out []*Tweak
	for tw := head.Load(); tw != nil; tw = tw.next.Load() {
		out = append(out, tw)
	}
	return out
}

// Find returns the most recently registered tweak with the exact given
// name, or nil.
func Find(name string) *Tweak {
	for tw := head.Load(); tw != nil; tw = tw.next.Load() {
		if tw.Name == name {
			return tw
		}
	}
	return nil
}
