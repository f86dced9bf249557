// Package recorder implements the in-process flight recorder: per-call-site
// ring buffers of fixed-size entries, a global merge-by-order dump, and the
// hooks that let a published channel mirror a single argument slot out of
// process.
package recorder

import (
	"sync/atomic"

	"github.com/unvariance/flightrecorder/pkg/ring"
)

// ExportMagic is the sentinel trace value meaning "exported only": the
// recorder pushes samples to its exported channels but produces no textual
// trace output. It is also used as the magic number at the head of a
// shared-memory channel-set file, so the two concepts are deliberately tied
// to the one constant.
const ExportMagic = 0x5243484e // ASCII "RCHN"

// ExportSink receives one argument slot's worth of samples. pkg/shmchan's
// Channel type implements this; pkg/recorder itself has no notion of shared
// memory, mmap, or wire formats - it only knows how to push samples to
// whatever sink configuration wired in.
type ExportSink interface {
	// Push appends a (timestamp, value) sample to the channel's ring.
	Push(timestamp, value uint64)
	// InstallType lets the sink infer its sample type (signed, unsigned,
	// real) from the conversion specifier used for this argument the
	// first time a value is pushed through it.
	InstallType(format string, argIndex int)
}

// Recorder is one named ring of entries, plus its trace level and the
// optional export sinks for each argument slot.
type Recorder struct {
	Name        string
	Description string

	trace int64 // 0 = off, ExportMagic = exported-only, else on
	ring  *ring.Ring[Entry]

	lastOverflow uint64 // last Overflow() value reported to Prometheus

	exported [NumArgs]atomic.Pointer[exportSlot]

	next atomic.Pointer[Recorder]
}

// exportSlot boxes an ExportSink so the slot can hold an explicit nil sink
// without running into atomic.Value's "Store panics on nil" restriction.
type exportSlot struct{ sink ExportSink }

var head atomic.Pointer[Recorder]

// New creates a recorder with the given ring size (must be a power of two)
// and registers it on the global list. size is fixed for the recorder's
// lifetime, same as the macro-declared rings in the original.
func New(name, description string, size uint64) *Recorder {
	r, err := ring.New[Entry](size)
	if err != nil {
		// size is a startup-time constant chosen by the caller, same as
		// the C macros that declare ring sizes; getting it wrong is a
		// programming error, not a runtime condition.
		panic(err)
	}
	rec := &Recorder{Name: name, Description: description, ring: r}
	Register(rec)
	return rec
}

// Register pushes rec onto the global recorder list via a CAS loop,
// mirroring tweak.Register. Registering the same *Recorder twice corrupts
// the list and is a caller bug.
func Register(rec *Recorder) {
	for {
		old := head.Load()
		rec.next.Store(old)
		if head.CompareAndSwap(old, rec) {
			return
		}
	}
}

// All returns every registered recorder, tolerant of concurrent
// registration.
func All() []*Recorder {
	var out []*Recorder
	for r := head.Load(); r != nil; r = r.next.Load() {
		out = append(out, r)
	}
	return out
}

// Find returns the most recently registered recorder with the exact given
// name, or nil.
func Find(name string) *Recorder {
	for r := head.Load(); r != nil; r = r.next.Load() {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Trace returns the recorder's current trace level: 0 disabled, ExportMagic
// exported-only, anything else enabled.
func (r *Recorder) Trace() int64 { return atomic.LoadInt64(&r.trace) }

// SetTrace stores a new trace level, returning the previous one.
func (r *Recorder) SetTrace(v int64) int64 {
	return atomic.SwapInt64(&r.trace, v)
}

// SetExport installs (or, with a nil sink, removes) the export sink for
// argument slot i, returning the previous sink.
func (r *Recorder) SetExport(i int, sink ExportSink) ExportSink {
	prev := r.exported[i].Swap(&exportSlot{sink: sink})
	if prev == nil {
		return nil
	}
	return prev.sink
}

// Export returns the currently installed export sink for argument slot i,
// or nil.
func (r *Recorder) Export(i int) ExportSink {
	slot := r.exported[i].Load()
	if slot == nil {
		return nil
	}
	return slot.sink
}
