package recorder

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/unvariance/flightrecorder/pkg/clock"
)

// globalOrder is the process-wide monotonic counter that establishes a
// total order across entries emitted concurrently by different
// recorders. Every Emit draws its slot with a single fetch-add before
// touching its own ring, so the merge-dump in merge.go can interleave
// recorders purely by comparing this field.
var globalOrder uint64

// Loc renders a "file:line" location string for the caller skip frames
// above the Emit call, for use as an entry's Where field. skip=0 names
// Loc's immediate caller.
func Loc(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "?"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Emit records one entry into rec, capturing the caller's own location
// via runtime.Caller. It draws a tick and an order, writes the entry into
// rec's ring, and - only if tracing or an export sink is active -
// produces textual output and/or pushes samples to exported channels.
func Emit(rec *Recorder, format string, args ...Arg) {
	EmitAt(rec, Loc(1), format, args...)
}

// EmitAt is Emit with an explicit location, for call sites on a genuinely
// hot path that already know their own location and want to skip the
// runtime.Caller lookup. The write into the ring never allocates, locks,
// or performs I/O, regardless of trace configuration; only the optional
// textual formatting and export-sink push below do.
func EmitAt(rec *Recorder, where, format string, args ...Arg) {
	var entry Entry
	entry.Timestamp = clock.Default()
	entry.Order = atomic.AddUint64(&globalOrder, 1)
	entry.Where = where
	entry.Format = format
	for i := 0; i < NumArgs && i < len(args); i++ {
		entry.Args[i] = args[i]
	}

	rec.ring.Write([]Entry{entry})
	entriesEmitted.WithLabelValues(rec.Name).Inc()
	if overflow := rec.ring.Overflow(); overflow != 0 {
		if old := atomic.SwapUint64(&rec.lastOverflow, overflow); overflow > old {
			entriesOverflowed.WithLabelValues(rec.Name).Add(float64(overflow - old))
		}
	}

	trace := rec.Trace()
	if trace != 0 && trace != ExportMagic {
		formatAndShow(rec.Name, entry)
	}

	for i := 0; i < NumArgs; i++ {
		sink := rec.Export(i)
		if sink == nil {
			continue
		}
		sink.InstallType(format, i)
		sink.Push(entry.Timestamp, entry.Args[i].word)
	}
}
