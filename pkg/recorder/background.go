package recorder

import (
	"sync/atomic"
	"time"

	"github.com/unvariance/flightrecorder/pkg/tweak"
)

// dumpSleep is how long the background dumper waits after an empty pass
// before trying again, in milliseconds.
var dumpSleep = tweak.New("recorder_dump_sleep", 100, "milliseconds the background dumper sleeps after an empty pass")

var backgroundRunning atomic.Bool

// BackgroundDump starts a goroutine that repeatedly calls Sort(pattern),
// sleeping recorder_dump_sleep milliseconds whenever a pass dumps
// nothing. Only one background dumper runs at a time; a second call
// while one is already running is a no-op.
func BackgroundDump(pattern string) {
	if !backgroundRunning.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for backgroundRunning.Load() {
			n, err := Sort(pattern)
			if err != nil {
				backgroundRunning.Store(false)
				return
			}
			if n == 0 {
				time.Sleep(time.Duration(dumpSleep.Get()) * time.Millisecond)
			}
		}
	}()
}

// BackgroundDumpStop signals the background dumper started by
// BackgroundDump to exit after its current pass.
func BackgroundDumpStop() {
	backgroundRunning.Store(false)
}
