package recorder

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/unvariance/flightrecorder/pkg/tweak"
)

// Go has no equivalent of sigaction's SA_ONSTACK/chaining-the-previous-
// handler machinery that the original relies on to dump the recorder
// before a crash and still let the process die the way it would have
// without the recorder installed. os/signal.Notify delivers signals to a
// channel on an ordinary goroutine instead of an interrupted one, so
// catching a fatal signal here cannot prevent Go's own runtime crash
// handler from also firing - this is a deliberate narrowing: we trade
// "dump, then crash exactly as before" for "dump, then process exits
// with the default action for the signal" via signal.Reset after dumping.
var recorderSignals = tweak.New("recorder_signals", int64(commonSignalMask()), "bitmask (1<<signum) of signals that trigger a dump")

func commonSignalMask() uint64 {
	return 1<<unix.SIGQUIT | 1<<unix.SIGILL | 1<<unix.SIGABRT | 1<<unix.SIGBUS |
		1<<unix.SIGSEGV | 1<<unix.SIGSYS | 1<<unix.SIGXCPU | 1<<unix.SIGXFSZ |
		1<<unix.SIGUSR1 | 1<<unix.SIGUSR2 | 1<<unix.SIGSTKFLT | 1<<unix.SIGPWR
}

var (
	signalsMu    sync.Mutex
	installedSig = map[syscall.Signal]bool{}
)

var signalsRecorder = New("recorder_signal_dumps", "dumps triggered by OS signals", 64)

// DumpOnSignal installs a handler for sig that dumps every recorder and
// then restores the signal's default disposition and re-raises it, so
// the process still terminates (for a fatal signal) or behaves as if
// unhandled (for one like SIGUSR1) exactly once the dump completes.
// Installing the same signal twice is a no-op.
func DumpOnSignal(sig syscall.Signal) {
	signalsMu.Lock()
	if installedSig[sig] {
		signalsMu.Unlock()
		return
	}
	installedSig[sig] = true
	signalsMu.Unlock()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		for range ch {
			EmitAt(signalsRecorder, "signal", "received signal %d, dumping recorder", Int(int64(sig)))
			fmt.Fprintf(os.Stderr, "recorder: received signal %d, dumping\n", sig)
			Dump()

			signal.Stop(ch)
			signal.Reset(sig)
			_ = syscall.Kill(os.Getpid(), sig)
		}
	}()
}

// EnvConfigHook, when non-nil, is invoked by DumpOnCommonSignals before it
// reads RECORDER_DUMP so that RECORDER_TRACES/RECORDER_TWEAKS are applied
// first. pkg/traceconfig sets this in its init(); pkg/recorder itself has
// no notion of the directive language or environment variables, which
// keeps the import graph acyclic (traceconfig depends on recorder, not
// the reverse).
var EnvConfigHook func()

// DumpOnCommonSignals installs DumpOnSignal for every signal in
// (add | recorder_signals) &^ remove, after applying RECORDER_TRACES,
// RECORDER_TWEAKS (via EnvConfigHook) and starting a background dumper if
// RECORDER_DUMP names a pattern.
func DumpOnCommonSignals(add, remove uint64) {
	if EnvConfigHook != nil {
		EnvConfigHook()
	}
	if pattern := os.Getenv("RECORDER_DUMP"); pattern != "" {
		BackgroundDump(pattern)
	}

	mask := (add | uint64(recorderSignals.Get())) &^ remove
	for s := 0; s < 64; s++ {
		if mask&(1<<uint(s)) != 0 {
			DumpOnSignal(syscall.Signal(s))
		}
	}
}
