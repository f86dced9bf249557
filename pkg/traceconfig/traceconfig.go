// Package traceconfig implements the colon/space-separated directive
// language read from RECORDER_TRACES, RECORDER_TWEAKS and RECORDER_SHARE,
// letting an operator turn tracing on or off, change a tweak, or export
// recorder arguments to a shared-memory channel set without touching
// code or recompiling.
//
// A directive is one of:
//
//	NAME              enable tracing for every recorder matching NAME, or
//	                  set every matching tweak to 1
//	NAME=INTEGER      set trace level (recorders) or value (tweaks) to INTEGER
//	NAME=n1,n2,...    export argument slots 0..len(names)-1 of matching
//	                  recorders under these channel names on the active
//	                  share (see share=PATH); if more than one recorder
//	                  matched NAME, each channel name is prefixed with
//	                  "recorder_name/" to disambiguate
//	NAME=export       anonymous convenience form: export every argument
//	                  slot under its own index as a channel name
//	share=PATH        open (creating if necessary) PATH as the channel-set
//	                  file used by subsequent export directives
//	help, list        print every known recorder or tweak name and
//	                  description and continue
//
// Exporting sets a matched recorder's trace level to recorder.ExportMagic
// only if it was previously off - a recorder already printing keeps
// printing. NAME is a case-insensitive extended regular expression that
// must fully match; "all" is a built-in alias for ".*". An invalid name
// or value reports an error but never stops the remaining directives
// from being applied, the same tolerance the original
// environment-variable parser has.
package traceconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/unvariance/flightrecorder/pkg/recorder"
	"github.com/unvariance/flightrecorder/pkg/shmchan"
	"github.com/unvariance/flightrecorder/pkg/tweak"
)

// ErrInvalidName is wrapped into every error caused by a directive whose
// name matched nothing (or failed to compile as a pattern).
var ErrInvalidName = errors.New("traceconfig: invalid name")

// ErrInvalidValue is wrapped into every error caused by a directive whose
// value couldn't be applied to whatever it matched.
var ErrInvalidValue = errors.New("traceconfig: invalid value")

var tracesRecorder = recorder.New("recorder_traces", "directives applied via RECORDER_TRACES/RECORDER_TWEAKS/RECORDER_SHARE", 64)

func init() {
	recorder.EnvConfigHook = applyEnv
}

func applyEnv() {
	for _, err := range ApplyTraces(os.Getenv("RECORDER_TRACES")) {
		fmt.Fprintln(os.Stderr, err)
	}
	for _, err := range ApplyTweaks(os.Getenv("RECORDER_TWEAKS")) {
		fmt.Fprintln(os.Stderr, err)
	}
	if path := os.Getenv("RECORDER_SHARE"); path != "" {
		if err := OpenShare(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

var shareState struct {
	mu   sync.Mutex
	set  *shmchan.Set
	path string
}

// OpenShare opens path as the active channel-set file, creating it (1MiB
// initial size, grown on demand) if it doesn't already exist. Calling it
// again with the already-open path is a no-op; calling it with a
// different path while one is open replaces the active share.
func OpenShare(path string) error {
	shareState.mu.Lock()
	defer shareState.mu.Unlock()

	if shareState.set != nil && shareState.path == path {
		return nil
	}

	set, err := shmchan.Open(path)
	if err != nil {
		set, err = shmchan.Create(path, 1<<20)
		if err != nil {
			return fmt.Errorf("traceconfig: opening share %q: %w", path, err)
		}
	}
	set.DeleteOnSignal(syscall.SIGTERM)
	set.DeleteOnSignal(syscall.SIGINT)
	shareState.set = set
	shareState.path = path
	return nil
}

func activeShare() *shmchan.Set {
	shareState.mu.Lock()
	defer shareState.mu.Unlock()
	return shareState.set
}

func splitDirectives(spec string) []string {
	return strings.FieldsFunc(spec, func(r rune) bool {
		return r == ':' || r == ' ' || r == '\t' || r == '\n'
	})
}

func splitDirective(tok string) (name, value string, hasValue bool) {
	if idx := strings.IndexByte(tok, '='); idx >= 0 {
		return tok[:idx], tok[idx+1:], true
	}
	return tok, "", false
}

// ApplyTraces applies a RECORDER_TRACES-style directive string against
// the registered recorders, returning every error encountered. An empty
// spec applies nothing and returns no errors.
func ApplyTraces(spec string) []error {
	var errs []error
	for _, tok := range splitDirectives(spec) {
		switch tok {
		case "":
			continue
		case "help", "list":
			listRecorders()
			continue
		}

		name, value, hasValue := splitDirective(tok)
		if name == "share" && hasValue {
			if err := OpenShare(value); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if name == "all" {
			name = ".*"
		}

		re, err := recorder.CompilePattern(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err))
			continue
		}

		var matching []*recorder.Recorder
		for _, rec := range recorder.All() {
			if re.MatchString(rec.Name) {
				matching = append(matching, rec)
			}
		}
		if len(matching) == 0 {
			errs = append(errs, fmt.Errorf("%w: %q matched no recorder", ErrInvalidName, name))
			continue
		}
		multi := len(matching) > 1
		for _, rec := range matching {
			if err := applyTraceDirective(rec, value, hasValue, multi); err != nil {
				errs = append(errs, err)
			}
		}
	}

	recorder.EmitAt(tracesRecorder, "traceconfig.ApplyTraces", "applied RECORDER_TRACES %s, %d error(s)",
		recorder.Str(spec), recorder.Int(int64(len(errs))))
	return errs
}

func applyTraceDirective(rec *recorder.Recorder, value string, hasValue, multi bool) error {
	if !hasValue {
		rec.SetTrace(1)
		return nil
	}
	if n, err := strconv.ParseInt(value, 0, 64); err == nil {
		rec.SetTrace(n)
		return nil
	}
	if value == "export" {
		return exportRecorder(rec, nil, multi)
	}

	names := strings.Split(value, ",")
	if len(names) > recorder.NumArgs {
		return fmt.Errorf("%w: %s=%s: at most %d comma-separated channel names",
			ErrInvalidValue, rec.Name, value, recorder.NumArgs)
	}
	return exportRecorder(rec, names, multi)
}

// exportRecorder publishes channels for rec's argument slots and marks
// rec exported. names gives an explicit channel name for each slot in
// order (slots beyond len(names) are left unexported); a nil names
// publishes every slot under its own index as an anonymous name, the
// "=export" convenience form. When multi is true (more than one
// recorder matched the directive's NAME), every channel name is
// prefixed with "recorder_name/" to disambiguate, per the String form's
// contract.
func exportRecorder(rec *recorder.Recorder, names []string, multi bool) error {
	set := activeShare()
	if set == nil {
		return fmt.Errorf("%w: %s=export with no active share (use share=PATH first)", ErrInvalidValue, rec.Name)
	}
	for i := 0; i < recorder.NumArgs; i++ {
		if rec.Export(i) != nil {
			continue
		}
		var base string
		switch {
		case names == nil:
			base = strconv.Itoa(i)
		case i < len(names):
			base = names[i]
		default:
			continue
		}
		chanName := base
		if multi {
			chanName = rec.Name + "/" + base
		}
		ch, err := set.Publish(chanName, rec.Description, "", shmchan.TypeUnset, 0, 0)
		if err != nil {
			return fmt.Errorf("traceconfig: publishing %s: %w", chanName, err)
		}
		rec.SetExport(i, ch)
	}
	if rec.Trace() == 0 {
		rec.SetTrace(int64(recorder.ExportMagic))
	}
	return nil
}

// ApplyTweaks applies a RECORDER_TWEAKS-style directive string against
// the registered tweaks, returning every error encountered.
func ApplyTweaks(spec string) []error {
	var errs []error
	for _, tok := range splitDirectives(spec) {
		switch tok {
		case "":
			continue
		case "help", "list":
			listTweaks()
			continue
		}

		name, value, hasValue := splitDirective(tok)
		if name == "all" {
			name = ".*"
		}
		re, err := recorder.CompilePattern(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err))
			continue
		}
		var matching []*tweak.Tweak
		for _, tw := range tweak.All() {
			if re.MatchString(tw.Name) {
				matching = append(matching, tw)
			}
		}
		if len(matching) == 0 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidName, name))
			continue
		}
		n := int64(1)
		if hasValue {
			if n, err = strconv.ParseInt(value, 0, 64); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%s", ErrInvalidValue, name, value))
				continue
			}
		}
		for _, tw := range matching {
			tw.Set(n)
		}
	}
	return errs
}

func listRecorders() {
	for _, rec := range recorder.All() {
		fmt.Fprintf(os.Stderr, "%s: %s\n", rec.Name, rec.Description)
	}
}

func listTweaks() {
	for _, tw := range tweak.All() {
		fmt.Fprintf(os.Stderr, "%s=%d: %s\n", tw.Name, tw.Get(), tw.Description)
	}
}
