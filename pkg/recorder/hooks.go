package recorder

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/unvariance/flightrecorder/pkg/clock"
)

// ShowFunc writes a fully formatted line to w. The default just calls
// w.Write; a caller can install one that tees to multiple destinations or
// rate-limits, same role as the original's show() callback.
type ShowFunc func(line []byte, w io.Writer) (int, error)

// FormatFunc turns one entry's fields into a line and hands it to show.
// The default produces "<location>: [<order> <seconds.microseconds>]
// <label>: <message>", matching the original's default line shape.
type FormatFunc func(show ShowFunc, w io.Writer, label, location string, order, timestamp uint64, message string)

var (
	currentOutput atomic.Pointer[io.Writer]
	currentShow   atomic.Pointer[ShowFunc]
	currentFormat atomic.Pointer[FormatFunc]
)

func init() {
	setOutput(os.Stderr)
	setShow(defaultShow)
	setFormat(defaultFormat)
}

func setOutput(w io.Writer) { currentOutput.Store(&w) }
func setShow(f ShowFunc)    { currentShow.Store(&f) }
func setFormat(f FormatFunc) { currentFormat.Store(&f) }

func defaultShow(line []byte, w io.Writer) (int, error) {
	if w == nil {
		w = os.Stderr
	}
	return w.Write(line)
}

func defaultFormat(show ShowFunc, w io.Writer, label, location string, order, timestamp uint64, message string) {
	secs := float64(timestamp) / float64(clock.TicksPerSecond)
	line := fmt.Sprintf("%s: [%d %.6f] %s: %s", location, order, secs, label, message)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	show([]byte(line), w)
}

// ConfigureOutput sets the writer that the default show hook (and most
// custom ones) write to, returning the previous writer. A nil w restores
// os.Stderr.
func ConfigureOutput(w io.Writer) io.Writer {
	prev := *currentOutput.Load()
	if w == nil {
		w = os.Stderr
	}
	setOutput(w)
	return prev
}

// ConfigureShow replaces the show hook, returning the previous one.
func ConfigureShow(f ShowFunc) ShowFunc {
	prev := *currentShow.Load()
	setShow(f)
	return prev
}

// ConfigureFormat replaces the format hook, returning the previous one.
func ConfigureFormat(f FormatFunc) FormatFunc {
	prev := *currentFormat.Load()
	setFormat(f)
	return prev
}

func formatAndShow(label string, e Entry) {
	msg := render(e)
	format := *currentFormat.Load()
	show := *currentShow.Load()
	out := *currentOutput.Load()
	format(show, out, label, e.Where, e.Order, e.Timestamp, msg)
}
