package recorder

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitWritesToRing(t *testing.T) {
	rec := New("test.emit.ring", "", 4)
	Emit(rec, "hello %d", Int(42))

	entry, err := rec.ring.Read(nil)
	require.NoError(t, err)
	require.Equal(t, "hello %d", entry.Format)
	require.Equal(t, uint64(42), entry.Args[0].word)
}

func TestEmitTracesWhenEnabled(t *testing.T) {
	rec := New("test.emit.trace", "", 4)

	var buf bytes.Buffer
	prevOut := ConfigureOutput(&buf)
	defer ConfigureOutput(prevOut)

	rec.SetTrace(1)
	Emit(rec, "value is %d", Int(7))

	require.Contains(t, buf.String(), "value is 7")
	require.Contains(t, buf.String(), "test.emit.trace")
}

func TestEmitSilentWhenTraceOff(t *testing.T) {
	rec := New("test.emit.silent", "", 4)

	var buf bytes.Buffer
	prevOut := ConfigureOutput(&buf)
	defer ConfigureOutput(prevOut)

	Emit(rec, "value is %d", Int(7))
	require.Empty(t, buf.String())
}

func TestEmitExportedOnlyIsSilent(t *testing.T) {
	rec := New("test.emit.exportonly", "", 4)

	var buf bytes.Buffer
	prevOut := ConfigureOutput(&buf)
	defer ConfigureOutput(prevOut)

	rec.SetTrace(ExportMagic)
	Emit(rec, "value is %d", Int(7))
	require.Empty(t, buf.String())
}

type fakeSink struct {
	mu       sync.Mutex
	samples  [][2]uint64
	installs []string
}

func (f *fakeSink) Push(timestamp, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, [2]uint64{timestamp, value})
}

func (f *fakeSink) InstallType(format string, argIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, format)
}

func TestExportedChannelReceivesSamples(t *testing.T) {
	rec := New("test.emit.export", "", 4)
	sink := &fakeSink{}
	rec.SetExport(0, sink)

	Emit(rec, "cpu load %d", Int(55))

	require.Len(t, sink.samples, 1)
	require.Equal(t, uint64(55), sink.samples[0][1])
	require.Len(t, sink.installs, 1)
}

func TestSortMergesByGlobalOrder(t *testing.T) {
	a := New("test.sort.a", "", 8)
	b := New("test.sort.b", "", 8)

	Emit(a, "a1")
	Emit(b, "b1")
	Emit(a, "a2")
	Emit(b, "b2")

	var buf bytes.Buffer
	prevOut := ConfigureOutput(&buf)
	defer ConfigureOutput(prevOut)

	n, err := Sort(`test\.sort\..*`)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "a1")
	require.Contains(t, lines[1], "b1")
	require.Contains(t, lines[2], "a2")
	require.Contains(t, lines[3], "b2")
}

func TestDumpForFiltersByPattern(t *testing.T) {
	New("test.dumpfor.match", "", 4)
	other := New("test.dumpfor.skip", "", 4)
	Emit(other, "should not be dumped")

	target := Find("test.dumpfor.match")
	require.NotNil(t, target)
	Emit(target, "should be dumped")

	var buf bytes.Buffer
	prevOut := ConfigureOutput(&buf)
	defer ConfigureOutput(prevOut)

	n, err := DumpFor(`test\.dumpfor\.match`)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, buf.String(), "should be dumped")
}
