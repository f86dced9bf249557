package traceconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unvariance/flightrecorder/pkg/recorder"
	"github.com/unvariance/flightrecorder/pkg/tweak"
)

func TestApplyTracesEnablesMatchingRecorders(t *testing.T) {
	rec := recorder.New("traceconfig.test.enable", "", 4)

	errs := ApplyTraces("traceconfig\\.test\\.enable")
	require.Empty(t, errs)
	require.Equal(t, int64(1), rec.Trace())
}

func TestApplyTracesAllAlias(t *testing.T) {
	rec := recorder.New("traceconfig.test.all", "", 4)

	errs := ApplyTraces("all")
	require.Empty(t, errs)
	require.Equal(t, int64(1), rec.Trace())
}

func TestApplyTracesSetsNumericLevel(t *testing.T) {
	rec := recorder.New("traceconfig.test.level", "", 4)

	errs := ApplyTraces("traceconfig\\.test\\.level=3")
	require.Empty(t, errs)
	require.Equal(t, int64(3), rec.Trace())
}

func TestApplyTracesReportsInvalidNameWithoutAborting(t *testing.T) {
	rec := recorder.New("traceconfig.test.after_bad_name", "", 4)

	errs := ApplyTraces("definitely_no_such_recorder:traceconfig\\.test\\.after_bad_name")
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrInvalidName)
	require.Equal(t, int64(1), rec.Trace())
}

func TestApplyTracesReportsInvalidValueForTooManyNames(t *testing.T) {
	recorder.New("traceconfig.test.badvalue", "", 4)

	errs := ApplyTraces("traceconfig\\.test\\.badvalue=a,b,c,d,e")
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrInvalidValue)
}

func TestApplyTweaksSetsValue(t *testing.T) {
	tw := tweak.New("traceconfig.test.tweak", 0, "")

	errs := ApplyTweaks("traceconfig.test.tweak=7")
	require.Empty(t, errs)
	require.Equal(t, int64(7), tw.Get())
}

func TestApplyTweaksReportsInvalidName(t *testing.T) {
	errs := ApplyTweaks("no_such_tweak=1")
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrInvalidName)
}

func TestExportDirectiveRequiresActiveShare(t *testing.T) {
	recorder.New("traceconfig.test.export_noshare", "", 4)

	errs := ApplyTraces("traceconfig\\.test\\.export_noshare=export")
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrInvalidValue)
}

func TestExportDirectivePublishesChannels(t *testing.T) {
	rec := recorder.New("traceconfig.test.export_ok", "", 4)

	path := filepath.Join(t.TempDir(), "channels.shm")
	require.NoError(t, OpenShare(path))

	errs := ApplyTraces("traceconfig\\.test\\.export_ok=export")
	require.Empty(t, errs)
	require.Equal(t, int64(recorder.ExportMagic), rec.Trace())
	require.NotNil(t, rec.Export(0))
}

func TestExportDirectiveUsesGivenChannelName(t *testing.T) {
	recorder.New("traceconfig.test.export_named", "", 4)

	path := filepath.Join(t.TempDir(), "channels.shm")
	require.NoError(t, OpenShare(path))

	errs := ApplyTraces("traceconfig\\.test\\.export_named=sig")
	require.Empty(t, errs)

	found, err := activeShare().Find("sig")
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestExportDirectiveDisambiguatesWhenMultipleRecordersMatch(t *testing.T) {
	recorder.New("traceconfig.test.export_multi.one", "", 4)
	recorder.New("traceconfig.test.export_multi.two", "", 4)

	path := filepath.Join(t.TempDir(), "channels.shm")
	require.NoError(t, OpenShare(path))

	errs := ApplyTraces(`traceconfig\.test\.export_multi\..*=sig`)
	require.Empty(t, errs)

	found, err := activeShare().Find(`traceconfig\.test\.export_multi\.(one|two)/sig`)
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestExportDirectiveDoesNotClearExistingTraceLevel(t *testing.T) {
	rec := recorder.New("traceconfig.test.export_keep_trace", "", 4)
	rec.SetTrace(5)

	path := filepath.Join(t.TempDir(), "channels.shm")
	require.NoError(t, OpenShare(path))

	errs := ApplyTraces("traceconfig\\.test\\.export_keep_trace=sig")
	require.Empty(t, errs)
	require.Equal(t, int64(5), rec.Trace())
}
