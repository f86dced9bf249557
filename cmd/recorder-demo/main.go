// Command recorder-demo is a small publisher that exercises the whole
// stack: a couple of recorders emitting at a fixed rate, RECORDER_TRACES/
// RECORDER_TWEAKS/RECORDER_SHARE environment configuration, signal-
// triggered dumps, and a Prometheus /metrics endpoint.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unvariance/flightrecorder/pkg/recorder"
	_ "github.com/unvariance/flightrecorder/pkg/traceconfig" // registers RECORDER_TRACES/TWEAKS/SHARE env hook
)

var (
	netLoop = recorder.New("demo.network", "fake network receive loop", 256)
	cpuLoop = recorder.New("demo.cpu", "fake CPU utilization sampler", 256)
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":2112", "address to serve /metrics on")
	rate := flag.Duration("rate", 100*time.Millisecond, "how often to emit a sample")
	flag.Parse()

	recorder.DumpOnCommonSignals(0, 0)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			fmt.Fprintf(os.Stderr, "recorder-demo: metrics server: %v\n", err)
		}
	}()

	var packets int64
	ticker := time.NewTicker(*rate)
	defer ticker.Stop()
	for range ticker.C {
		packets++
		recorder.Emit(netLoop, "received packet %d, %d bytes", recorder.Int(packets), recorder.Int(1500))
		recorder.Emit(cpuLoop, "cpu load %.2f%%", recorder.Float(loadSample(packets)))
	}
}

func loadSample(tick int64) float64 {
	return 50 + 40*float64((tick*37)%100)/100
}
