package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_entries_emitted_total",
		Help: "Entries written to a recorder's ring, by recorder name.",
	}, []string{"recorder"})

	entriesOverflowed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_entries_overflowed_total",
		Help: "Entries silently overwritten before being read, by recorder name.",
	}, []string{"recorder"})
)
