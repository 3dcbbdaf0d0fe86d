package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	recordsWritten   prometheus.Counter
	recordsUnchanged prometheus.Counter
	proofsServed     prometheus.Counter
	snapshotsSaved   prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)
	return &serverMetrics{
		recordsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "treed_records_written_total",
			Help: "Number of new records added to the map and accumulator",
		}),
		recordsUnchanged: f.NewCounter(prometheus.CounterOpts{
			Name: "treed_records_unchanged_total",
			Help: "Number of writes ignored because the key already existed",
		}),
		proofsServed: f.NewCounter(prometheus.CounterOpts{
			Name: "treed_proofs_served_total",
			Help: "Number of merkle proofs returned",
		}),
		snapshotsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "treed_snapshots_saved_total",
			Help: "Number of snapshots persisted",
		}),
	}
}
