package cas

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts store traffic. It is created per process (or per test) and
// handed to NewStore; a nil *Metrics is valid and records nothing.
type Metrics struct {
	Gets         prometheus.Counter
	Puts         prometheus.Counter
	Misses       prometheus.Counter
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
}

// NewMetrics registers counters with reg. A nil registerer yields unregistered
// counters, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Gets: f.NewCounter(prometheus.CounterOpts{
			Name: "cas_block_gets_total",
			Help: "Number of blocks read from the content store",
		}),
		Puts: f.NewCounter(prometheus.CounterOpts{
			Name: "cas_block_puts_total",
			Help: "Number of blocks written to the content store",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Name: "cas_block_misses_total",
			Help: "Number of block reads that found nothing",
		}),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "cas_block_read_bytes_total",
			Help: "Bytes read from the content store",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "cas_block_written_bytes_total",
			Help: "Bytes written to the content store",
		}),
	}
}

func (m *Metrics) observeGet(n int) {
	if m == nil {
		return
	}
	m.Gets.Inc()
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) observePut(n int) {
	if m == nil {
		return
	}
	m.Puts.Inc()
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) observeMiss() {
	if m == nil {
		return
	}
	m.Misses.Inc()
}
