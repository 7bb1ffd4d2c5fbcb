package algorithm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cstrahan/imxrt-flash-algorithm/flash"
)

// Metrics counts what a programming session did to the device.
type Metrics struct {
	chunks        prometheus.Counter
	chunkDuration prometheus.Histogram
	pages         prometheus.Counter
	bytes         prometheus.Counter
	erases        *prometheus.CounterVec
	eraseDuration prometheus.Histogram
	errors        *prometheus.CounterVec
}

// NewMetrics creates the session metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flash_algorithm_chunks_total",
			Help: "Program calls received from the host",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flash_algorithm_chunk_duration_seconds",
			Help:    "Time spent handling one program call",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flash_algorithm_pages_programmed_total",
			Help: "Pages the device accepted",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flash_algorithm_bytes_programmed_total",
			Help: "Bytes the device accepted",
		}),
		erases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_algorithm_erases_total",
			Help: "Erase operations by scope",
		}, []string{"scope"}),
		eraseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flash_algorithm_erase_duration_seconds",
			Help:    "Erase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flash_algorithm_errors_total",
			Help: "Failed operations by error kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.chunks, m.chunkDuration, m.pages, m.bytes, m.erases, m.eraseDuration, m.errors)
	return m
}

func (m *Metrics) observeChunk(start time.Time) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.chunkDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeErase(scope string, start time.Time) {
	if m == nil {
		return
	}
	m.erases.WithLabelValues(scope).Inc()
	m.eraseDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(Kind(err)).Inc()
}

// countingProgrammer counts the pages and bytes a device accepts.
type countingProgrammer struct {
	drv flash.Driver
	m   *Metrics
}

func (c countingProgrammer) ProgramPage(addr uint32, data []byte) flash.Status {
	st := c.drv.ProgramPage(addr, data)
	if st.OK() && c.m != nil {
		c.m.pages.Inc()
		c.m.bytes.Add(float64(len(data)))
	}
	return st
}
