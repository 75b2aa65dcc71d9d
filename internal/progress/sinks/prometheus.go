package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tablescan/internal/progress"
)

// PrometheusSink exports scan progress metrics via Prometheus. Events carry
// cumulative counters, so the sink tracks the last value seen per run and
// adds only the difference.
type PrometheusSink struct {
	recordsProcessed prometheus.Counter
	recordFailures   prometheus.Counter
	units            *prometheus.CounterVec
	throughput       prometheus.Gauge
	runsRunning      prometheus.Gauge
	runDuration      *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tablescan_records_processed_total",
			Help: "Records handed to the processor, failed ones included.",
		}),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tablescan_record_failures_total",
			Help: "Records whose processing returned an error or panicked.",
		}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablescan_units_total",
			Help: "Shards or index ranges finished, partitioned by result.",
		}, []string{"result"}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablescan_throughput_records_per_second",
			Help: "Most recent throughput sample.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablescan_runs_running",
			Help: "Current number of running scans.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tablescan_run_duration_seconds",
			Help:    "Wall time per completed scan.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600},
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.recordsProcessed,
		s.recordFailures,
		s.units,
		s.throughput,
		s.runsRunning,
		s.runDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	dp, df := s.tracker.advance(evt.RunID, evt.Counters)
	if dp > 0 {
		s.recordsProcessed.Add(float64(dp))
	}
	if df > 0 {
		s.recordFailures.Add(float64(df))
	}

	switch evt.Stage {
	case progress.StageRunStart:
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageThroughput:
		s.throughput.Set(evt.Rate)
	case progress.StageUnitDone:
		result := "done"
		if evt.Note != "" {
			result = "finalize_error"
		}
		s.units.WithLabelValues(result).Inc()
	case progress.StageUnitCorrupt:
		s.units.WithLabelValues("corrupt").Inc()
	case progress.StageUnitAbandoned:
		s.units.WithLabelValues("abandoned").Inc()
	case progress.StageRunDone:
		result := "success"
		if evt.Note != "" {
			result = "error"
		}
		s.throughput.Set(evt.Rate)
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
	last    map[[16]byte]progress.Counters
}

func newRunTracker() *runTracker {
	return &runTracker{
		running: make(map[[16]byte]struct{}),
		last:    make(map[[16]byte]progress.Counters),
	}
}

// advance returns how far processed and failed moved since the last event of
// the run. Out-of-order snapshots yield zero.
func (t *runTracker) advance(id [16]byte, c progress.Counters) (processed, failed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.last[id]
	if c.Processed > prev.Processed {
		processed = c.Processed - prev.Processed
		prev.Processed = c.Processed
	}
	if c.Failed > prev.Failed {
		failed = c.Failed - prev.Failed
		prev.Failed = c.Failed
	}
	t.last[id] = prev
	return processed, failed
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, id)
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
