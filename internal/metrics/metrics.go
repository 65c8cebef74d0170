// Package metrics exports the progress of a merge to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/attpc/merger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grawmerge"

// Registry holds the metrics of one merge run.
type Registry struct {
	registry *prometheus.Registry

	RunInfo         *prometheus.GaugeVec
	RunStartSeconds prometheus.Gauge
	RunDuration     prometheus.Histogram
	EventTraces     prometheus.Histogram
	InputsTotal     prometheus.Gauge
}

// NewRegistry creates a registry holding the run-level metrics.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	f := promauto.With(r.registry)

	r.RunInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_info",
		Help:      "Always 1, labelled with the run id and output file",
	}, []string{"run_id", "output"})
	r.RunStartSeconds = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_start_time_seconds",
		Help:      "Unix time the merge started",
	})
	r.RunDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of finished merges",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	r.EventTraces = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_traces",
		Help:      "Traces per written event",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
	})
	r.InputsTotal = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inputs",
		Help:      "Number of GRAW files being merged",
	})
	return r
}

type statCounter struct {
	name, help string
	value      func(*merger.Stats) int64
}

var statCounters = []statCounter{
	{"frames_read_total", "Frames read from all inputs", func(s *merger.Stats) int64 { return s.FramesRead.Load() }},
	{"bytes_read_total", "Bytes read from all inputs", func(s *merger.Stats) int64 { return s.BytesRead.Load() }},
	{"frames_skipped_total", "Frames that could not be decoded", func(s *merger.Stats) int64 { return s.FramesSkipped.Load() }},
	{"header_corrections_total", "Frames whose header was corrected", func(s *merger.Stats) int64 { return s.HeaderCorrections.Load() }},
	{"hit_pattern_mismatches_total", "Hit-pattern bits disagreeing with the data", func(s *merger.Stats) int64 { return s.HitPatternMismatches.Load() }},
	{"late_frames_total", "Frames arriving after their event was finished", func(s *merger.Stats) int64 { return s.LateFrames.Load() }},
	{"time_mismatches_total", "Frames whose event time disagreed with their event", func(s *merger.Stats) int64 { return s.TimeMismatches.Load() }},
	{"events_built_total", "Events finished by the builders", func(s *merger.Stats) int64 { return s.EventsBuilt.Load() }},
	{"events_dropped_total", "Events dropped by noise correction", func(s *merger.Stats) int64 { return s.EventsDropped.Load() }},
	{"events_written_total", "Events written to the output", func(s *merger.Stats) int64 { return s.EventsWritten.Load() }},
	{"traces_written_total", "Traces written to the output", func(s *merger.Stats) int64 { return s.TracesWritten.Load() }},
	{"inputs_failed_total", "Inputs that ended on a read error", func(s *merger.Stats) int64 { return s.InputsFailed.Load() }},
}

// WatchStats exports every counter of s. The values are read from s at
// each scrape, so nothing needs to be updated while the merge runs.
func (r *Registry) WatchStats(s *merger.Stats) {
	f := promauto.With(r.registry)
	for _, c := range statCounters {
		value := c.value
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(value(s)) })
	}
}

// RecordRunStart labels the run and records when it started.
func (r *Registry) RecordRunStart(runID, output string, inputs int, start time.Time) {
	r.RunInfo.WithLabelValues(runID, output).Set(1)
	r.RunStartSeconds.Set(float64(start.UnixNano()) / 1e9)
	r.InputsTotal.Set(float64(inputs))
}

// RecordRunEnd records the duration of a finished run.
func (r *Registry) RecordRunEnd(elapsed time.Duration) {
	r.RunDuration.Observe(elapsed.Seconds())
}

// RecordEvent records the size of one written event.
func (r *Registry) RecordEvent(e *merger.Event) {
	r.EventTraces.Observe(float64(e.NumTraces()))
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the metrics in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Sink wraps an EventSink, recording every event that it accepts.
type Sink struct {
	merger.EventSink
	r *Registry
}

// NewSink returns a Sink writing to next.
func NewSink(next merger.EventSink, r *Registry) *Sink {
	return &Sink{EventSink: next, r: r}
}

// WriteEvent passes e on and records it when the write succeeds.
func (s *Sink) WriteEvent(e *merger.Event) error {
	if err := s.EventSink.WriteEvent(e); err != nil {
		return err
	}
	s.r.RecordEvent(e)
	return nil
}
