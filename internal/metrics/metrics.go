package metrics

import (
	"strconv"
	"time"

	"keytrace/internal/detector"
	"keytrace/internal/injector"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports injector progress and detection verdicts as Prometheus
// metrics. It subscribes to the injector like any other observer.
type Recorder struct {
	registry *prometheus.Registry

	IntervalsCompleted prometheus.Counter
	KeysEmitted        prometheus.Counter
	KeyEmitFailures    prometheus.Counter
	MonitorFailures    prometheus.Counter
	IntervalDuration   prometheus.Histogram
	IntervalOverrun    prometheus.Histogram
	Detections         *prometheus.CounterVec
	LastCorrelation    *prometheus.GaugeVec

	intervalMs int
	offsetMs   int
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		IntervalsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "keytrace_intervals_completed_total",
			Help: "Total number of completed injection intervals",
		}),
		KeysEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "keytrace_keys_emitted_total",
			Help: "Total number of synthetic keystrokes emitted",
		}),
		KeyEmitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "keytrace_key_emit_failures_total",
			Help: "Total number of keystrokes that failed to emit",
		}),
		MonitorFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "keytrace_monitor_failures_total",
			Help: "Total number of intervals without an activity sample",
		}),
		IntervalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keytrace_interval_duration_seconds",
			Help:    "Wall clock duration of injection intervals",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		IntervalOverrun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keytrace_interval_overrun_seconds",
			Help:    "How far intervals ran past their configured length",
			Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keytrace_detections_total",
			Help: "Evaluated processes by verdict",
		}, []string{"detected"}),
		LastCorrelation: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keytrace_correlation",
			Help: "Correlation score of the most recent evaluation per process",
		}, []string{"pid", "process"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// SetIntervalLength sets the expected interval length used for overrun
// accounting.
func (r *Recorder) SetIntervalLength(intervalMs, offsetMs int) {
	r.intervalMs = intervalMs
	r.offsetMs = offsetMs
}

func (r *Recorder) OnStatus(string) {}

func (r *Recorder) OnProgress(int) {
	r.IntervalsCompleted.Inc()
}

func (r *Recorder) OnInterval(timing injector.IntervalTiming) {
	r.KeysEmitted.Add(float64(timing.Emitted))
	r.KeyEmitFailures.Add(float64(timing.Failed))
	if !timing.Sampled {
		r.MonitorFailures.Inc()
	}
	r.IntervalDuration.Observe(timing.Duration.Seconds())

	expected := time.Duration(r.intervalMs+r.offsetMs) * time.Millisecond
	if overrun := timing.Duration - expected; overrun > 0 {
		r.IntervalOverrun.Observe(overrun.Seconds())
	} else {
		r.IntervalOverrun.Observe(0)
	}
}

func (r *Recorder) ObserveResults(results []detector.DetectionResult) {
	for _, res := range results {
		r.Detections.WithLabelValues(strconv.FormatBool(res.Detected)).Inc()
		r.LastCorrelation.WithLabelValues(strconv.Itoa(res.ProcessID), res.ProcessName).Set(res.Correlation)
	}
}
