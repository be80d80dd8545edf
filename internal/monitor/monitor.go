package monitor

import (
	"context"
	"fmt"
	"strings"
)

// Sample maps a process identifier to the activity observed for it during one
// interval. A PID that is missing from a Sample was not sampled.
type Sample map[int]float64

// Monitor samples activity for a set of candidate processes once per
// interval. It must return an error rather than a partial or garbled sample
// when the measurement as a whole fails.
type Monitor interface {
	SampleActivity(ctx context.Context, pids []int) (Sample, error)
	GetName() string
}

// Primer is implemented by monitors that report deltas and need a baseline
// reading before the first interval.
type Primer interface {
	Prime(ctx context.Context, pids []int) error
}

// Metric selects what a counter based monitor measures.
type Metric string

const (
	MetricCPU      Metric = "cpu"
	MetricCtxSw    Metric = "ctxsw"
	MetricSyscalls Metric = "syscalls"
	MetricIO       Metric = "io"
	MetricTaskClk  Metric = "task-clock"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricCPU, MetricCtxSw, MetricSyscalls, MetricIO, MetricTaskClk:
		return m, nil
	case "":
		return MetricCPU, nil
	default:
		return "", fmt.Errorf("unknown activity metric %q", s)
	}
}

// Options configures New.
type Options struct {
	Implementation string
	Metric         string
	ProcRoot       string
	Concurrency    int
}

// New returns the monitor registered under opts.Implementation.
func New(opts Options) (Monitor, error) {
	metric, err := ParseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(opts.Implementation) {
	case "", "procfs":
		return NewProcfsMonitor(opts.ProcRoot, metric, opts.Concurrency)
	case "perf":
		return NewPerfMonitor(metric)
	default:
		return nil, fmt.Errorf("unknown monitor implementation %q", opts.Implementation)
	}
}
