package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keytrace/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// PerfMonitor counts a software perf event per process. Events are opened
// lazily the first time a PID is seen and stay open until Close.
type PerfMonitor struct {
	counter perf.SoftwareCounter
	metric  Metric

	mu        sync.Mutex
	events    map[int]*perf.Event
	lastState map[int]*eventState

	logger *logrus.Logger
}

func NewPerfMonitor(metric Metric) (*PerfMonitor, error) {
	var counter perf.SoftwareCounter
	switch metric {
	case MetricCtxSw:
		counter = perf.ContextSwitches
	case MetricTaskClk, MetricCPU:
		counter = perf.TaskClock
	default:
		return nil, fmt.Errorf("metric %q is not available from the perf monitor", metric)
	}
	return &PerfMonitor{
		counter:   counter,
		metric:    metric,
		events:    make(map[int]*perf.Event),
		lastState: make(map[int]*eventState),
		logger:    logging.GetLogger(),
	}, nil
}

func (pm *PerfMonitor) GetName() string { return "perf/" + string(pm.metric) }

func (pm *PerfMonitor) Prime(ctx context.Context, pids []int) error {
	_, err := pm.SampleActivity(ctx, pids)
	return err
}

func (pm *PerfMonitor) SampleActivity(ctx context.Context, pids []int) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	sample := make(Sample, len(pids))
	opened := 0
	for _, pid := range pids {
		event, err := pm.eventFor(pid)
		if err != nil {
			pm.logger.WithField("pid", pid).WithError(err).Debug("Failed to open perf event")
			continue
		}
		opened++

		count, err := event.ReadCount()
		if err != nil {
			pm.logger.WithField("pid", pid).WithError(err).Debug("Failed to read perf event")
			continue
		}

		pm.record(sample, pid, &eventState{value: count.Value, enabled: count.Enabled, running: count.Running})
	}

	if len(pids) > 0 && opened == 0 {
		return nil, fmt.Errorf("no perf events could be opened for %d processes", len(pids))
	}
	return sample, nil
}

func (pm *PerfMonitor) eventFor(pid int) (*perf.Event, error) {
	if event, ok := pm.events[pid]; ok {
		return event, nil
	}

	attr := &perf.Attr{}
	if err := pm.counter.Configure(attr); err != nil {
		return nil, err
	}
	// Enable time tracking for multiplexing correction
	attr.CountFormat.Enabled = true
	attr.CountFormat.Running = true
	attr.Options.Inherit = true

	event, err := perf.Open(attr, pid, perf.AnyCPU, nil)
	if err != nil {
		return nil, err
	}
	if err := event.Enable(); err != nil {
		event.Close()
		return nil, fmt.Errorf("failed to enable perf event: %w", err)
	}
	pm.events[pid] = event
	return event, nil
}

// record stores the delta against the previous reading of pid. A first
// reading or a counter that went backwards leaves pid out of the sample.
func (pm *PerfMonitor) record(sample Sample, pid int, current *eventState) {
	if last, ok := pm.lastState[pid]; ok {
		if delta, ok := scaledDelta(last, current); ok {
			sample[pid] = delta
		} else {
			pm.logger.WithFields(logrus.Fields{
				"pid":      pid,
				"previous": last.value,
				"current":  current.value,
			}).Debug("Perf counter went backwards, skipping interval")
		}
	}
	pm.lastState[pid] = current
}

// scaledDelta applies the multiplexing correction to the counter delta using
// the enabled/running times of this interval. It reports false when the
// counter went backwards.
func scaledDelta(last, current *eventState) (float64, bool) {
	if current.value < last.value {
		return 0, false
	}
	deltaValue := float64(current.value - last.value)
	deltaEnabled := current.enabled - last.enabled
	deltaRunning := current.running - last.running
	if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
		deltaValue *= float64(deltaEnabled) / float64(deltaRunning)
	}
	return deltaValue, true
}

func (pm *PerfMonitor) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for pid, event := range pm.events {
		if event != nil {
			event.Close()
		}
		delete(pm.events, pid)
	}
	pm.lastState = make(map[int]*eventState)
	return nil
}
