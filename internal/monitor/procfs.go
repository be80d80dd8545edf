package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"keytrace/internal/logging"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProcfsMonitor reads cumulative per-process counters from /proc and reports
// how much each counter advanced since the previous call.
type ProcfsMonitor struct {
	fs          procfs.FS
	metric      Metric
	concurrency int

	mu   sync.Mutex
	last map[int]float64

	logger *logrus.Logger
}

func NewProcfsMonitor(procRoot string, metric Metric, concurrency int) (*ProcfsMonitor, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	if metric == MetricTaskClk {
		return nil, fmt.Errorf("metric %q is only available from the perf monitor", metric)
	}
	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procRoot, err)
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &ProcfsMonitor{
		fs:          pfs,
		metric:      metric,
		concurrency: concurrency,
		last:        make(map[int]float64),
		logger:      logging.GetLogger(),
	}, nil
}

func (m *ProcfsMonitor) GetName() string { return "procfs/" + string(m.metric) }

// Prime records the baseline counters.
func (m *ProcfsMonitor) Prime(ctx context.Context, pids []int) error {
	readings, err := m.read(ctx, pids)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.last = readings
	m.mu.Unlock()
	return nil
}

func (m *ProcfsMonitor) SampleActivity(ctx context.Context, pids []int) (Sample, error) {
	current, err := m.read(ctx, pids)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sample := make(Sample, len(current))
	for pid, value := range current {
		prev, ok := m.last[pid]
		if !ok {
			// First sighting, nothing to diff against yet.
			continue
		}
		if value < prev {
			// Counter went backwards: the PID was reused.
			m.logger.WithField("pid", pid).Debug("Counter reset, skipping sample")
			continue
		}
		sample[pid] = value - prev
	}
	// An unreadable PID keeps its baseline so the next interval can diff.
	for _, pid := range pids {
		if _, ok := current[pid]; ok {
			continue
		}
		if prev, ok := m.last[pid]; ok {
			current[pid] = prev
		}
	}
	m.last = current
	return sample, nil
}

func (m *ProcfsMonitor) read(ctx context.Context, pids []int) (map[int]float64, error) {
	var mu sync.Mutex
	readings := make(map[int]float64, len(pids))
	var failures int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, pid := range pids {
		pid := pid
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			value, err := m.readOne(pid)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					m.logger.WithField("pid", pid).WithError(err).Debug("Failed to read process counters")
					mu.Lock()
					failures++
					mu.Unlock()
				}
				return nil
			}
			mu.Lock()
			readings[pid] = value
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(pids) > 0 && failures == len(pids) {
		return nil, fmt.Errorf("no readable counters for %d processes", len(pids))
	}
	return readings, nil
}

func (m *ProcfsMonitor) readOne(pid int) (float64, error) {
	proc, err := m.fs.Proc(pid)
	if err != nil {
		return 0, err
	}

	switch m.metric {
	case MetricCPU:
		stat, err := proc.Stat()
		if err != nil {
			return 0, err
		}
		return stat.CPUTime(), nil
	case MetricCtxSw:
		status, err := proc.NewStatus()
		if err != nil {
			return 0, err
		}
		return float64(status.VoluntaryCtxtSwitches + status.NonVoluntaryCtxtSwitches), nil
	case MetricSyscalls:
		pio, err := proc.IO()
		if err != nil {
			return 0, err
		}
		return float64(pio.SyscR + pio.SyscW), nil
	case MetricIO:
		pio, err := proc.IO()
		if err != nil {
			return 0, err
		}
		return float64(pio.RChar + pio.WChar), nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", m.metric)
	}
}
