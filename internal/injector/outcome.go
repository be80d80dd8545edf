package injector

import (
	"time"

	"keytrace/internal/dataframe"
)

// IntervalTiming records how one interval actually played out.
type IntervalTiming struct {
	Interval        int           `json:"interval"`
	Keys            int           `json:"keys"`
	Emitted         int           `json:"emitted"`
	Failed          int           `json:"failed"`
	InterKeyWaitMs  int           `json:"inter_key_wait_ms"`
	MaxCarryMs      float64       `json:"max_carry_ms"`
	MonitorDuration time.Duration `json:"monitor_duration"`
	RemainderWait   time.Duration `json:"remainder_wait"`
	Duration        time.Duration `json:"duration"`
	Sampled         bool          `json:"sampled"`
}

// RunOutcome is what a run hands back to its coordinator: the per-process
// interval history plus timing and completeness information.
type RunOutcome struct {
	RunID     string            `json:"run_id"`
	Complete  bool              `json:"complete"`
	Planned   int               `json:"planned_intervals"`
	Intervals int               `json:"completed_intervals"`
	PIDs      []int             `json:"pids"`
	Frames    *dataframe.Frames `json:"-"`
	Timings   []IntervalTiming  `json:"timings"`
	Started   time.Time         `json:"started"`
	Finished  time.Time         `json:"finished"`
}

// History returns each process's steps in interval order.
func (o *RunOutcome) History() map[int][]dataframe.Step {
	history := make(map[int][]dataframe.Step, len(o.PIDs))
	for pid, frame := range o.Frames.GetAllProcesses() {
		history[pid] = frame.GetAllSteps()
	}
	return history
}

// Steps returns the steps recorded for pid, nil if pid was not monitored.
func (o *RunOutcome) Steps(pid int) []dataframe.Step {
	frame := o.Frames.GetProcess(pid)
	if frame == nil {
		return nil
	}
	return frame.GetAllSteps()
}

func (o *RunOutcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}
