package dataframe

import (
	"sync"
	"time"
)

// Frames holds one ProcessFrame per monitored PID.
type Frames struct {
	processes map[int]*ProcessFrame
	mutex     sync.RWMutex
}

// ProcessFrame is the correlation series of a single process: one Step per
// completed interval, in schedule order.
type ProcessFrame struct {
	steps []*Step
	mutex sync.RWMutex
}

// Step pairs the keys injected in an interval with the activity observed for
// the process in that interval. Sampled is false when the interval has no
// usable sample; Activity is meaningless in that case.
type Step struct {
	Interval  int       `json:"interval"`
	Timestamp time.Time `json:"timestamp"`
	Injected  int       `json:"injected"`
	Activity  float64   `json:"activity"`
	Sampled   bool      `json:"sampled"`
}

func NewFrames() *Frames {
	return &Frames{
		processes: make(map[int]*ProcessFrame),
	}
}

func (df *Frames) GetProcess(pid int) *ProcessFrame {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	return df.processes[pid]
}

// AddProcess registers pid, returning the existing frame if there is one.
func (df *Frames) AddProcess(pid int) *ProcessFrame {
	df.mutex.Lock()
	defer df.mutex.Unlock()

	if existing, ok := df.processes[pid]; ok {
		return existing
	}
	pf := &ProcessFrame{}
	df.processes[pid] = pf
	return pf
}

func (df *Frames) GetAllProcesses() map[int]*ProcessFrame {
	df.mutex.RLock()
	defer df.mutex.RUnlock()

	result := make(map[int]*ProcessFrame)
	for k, v := range df.processes {
		result[k] = v
	}
	return result
}

// Append adds the next interval's step. Steps must arrive in schedule order;
// a step whose interval does not follow the previous one is rejected and
// false is returned.
func (pf *ProcessFrame) Append(step *Step) bool {
	pf.mutex.Lock()
	defer pf.mutex.Unlock()

	if step.Interval != len(pf.steps) {
		return false
	}
	pf.steps = append(pf.steps, step)
	return true
}

func (pf *ProcessFrame) Len() int {
	pf.mutex.RLock()
	defer pf.mutex.RUnlock()
	return len(pf.steps)
}

// GetAllSteps returns a copy of the steps in interval order.
func (pf *ProcessFrame) GetAllSteps() []Step {
	pf.mutex.RLock()
	defer pf.mutex.RUnlock()

	result := make([]Step, len(pf.steps))
	for i, s := range pf.steps {
		result[i] = *s
	}
	return result
}

// Gaps counts the unsampled intervals.
func (pf *ProcessFrame) Gaps() int {
	pf.mutex.RLock()
	defer pf.mutex.RUnlock()

	gaps := 0
	for _, s := range pf.steps {
		if !s.Sampled {
			gaps++
		}
	}
	return gaps
}
