package injector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"keytrace/internal/dataframe"
	"keytrace/internal/emitter"
	"keytrace/internal/errdefs"
	"keytrace/internal/logging"
	"keytrace/internal/monitor"
	"keytrace/internal/schedule"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FailurePolicy decides what happens to a run when an interval's monitoring
// call fails.
type FailurePolicy string

const (
	// PolicyGap records the interval as unsampled for every candidate and
	// keeps going.
	PolicyGap FailurePolicy = "gap"
	// PolicyAbort stops the run and returns the intervals gathered so far.
	PolicyAbort FailurePolicy = "abort"
)

const minMonitorTimeout = 50 * time.Millisecond

// RunConfig holds the immutable parameters of one run.
type RunConfig struct {
	// OffsetMs is added to every interval's length. It compensates for
	// systemic delay and is otherwise opaque to the injector.
	OffsetMs         int
	MonitorTimeout   time.Duration
	OnMonitorFailure FailurePolicy
}

func (c *RunConfig) Validate() error {
	if c.MonitorTimeout < 0 {
		return errdefs.Configuration("monitor timeout must not be negative")
	}
	switch c.OnMonitorFailure {
	case "", PolicyGap, PolicyAbort:
	default:
		return errdefs.Configuration("unknown monitor failure policy %q", c.OnMonitorFailure)
	}
	return nil
}

type Option func(*Injector)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(inj *Injector) { inj.clock = c }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(inj *Injector) { inj.runID = id }
}

// Injector drives a schedule in real time: it emits keystrokes with
// error-corrected spacing and takes one activity sample per interval.
type Injector struct {
	emitter emitter.Emitter
	monitor monitor.Monitor
	chars   *emitter.CharSource
	clock   Clock
	runID   string

	mu        sync.RWMutex
	observers []Observer

	logger *logrus.Logger
}

func New(em emitter.Emitter, mon monitor.Monitor, chars *emitter.CharSource, opts ...Option) *Injector {
	if chars == nil {
		chars = emitter.NewCharSource("", time.Now().UnixNano())
	}
	inj := &Injector{
		emitter: em,
		monitor: mon,
		chars:   chars,
		clock:   realClock{},
		logger:  logging.GetInjectorLogger(),
	}
	for _, opt := range opts {
		opt(inj)
	}
	return inj
}

// Subscribe registers an observer. Observers added during a run receive
// notifications from the next one on.
func (inj *Injector) Subscribe(o Observer) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.observers = append(inj.observers, o)
}

func (inj *Injector) snapshotObservers() []Observer {
	inj.mu.RLock()
	defer inj.mu.RUnlock()
	out := make([]Observer, len(inj.observers))
	copy(out, inj.observers)
	return out
}

type runState struct {
	observers []Observer
	sched     *schedule.Schedule
	pids      []int
	cfg       RunConfig
	outcome   *RunOutcome
}

func (rs *runState) status(logger *logrus.Logger, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.WithField("run_id", rs.outcome.RunID).Info(msg)
	for _, o := range rs.observers {
		o.OnStatus(msg)
	}
}

// Run executes sched against the candidate pids.
//
// On success the outcome holds exactly one step per interval for every pid.
// When ctx is cancelled the intervals completed so far are returned with
// Complete=false together with an error wrapping errdefs.ErrCancelled. With
// PolicyAbort a failed monitoring call does the same with errdefs.ErrMonitoring.
func (inj *Injector) Run(ctx context.Context, sched *schedule.Schedule, pids []int, cfg *RunConfig) (*RunOutcome, error) {
	if sched == nil {
		return nil, errdefs.InvalidArgument("schedule is nil")
	}
	if cfg == nil {
		return nil, errdefs.InvalidArgument("run configuration is nil")
	}
	if inj.emitter == nil || inj.monitor == nil {
		return nil, errdefs.InvalidArgument("injector needs both an emitter and a monitor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rs := &runState{
		observers: inj.snapshotObservers(),
		sched:     sched,
		pids:      normalizePIDs(pids),
		cfg:       *cfg,
	}
	if rs.cfg.OnMonitorFailure == "" {
		rs.cfg.OnMonitorFailure = PolicyGap
	}

	runID := inj.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	rs.outcome = &RunOutcome{
		RunID:   runID,
		Planned: sched.Len(),
		PIDs:    rs.pids,
		Frames:  dataframe.NewFrames(),
		Started: inj.clock.Now(),
	}
	for _, pid := range rs.pids {
		rs.outcome.Frames.AddProcess(pid)
	}

	rs.status(inj.logger, "Starting keystroke injection: %d intervals, %d candidates, emitter %s, monitor %s.",
		sched.Len(), len(rs.pids), inj.emitter.GetName(), inj.monitor.GetName())

	if primer, ok := inj.monitor.(monitor.Primer); ok {
		if err := primer.Prime(ctx, rs.pids); err != nil {
			if ctx.Err() != nil {
				return inj.cancelled(rs, ctx.Err())
			}
			rs.status(inj.logger, "Failed to take baseline sample: %v.", err)
		}
	}

	for i := 0; i < sched.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return inj.cancelled(rs, err)
		}

		timing, err := inj.runInterval(ctx, rs, i)
		if err != nil {
			if ctx.Err() != nil {
				return inj.cancelled(rs, ctx.Err())
			}
			rs.outcome.Finished = inj.clock.Now()
			rs.status(inj.logger, "Injection aborted in interval %d: %v", i+1, err)
			return rs.outcome, err
		}

		rs.outcome.Timings = append(rs.outcome.Timings, timing)
		rs.outcome.Intervals++
		for _, o := range rs.observers {
			if io, ok := o.(IntervalObserver); ok {
				io.OnInterval(timing)
			}
			o.OnProgress(i)
		}
	}

	rs.outcome.Complete = true
	rs.outcome.Finished = inj.clock.Now()
	rs.status(inj.logger, "Injection finished.")
	return rs.outcome, nil
}

func (inj *Injector) cancelled(rs *runState, cause error) (*RunOutcome, error) {
	rs.outcome.Complete = false
	rs.outcome.Finished = inj.clock.Now()
	rs.status(inj.logger, "Injection cancelled after %d of %d intervals.", rs.outcome.Intervals, rs.outcome.Planned)
	return rs.outcome, errdefs.Cancelled(cause)
}

// runInterval plays interval i: key emission, monitoring, remainder wait and
// recording, in that order. Nothing is recorded unless the whole interval
// completed.
func (inj *Injector) runInterval(ctx context.Context, rs *runState, i int) (IntervalTiming, error) {
	keys := rs.sched.Keys(i)
	durationMs := rs.sched.IntervalMs()
	timing := IntervalTiming{Interval: i, Keys: keys}

	rs.status(inj.logger, "Interval %d/%d: injecting %d keys over %dms.", i+1, rs.sched.Len(), keys, durationMs)

	start := inj.clock.Now()

	if keys > 0 && durationMs > 0 {
		planner := newDelayPlanner(keys, durationMs)
		for k := 0; k < keys; k++ {
			if err := ctx.Err(); err != nil {
				return timing, err
			}

			char := inj.chars.Next()
			if err := inj.emitter.Emit(ctx, char); err != nil {
				if ctx.Err() != nil {
					return timing, ctx.Err()
				}
				timing.Failed++
				ierr := &errdefs.InjectionError{Interval: i, Key: k, Char: char, Err: err}
				rs.status(inj.logger, "Error sending key: %v. Skipping key.", ierr)
			} else {
				timing.Emitted++
			}

			if k < keys-1 {
				wait := planner.next()
				timing.InterKeyWaitMs += wait
				if planner.carry > timing.MaxCarryMs {
					timing.MaxCarryMs = planner.carry
				}
				if wait > 0 {
					if err := inj.clock.Sleep(ctx, time.Duration(wait)*time.Millisecond); err != nil {
						return timing, err
					}
				}
			}
		}
	}

	monitorStart := inj.clock.Now()
	sample, merr := inj.sample(ctx, rs, i)
	timing.MonitorDuration = inj.clock.Now().Sub(monitorStart)
	if merr != nil {
		if ctx.Err() != nil {
			return timing, ctx.Err()
		}
		rs.status(inj.logger, "%v", merr)
		if rs.cfg.OnMonitorFailure == PolicyAbort {
			return timing, merr
		}
		sample = nil
	}

	elapsedMs := int(inj.clock.Now().Sub(start) / time.Millisecond)
	remainingMs := durationMs - elapsedMs + rs.cfg.OffsetMs
	if remainingMs > 0 {
		timing.RemainderWait = time.Duration(remainingMs) * time.Millisecond
		if err := inj.clock.Sleep(ctx, timing.RemainderWait); err != nil {
			return timing, err
		}
	}

	end := inj.clock.Now()
	timing.Duration = end.Sub(start)
	timing.Sampled = merr == nil

	for _, pid := range rs.pids {
		value, ok := sample[pid]
		step := &dataframe.Step{
			Interval:  i,
			Timestamp: end,
			Injected:  keys,
			Activity:  value,
			Sampled:   ok,
		}
		if !rs.outcome.Frames.GetProcess(pid).Append(step) {
			return timing, fmt.Errorf("interval %d: sample for pid %d out of order", i, pid)
		}
		if !ok && merr == nil {
			inj.logger.WithFields(logrus.Fields{"interval": i, "pid": pid}).Debug("No sample for candidate")
		}
	}

	inj.logger.WithFields(logrus.Fields{
		"interval":     i,
		"keys":         keys,
		"emitted":      timing.Emitted,
		"inter_key_ms": timing.InterKeyWaitMs,
		"monitor_ms":   timing.MonitorDuration.Milliseconds(),
		"remainder_ms": timing.RemainderWait.Milliseconds(),
		"interval_ms":  timing.Duration.Milliseconds(),
		"sampled":      timing.Sampled,
	}).Debug("Interval ended")

	return timing, nil
}

func (inj *Injector) sample(ctx context.Context, rs *runState, i int) (monitor.Sample, error) {
	timeout := rs.cfg.MonitorTimeout
	if timeout <= 0 {
		timeout = rs.sched.IntervalDuration()
		if timeout < minMonitorTimeout {
			timeout = minMonitorTimeout
		}
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sample, err := inj.monitor.SampleActivity(mctx, rs.pids)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("no sample within %v: %w", timeout, err)
		}
		return nil, &errdefs.MonitoringError{Interval: i, Err: err}
	}
	if sample == nil {
		return nil, &errdefs.MonitoringError{Interval: i, Err: errors.New("monitor returned no sample")}
	}
	return sample, nil
}

func normalizePIDs(pids []int) []int {
	seen := make(map[int]bool, len(pids))
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
