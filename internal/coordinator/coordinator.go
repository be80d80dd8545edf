// Package coordinator owns the lifecycle of one detection run: it builds the
// schedule, resolves the candidates, drives the injector, scores the outcome
// and hands the verdicts to storage, reporting and notification.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"keytrace/internal/candidates"
	"keytrace/internal/config"
	"keytrace/internal/console"
	"keytrace/internal/database"
	"keytrace/internal/detector"
	"keytrace/internal/emitter"
	"keytrace/internal/errdefs"
	"keytrace/internal/injector"
	"keytrace/internal/logging"
	"keytrace/internal/metrics"
	"keytrace/internal/schedule"

	"github.com/sirupsen/logrus"
)

// finishTimeout bounds storing and reporting after the injection loop ends,
// including when the run itself was cancelled.
const finishTimeout = 30 * time.Second

// Result is everything a run produced.
type Result struct {
	Schedule  *schedule.Schedule
	Checksum  string
	PIDs      []int
	Outcome   *injector.RunOutcome
	Results   []detector.DetectionResult
	SpoolPath string
}

type Option func(*Coordinator)

// WithOutput renders progress and the verdict table to w.
func WithOutput(w io.Writer) Option {
	return func(c *Coordinator) { c.out = w }
}

// WithVersion is recorded in the run metadata.
func WithVersion(v string) Option {
	return func(c *Coordinator) { c.version = v }
}

// WithRunID fixes the run identifier.
func WithRunID(id string) Option {
	return func(c *Coordinator) { c.runID = id }
}

type Coordinator struct {
	cfg           *config.KeytraceConfig
	configContent string
	comps         *Components
	out           io.Writer
	version       string
	runID         string
	logger        *logrus.Logger
}

func New(cfg *config.KeytraceConfig, configContent string, comps *Components, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, errdefs.InvalidArgument("configuration is nil")
	}
	if comps == nil || comps.Emitter == nil || comps.Monitor == nil {
		return nil, errdefs.InvalidArgument("coordinator needs an emitter and a monitor")
	}
	if len(comps.Discoverers) == 0 {
		return nil, errdefs.InvalidArgument("coordinator needs at least one candidate source")
	}
	c := &Coordinator{
		cfg:           cfg,
		configContent: configContent,
		comps:         comps,
		version:       "dev",
		logger:        logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BuildSchedule generates the schedule described by cfg together with its
// checksum. A zero run.seed picks a fresh one.
func BuildSchedule(cfg *config.KeytraceConfig) (*schedule.Schedule, string, error) {
	sched, err := schedule.Generate(cfg.GeneratorConfig(), rand.New(rand.NewSource(seed(cfg))))
	if err != nil {
		return nil, "", err
	}
	checksum, err := schedule.Checksum(sched)
	if err != nil {
		return nil, "", fmt.Errorf("failed to checksum schedule: %w", err)
	}
	return sched, checksum, nil
}

func seed(cfg *config.KeytraceConfig) int64 {
	if cfg.Run.Seed != 0 {
		return cfg.Run.Seed
	}
	return time.Now().UnixNano()
}

// ResolveCandidates returns the PIDs every configured source agrees to watch.
func (c *Coordinator) ResolveCandidates(ctx context.Context) ([]int, error) {
	pids, err := candidates.Resolve(ctx, c.comps.Discoverers...)
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		return nil, errdefs.InvalidArgument("no candidate processes found")
	}
	return pids, nil
}

// Run executes one detection run. When ctx is cancelled mid-run the
// completed intervals are still scored, stored and reported with
// Complete=false, and the returned error wraps errdefs.ErrCancelled.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	sched, checksum, err := BuildSchedule(c.cfg)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"intervals":   sched.Len(),
		"interval_ms": sched.IntervalMs(),
		"total_keys":  sched.TotalKeys(),
		"checksum":    checksum,
	}).Info("Schedule generated")

	pids, err := c.ResolveCandidates(ctx)
	if err != nil {
		return nil, err
	}
	if warmer, ok := c.comps.Names.(interface{ Warm([]int) }); ok {
		warmer.Warm(pids)
	}
	c.logger.WithField("candidates", len(pids)).Info("Candidates resolved")

	det, err := detector.New(c.cfg.Run.Threshold, c.cfg.Run.MinSamples)
	if err != nil {
		return nil, err
	}

	if rec := c.comps.Recorder; rec != nil {
		rec.SetIntervalLength(sched.IntervalMs(), c.cfg.Run.OffsetMs)
		if c.cfg.Run.MetricsAddr != "" {
			srv := metrics.NewServer(rec)
			if err := srv.Start(c.cfg.Run.MetricsAddr); err != nil {
				c.logger.WithError(err).Warn("Metrics server unavailable")
			} else {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						c.logger.WithError(err).Warn("Failed to stop metrics server")
					}
				}()
			}
		}
	}

	inj := c.newInjector(sched)
	outcome, runErr := inj.Run(ctx, sched, pids, &injector.RunConfig{
		OffsetMs:         c.cfg.Run.OffsetMs,
		MonitorTimeout:   c.cfg.MonitorTimeout(),
		OnMonitorFailure: injector.FailurePolicy(c.cfg.Run.OnMonitorFailure),
	})
	if outcome == nil {
		return nil, runErr
	}

	results := det.Evaluate(outcome, c.nameFunc())
	if c.comps.Recorder != nil {
		c.comps.Recorder.ObserveResults(results)
	}

	res := &Result{
		Schedule: sched,
		Checksum: checksum,
		PIDs:     pids,
		Outcome:  outcome,
		Results:  results,
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	res.SpoolPath = c.store(finishCtx, sched, checksum, outcome, results)
	c.report(finishCtx, results)
	c.notify(results)

	if c.out != nil {
		fmt.Fprintln(c.out, console.RenderResults(results, outcome.Complete))
	}

	c.logger.WithFields(logrus.Fields{
		"run_id":    outcome.RunID,
		"complete":  outcome.Complete,
		"intervals": outcome.Intervals,
		"detected":  len(detector.Detected(results)),
		"duration":  outcome.Duration(),
	}).Info("Detection run finished")
	return res, runErr
}

func (c *Coordinator) newInjector(sched *schedule.Schedule) *injector.Injector {
	var opts []injector.Option
	if c.comps.Clock != nil {
		opts = append(opts, injector.WithClock(c.comps.Clock))
	}
	if c.runID != "" {
		opts = append(opts, injector.WithRunID(c.runID))
	}
	chars := emitter.NewCharSource(c.cfg.Emitter.Charset, seed(c.cfg))
	inj := injector.New(c.comps.Emitter, c.comps.Monitor, chars, opts...)

	if c.out != nil {
		inj.Subscribe(console.NewProgress(c.out, sched.Len()))
	}
	if c.comps.Recorder != nil {
		inj.Subscribe(c.comps.Recorder)
	}
	for _, o := range c.comps.Observers {
		inj.Subscribe(o)
	}
	return inj
}

func (c *Coordinator) nameFunc() detector.NameFunc {
	if c.comps.Names == nil {
		return nil
	}
	return c.comps.Names.Name
}

// store writes the run to the configured store and, when a spool directory
// is set or the store rejected the run, to a spool artifact. It returns the
// artifact path, if any.
func (c *Coordinator) store(ctx context.Context, sched *schedule.Schedule, checksum string, outcome *injector.RunOutcome, results []detector.DetectionResult) string {
	metadata := database.CollectRunMetadata(c.cfg, c.configContent, checksum, outcome, results,
		sched.TotalKeys(), c.comps.Emitter.GetName(), c.comps.Monitor.GetName(), c.version)

	storeFailed := false
	if c.comps.Store != nil {
		if err := c.comps.Store.WriteRun(ctx, outcome, results); err != nil {
			c.logger.WithError(err).Error("Failed to store run")
			storeFailed = true
		} else if err := c.comps.Store.WriteMetadata(ctx, metadata); err != nil {
			c.logger.WithError(err).Error("Failed to store run metadata")
			storeFailed = true
		}
	}

	if c.cfg.Run.SpoolDir == "" && !storeFailed {
		return ""
	}
	artifact := database.BuildSpoolArtifact(c.cfg.Run.Name, sched.KeysPerInterval(), sched.IntervalMs(),
		checksum, c.configContent, outcome, results, metadata)
	path, err := database.WriteSpoolArtifact(c.cfg.Run.SpoolDir, artifact)
	if err != nil {
		c.logger.WithError(err).Error("Failed to write spool artifact")
		return ""
	}
	c.logger.WithField("path", path).Info("Run spooled")
	return path
}

func (c *Coordinator) report(ctx context.Context, results []detector.DetectionResult) {
	if c.comps.Reporter == nil {
		return
	}
	sent, failed := 0, 0
	for _, r := range results {
		if c.cfg.Report.OnlyDetected && !r.Detected {
			continue
		}
		if c.comps.Reporter.Report(ctx, r) {
			sent++
		} else {
			failed++
		}
	}
	entry := c.logger.WithFields(logrus.Fields{
		"reporter": c.comps.Reporter.GetName(),
		"sent":     sent,
		"failed":   failed,
	})
	if failed > 0 {
		entry.Warn("Some detection logs were not delivered")
		return
	}
	entry.Debug("Detection logs delivered")
}

func (c *Coordinator) notify(results []detector.DetectionResult) {
	if c.comps.Notifier == nil {
		return
	}
	for _, r := range detector.Detected(results) {
		c.comps.Notifier.Notify(r)
	}
}
