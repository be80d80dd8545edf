package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"keytrace/internal/candidates"
	"keytrace/internal/config"
	"keytrace/internal/database"
	"keytrace/internal/detector"
	"keytrace/internal/emitter"
	"keytrace/internal/injector"
	"keytrace/internal/logging"
	"keytrace/internal/metrics"
	"keytrace/internal/monitor"
	"keytrace/internal/notify"
	"keytrace/internal/reporting"

	"github.com/sirupsen/logrus"
)

// Store persists a finished (or partial) run.
type Store interface {
	WriteRun(ctx context.Context, outcome *injector.RunOutcome, results []detector.DetectionResult) error
	WriteMetadata(ctx context.Context, metadata *database.RunMetadata) error
}

// NameSource turns a PID into a display name.
type NameSource interface {
	Name(pid int) string
}

// Components are the collaborators a Coordinator drives. Only Emitter,
// Monitor and at least one Discoverer are required.
type Components struct {
	Emitter     emitter.Emitter
	Monitor     monitor.Monitor
	Discoverers []candidates.Discoverer
	Names       NameSource
	Reporter    reporting.Reporter
	Notifier    notify.Notifier
	Store       Store
	Recorder    *metrics.Recorder
	Observers   []injector.Observer
	Clock       injector.Clock

	closers []func() error
}

func (c *Components) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases everything Build opened, in reverse order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Build constructs the production components described by cfg. The caller
// owns the result and must Close it.
func Build(cfg *config.KeytraceConfig) (*Components, error) {
	logger := logging.GetLogger()
	comps := &Components{}

	fail := func(err error) (*Components, error) {
		if cerr := comps.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to release components")
		}
		return nil, err
	}

	em, err := emitter.New(cfg.Emitter.Implementation, cfg.Emitter.Binary)
	if err != nil {
		return fail(fmt.Errorf("failed to create emitter: %w", err))
	}
	comps.Emitter = em

	mon, err := monitor.New(monitor.Options{
		Implementation: cfg.Monitor.Implementation,
		Metric:         cfg.Monitor.Metric,
		ProcRoot:       cfg.Monitor.ProcRoot,
		Concurrency:    cfg.Monitor.Concurrency,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create monitor: %w", err))
	}
	comps.Monitor = mon
	if closer, ok := mon.(interface{ Close() error }); ok {
		comps.onClose(closer.Close)
	}

	if err := buildDiscoverers(cfg, comps); err != nil {
		return fail(err)
	}

	names, err := candidates.NewNameResolver(cfg.Monitor.ProcRoot, cfg.Candidates.NameCache)
	if err != nil {
		return fail(fmt.Errorf("failed to create name resolver: %w", err))
	}
	comps.Names = names

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := buildReporters(cfg, hostname, comps); err != nil {
		return fail(err)
	}
	comps.Notifier = buildNotifiers(cfg)

	if cfg.Data.DB.Enabled() {
		idb, err := database.NewInfluxDBClient(cfg.Data.DB)
		if err != nil {
			return fail(fmt.Errorf("failed to create database client: %w", err))
		}
		comps.Store = idb
		comps.onClose(func() error {
			idb.Close()
			return nil
		})
	}

	if cfg.Run.MetricsAddr != "" {
		comps.Recorder = metrics.NewRecorder()
	}

	logger.WithFields(logrus.Fields{
		"emitter":     em.GetName(),
		"monitor":     mon.GetName(),
		"discoverers": len(comps.Discoverers),
		"store":       comps.Store != nil,
		"reporter":    comps.Reporter != nil,
	}).Debug("Components initialized")
	return comps, nil
}

func buildDiscoverers(cfg *config.KeytraceConfig, comps *Components) error {
	c := cfg.Candidates
	if len(c.PIDs) > 0 {
		comps.Discoverers = append(comps.Discoverers, candidates.StaticDiscoverer{PIDs: c.PIDs})
	}
	if c.Discover {
		d, err := candidates.NewProcfsDiscoverer(cfg.Monitor.ProcRoot, c.Include, c.Exclude)
		if err != nil {
			return fmt.Errorf("failed to create process discoverer: %w", err)
		}
		comps.Discoverers = append(comps.Discoverers, d)
	}
	if len(c.Containers) > 0 {
		d, err := candidates.NewDockerDiscoverer(c.Containers, c.IncludeChildren, cfg.Monitor.ProcRoot)
		if err != nil {
			return fmt.Errorf("failed to create container discoverer: %w", err)
		}
		comps.Discoverers = append(comps.Discoverers, d)
		comps.onClose(d.Close)
	}
	return nil
}

func buildReporters(cfg *config.KeytraceConfig, hostname string, comps *Components) error {
	var reporters reporting.Multi

	if h := cfg.Report.HTTP; h.BaseURL != "" {
		hr, err := reporting.NewHTTPReporter(reporting.HTTPConfig{
			BaseURL:   h.BaseURL,
			Secret:    h.Secret,
			Hostname:  hostname,
			Timeout:   time.Duration(h.TimeoutMs) * time.Millisecond,
			RateLimit: h.RateLimit,
			Burst:     h.Burst,
		})
		if err != nil {
			return fmt.Errorf("failed to create http reporter: %w", err)
		}
		reporters = append(reporters, hr)
	}

	if n := cfg.Report.NATS; n.URL != "" {
		nr, err := reporting.NewNATSReporter(n.URL, n.Subject, hostname)
		if err != nil {
			return fmt.Errorf("failed to create nats reporter: %w", err)
		}
		reporters = append(reporters, nr)
		comps.onClose(nr.Close)
	}

	switch len(reporters) {
	case 0:
	case 1:
		comps.Reporter = reporters[0]
	default:
		comps.Reporter = reporters
	}
	return nil
}

func buildNotifiers(cfg *config.KeytraceConfig) notify.Notifier {
	var notifiers notify.Multi
	if cfg.Notify.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier("", cfg.Notify.Urgency))
	}
	if cfg.Notify.Log {
		notifiers = append(notifiers, notify.NewLogNotifier())
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}
