package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"keytrace/internal/errdefs"
	"keytrace/internal/logging"
	"keytrace/internal/schedule"

	"gopkg.in/yaml.v3"
)

const (
	DefaultThreshold  = 0.7
	DefaultMinSamples = 3
	DefaultIntervals  = 20
	DefaultIntervalMs = 1000
	DefaultMaxKeys    = 10
)

func LoadConfig(filepath string) (*KeytraceConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*KeytraceConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := Parse(originalContent)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// Parse expands ${VAR} references, decodes content, applies defaults and
// validates the result.
func Parse(content string) (*KeytraceConfig, error) {
	expanded := expandEnvVars(content)

	var config KeytraceConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, errdefs.Configuration("failed to parse config: %v", err)
	}
	var set explicitFields
	if err := yaml.Unmarshal([]byte(expanded), &set); err != nil {
		return nil, errdefs.Configuration("failed to parse config: %v", err)
	}

	applyDefaults(&config, set)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// explicitFields records which zero-meaningful keys the file sets, so that an
// explicit 0 is kept instead of being replaced by the default.
type explicitFields struct {
	Run struct {
		Threshold *float64 `yaml:"threshold"`
	} `yaml:"run"`
	Schedule struct {
		IntervalMs *int `yaml:"interval_ms"`
	} `yaml:"schedule"`
}

func applyDefaults(config *KeytraceConfig, set explicitFields) {
	if config.Run.Name == "" {
		config.Run.Name = "keytrace"
	}
	if config.Run.LogLevel == "" {
		config.Run.LogLevel = "info"
	}
	if set.Run.Threshold == nil {
		config.Run.Threshold = DefaultThreshold
	}
	if config.Run.MinSamples == 0 {
		config.Run.MinSamples = DefaultMinSamples
	}
	if config.Run.OnMonitorFailure == "" {
		config.Run.OnMonitorFailure = "gap"
	}

	s := &config.Schedule
	if s.Pattern == "" {
		if len(s.Keys) > 0 {
			s.Pattern = schedule.PatternExplicit
		} else {
			s.Pattern = schedule.PatternRandom
		}
	}
	if s.Pattern != schedule.PatternExplicit && s.Intervals == 0 {
		s.Intervals = DefaultIntervals
	}
	if set.Schedule.IntervalMs == nil {
		s.IntervalMs = DefaultIntervalMs
	}
	if s.MaxKeys == 0 {
		s.MaxKeys = DefaultMaxKeys
	}

	if config.Monitor.Implementation == "" {
		config.Monitor.Implementation = "procfs"
	}
	if config.Monitor.Metric == "" {
		config.Monitor.Metric = "cpu"
	}
	if config.Emitter.Implementation == "" {
		config.Emitter.Implementation = "xdotool"
	}
	if config.Candidates.NameCache == 0 {
		config.Candidates.NameCache = 1024
	}
	if config.Report.NATS.URL != "" && config.Report.NATS.Subject == "" {
		config.Report.NATS.Subject = "keytrace.detections"
	}
}

func validateConfig(config *KeytraceConfig) error {
	run := config.Run
	if run.Threshold < -1 || run.Threshold > 1 {
		return errdefs.Configuration("threshold must be within [-1, 1], got %v", run.Threshold)
	}
	if run.MinSamples < 2 {
		return errdefs.Configuration("min_samples must be at least 2")
	}
	if run.MonitorTimeoutMs < 0 {
		return errdefs.Configuration("monitor_timeout_ms must not be negative")
	}
	switch run.OnMonitorFailure {
	case "gap", "abort":
	default:
		return errdefs.Configuration("on_monitor_failure must be gap or abort, got %q", run.OnMonitorFailure)
	}

	s := config.Schedule
	switch s.Pattern {
	case schedule.PatternRandom, schedule.PatternAlternating, schedule.PatternRamp, schedule.PatternExplicit:
	default:
		return errdefs.Configuration("unknown schedule pattern %q", s.Pattern)
	}
	if s.IntervalMs < 0 {
		return errdefs.Configuration("interval_ms must not be negative")
	}
	if s.Pattern == schedule.PatternExplicit {
		if len(s.Keys) == 0 {
			return errdefs.Configuration("explicit schedule needs keys")
		}
	} else if s.MinKeys < 0 || s.MaxKeys < s.MinKeys {
		return errdefs.Configuration("invalid key range [%d, %d]", s.MinKeys, s.MaxKeys)
	}

	c := config.Candidates
	if len(c.PIDs) == 0 && !c.Discover && len(c.Containers) == 0 {
		return errdefs.Configuration("no candidate source: set candidates.pids, candidates.discover or candidates.containers")
	}
	for _, pid := range c.PIDs {
		if pid <= 0 {
			return errdefs.Configuration("invalid candidate pid %d", pid)
		}
	}

	db := config.Data.DB
	if db.Enabled() && (db.Name == "" || db.Password == "" || db.Org == "") {
		return errdefs.Configuration("incomplete database configuration")
	}

	if config.Report.HTTP.RateLimit < 0 {
		return errdefs.Configuration("report.http.rate_limit must not be negative")
	}
	return nil
}

// GeneratorConfig converts the schedule section for schedule.Generate.
func (c *KeytraceConfig) GeneratorConfig() schedule.GeneratorConfig {
	return schedule.GeneratorConfig{
		Pattern:    c.Schedule.Pattern,
		Intervals:  c.Schedule.Intervals,
		IntervalMs: c.Schedule.IntervalMs,
		MinKeys:    c.Schedule.MinKeys,
		MaxKeys:    c.Schedule.MaxKeys,
		Keys:       c.Schedule.Keys,
	}
}
