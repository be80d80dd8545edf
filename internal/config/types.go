package config

import (
	"time"
)

type KeytraceConfig struct {
	Run        RunInfo          `yaml:"run"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Candidates CandidatesConfig `yaml:"candidates"`
	Emitter    EmitterConfig    `yaml:"emitter"`
	Data       DataConfig       `yaml:"data"`
	Report     ReportConfig     `yaml:"report"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type RunInfo struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	LogLevel    string  `yaml:"log_level"`
	Threshold   float64 `yaml:"threshold"`
	MinSamples  int     `yaml:"min_samples"`
	// OffsetMs (T) is added to every interval's length.
	OffsetMs         int    `yaml:"offset_ms"`
	MonitorTimeoutMs int    `yaml:"monitor_timeout_ms"`
	OnMonitorFailure string `yaml:"on_monitor_failure"`
	Seed             int64  `yaml:"seed"`
	SpoolDir         string `yaml:"spool_dir"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

type ScheduleConfig struct {
	Pattern    string `yaml:"pattern"`
	Intervals  int    `yaml:"intervals"`
	IntervalMs int    `yaml:"interval_ms"`
	MinKeys    int    `yaml:"min_keys"`
	MaxKeys    int    `yaml:"max_keys"`
	Keys       []int  `yaml:"keys,omitempty"`
}

type MonitorConfig struct {
	Implementation string `yaml:"implementation"`
	Metric         string `yaml:"metric"`
	ProcRoot       string `yaml:"proc_root"`
	Concurrency    int    `yaml:"concurrency"`
}

type CandidatesConfig struct {
	PIDs            []int    `yaml:"pids,omitempty"`
	Discover        bool     `yaml:"discover"`
	Include         []string `yaml:"include,omitempty"`
	Exclude         []string `yaml:"exclude,omitempty"`
	Containers      []string `yaml:"containers,omitempty"`
	IncludeChildren bool     `yaml:"include_children"`
	NameCache       int      `yaml:"name_cache"`
}

type EmitterConfig struct {
	Implementation string `yaml:"implementation"`
	Binary         string `yaml:"binary,omitempty"`
	Charset        string `yaml:"charset,omitempty"`
}

type DataConfig struct {
	DB DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether results should be written to InfluxDB.
func (db DatabaseConfig) Enabled() bool {
	return db.Host != ""
}

type ReportConfig struct {
	HTTP HTTPReportConfig `yaml:"http"`
	NATS NATSReportConfig `yaml:"nats"`
	// OnlyDetected skips uploading negative verdicts.
	OnlyDetected bool `yaml:"only_detected"`
}

type HTTPReportConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Secret    string  `yaml:"secret,omitempty"`
	TimeoutMs int     `yaml:"timeout_ms"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type NATSReportConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type NotifyConfig struct {
	Desktop bool   `yaml:"desktop"`
	Log     bool   `yaml:"log"`
	Urgency string `yaml:"urgency,omitempty"`
}

func (c *KeytraceConfig) MonitorTimeout() time.Duration {
	return time.Duration(c.Run.MonitorTimeoutMs) * time.Millisecond
}
