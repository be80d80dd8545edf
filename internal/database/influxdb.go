package database

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"keytrace/internal/config"
	"keytrace/internal/detector"
	"keytrace/internal/injector"
	"keytrace/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	measurementIntervals  = "keytrace_intervals"
	measurementDetections = "keytrace_detections"
	measurementRuns       = "keytrace_runs"
)

// RunMetadata describes one detection run.
type RunMetadata struct {
	RunID            string  `json:"run_id"`
	RunName          string  `json:"run_name"`
	Description      string  `json:"description"`
	ScheduleChecksum string  `json:"schedule_checksum"`
	DurationSeconds  float64 `json:"duration_seconds"`
	RunStarted       string  `json:"run_started"`
	RunFinished      string  `json:"run_finished"`
	Complete         bool    `json:"complete"`
	PlannedIntervals int     `json:"planned_intervals"`
	Intervals        int     `json:"intervals"`
	IntervalMs       int     `json:"interval_ms"`
	OffsetMs         int     `json:"offset_ms"`
	TotalKeys        int     `json:"total_keys"`
	Candidates       int     `json:"candidates"`
	Detected         int     `json:"detected"`
	Threshold        float64 `json:"threshold"`
	Emitter          string  `json:"emitter"`
	Monitor          string  `json:"monitor"`
	Metric           string  `json:"metric"`
	DriverVersion    string  `json:"driver_version"`
	Hostname         string  `json:"hostname"`
	OSInfo           string  `json:"os_info"`
	KernelVersion    string  `json:"kernel_version"`
	CPUVendor        string  `json:"cpu_vendor"`
	CPUModel         string  `json:"cpu_model"`
	CPUThreads       int     `json:"cpu_threads"`
	ConfigFile       string  `json:"config_file"`
}

// SystemInfo contains host system information
type SystemInfo struct {
	Hostname      string
	OSInfo        string
	KernelVersion string
	CPUVendor     string
	CPUModel      string
	CPUThreads    int
}

// CollectSystemInfo gathers host information from procRoot (normally /proc).
func CollectSystemInfo(procRoot string) *SystemInfo {
	if procRoot == "" {
		procRoot = "/proc"
	}
	info := &SystemInfo{
		Hostname:      "unknown",
		OSInfo:        runtime.GOOS + "/" + runtime.GOARCH,
		KernelVersion: "unknown",
		CPUVendor:     "unknown",
		CPUModel:      "unknown",
		CPUThreads:    runtime.NumCPU(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if data, err := os.ReadFile(procRoot + "/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.KernelVersion = parts[2]
		}
	}

	if data, err := os.ReadFile(procRoot + "/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			switch strings.TrimSpace(key) {
			case "vendor_id":
				info.CPUVendor = strings.TrimSpace(value)
			case "model name":
				info.CPUModel = strings.TrimSpace(value)
			}
		}
	}
	return info
}

// CollectRunMetadata summarizes a run for storage.
func CollectRunMetadata(cfg *config.KeytraceConfig, configContent, checksum string, outcome *injector.RunOutcome, results []detector.DetectionResult, totalKeys int, emitterName, monitorName, driverVersion string) *RunMetadata {
	sysInfo := CollectSystemInfo(cfg.Monitor.ProcRoot)

	detected := 0
	for _, r := range results {
		if r.Detected {
			detected++
		}
	}

	return &RunMetadata{
		RunID:            outcome.RunID,
		RunName:          cfg.Run.Name,
		Description:      cfg.Run.Description,
		ScheduleChecksum: checksum,
		DurationSeconds:  outcome.Duration().Seconds(),
		RunStarted:       outcome.Started.Format(time.RFC3339),
		RunFinished:      outcome.Finished.Format(time.RFC3339),
		Complete:         outcome.Complete,
		PlannedIntervals: outcome.Planned,
		Intervals:        outcome.Intervals,
		IntervalMs:       cfg.Schedule.IntervalMs,
		OffsetMs:         cfg.Run.OffsetMs,
		TotalKeys:        totalKeys,
		Candidates:       len(outcome.PIDs),
		Detected:         detected,
		Threshold:        cfg.Run.Threshold,
		Emitter:          emitterName,
		Monitor:          monitorName,
		Metric:           cfg.Monitor.Metric,
		DriverVersion:    driverVersion,
		Hostname:         sysInfo.Hostname,
		OSInfo:           sysInfo.OSInfo,
		KernelVersion:    sysInfo.KernelVersion,
		CPUVendor:        sysInfo.CPUVendor,
		CPUModel:         sysInfo.CPUModel,
		CPUThreads:       sysInfo.CPUThreads,
		ConfigFile:       configContent,
	}
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI pointWriter
	bucket   string
	org      string
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":   config.Host,
			"status": health.Status,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s", config.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Name),
		bucket:   config.Name,
		org:      config.Org,
	}, nil
}

// WriteRun stores every recorded interval of every process plus one verdict
// point per process.
func (idb *InfluxDBClient) WriteRun(ctx context.Context, outcome *injector.RunOutcome, results []detector.DetectionResult) error {
	names := make(map[int]string, len(results))
	for _, r := range results {
		names[r.ProcessID] = r.ProcessName
	}

	var points []*write.Point
	for pid, steps := range outcome.History() {
		tags := map[string]string{
			"run_id":  outcome.RunID,
			"pid":     strconv.Itoa(pid),
			"process": names[pid],
		}
		for _, step := range steps {
			fields := map[string]interface{}{
				"interval": step.Interval,
				"injected": step.Injected,
				"sampled":  step.Sampled,
			}
			// gaps carry no activity value
			if step.Sampled {
				fields["activity"] = step.Activity
			}
			points = append(points, influxdb2.NewPoint(measurementIntervals, tags, fields, step.Timestamp))
		}
	}

	for _, r := range results {
		points = append(points, influxdb2.NewPoint(measurementDetections,
			map[string]string{
				"run_id":   r.RunID,
				"pid":      strconv.Itoa(r.ProcessID),
				"process":  r.ProcessName,
				"detected": strconv.FormatBool(r.Detected),
			},
			map[string]interface{}{
				"correlation": r.Correlation,
				"samples":     r.Samples,
				"gaps":        r.Gaps,
				"degenerate":  r.Degenerate,
				"threshold":   r.Threshold,
				"complete":    r.Complete,
			},
			r.DetectedAt))
	}

	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write data points: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	point := influxdb2.NewPoint(measurementRuns,
		map[string]string{
			"run_id": metadata.RunID,
		},
		map[string]interface{}{
			"run_name":          metadata.RunName,
			"description":       metadata.Description,
			"schedule_checksum": metadata.ScheduleChecksum,
			"duration_seconds":  metadata.DurationSeconds,
			"run_started":       metadata.RunStarted,
			"run_finished":      metadata.RunFinished,
			"complete":          metadata.Complete,
			"planned_intervals": metadata.PlannedIntervals,
			"intervals":         metadata.Intervals,
			"interval_ms":       metadata.IntervalMs,
			"offset_ms":         metadata.OffsetMs,
			"total_keys":        metadata.TotalKeys,
			"candidates":        metadata.Candidates,
			"detected":          metadata.Detected,
			"threshold":         metadata.Threshold,
			"emitter":           metadata.Emitter,
			"monitor":           metadata.Monitor,
			"metric":            metadata.Metric,
			"driver_version":    metadata.DriverVersion,
			"hostname":          metadata.Hostname,
			"os_info":           metadata.OSInfo,
			"kernel_version":    metadata.KernelVersion,
			"cpu_vendor":        metadata.CPUVendor,
			"cpu_model":         metadata.CPUModel,
			"cpu_threads":       metadata.CPUThreads,
			"config_file":       metadata.ConfigFile,
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
