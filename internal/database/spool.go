package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keytrace/internal/dataframe"
	"keytrace/internal/detector"
	"keytrace/internal/injector"

	"github.com/klauspost/compress/gzip"
)

type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID            string `json:"run_id"`
	RunName          string `json:"run_name"`
	ScheduleChecksum string `json:"schedule_checksum"`

	KeysPerInterval []int `json:"keys_per_interval"`
	IntervalMs      int   `json:"interval_ms"`

	ConfigContent string `json:"config_content"`

	Outcome  *injector.RunOutcome       `json:"outcome"`
	History  map[int][]dataframe.Step   `json:"history"`
	Results  []detector.DetectionResult `json:"results"`
	Metadata *RunMetadata               `json:"metadata"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("KEYTRACE_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ScheduleChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	runID := artifact.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	name := fmt.Sprintf(
		"run_%s_%s_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		runID,
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &artifact, nil
}

// BuildSpoolArtifact constructs a spool artifact from the in-memory run results.
func BuildSpoolArtifact(
	runName string,
	keysPerInterval []int,
	intervalMs int,
	checksum string,
	configContent string,
	outcome *injector.RunOutcome,
	results []detector.DetectionResult,
	metadata *RunMetadata,
) *SpoolArtifact {
	artifact := &SpoolArtifact{
		Version:          1,
		CreatedAt:        time.Now(),
		RunName:          runName,
		ScheduleChecksum: checksum,
		KeysPerInterval:  keysPerInterval,
		IntervalMs:       intervalMs,
		ConfigContent:    configContent,
		Outcome:          outcome,
		Results:          results,
		Metadata:         metadata,
	}
	if outcome != nil {
		artifact.RunID = outcome.RunID
		if outcome.Frames != nil {
			artifact.History = outcome.History()
		}
	}
	return artifact
}
