// Package reporting delivers detection results to remote collectors.
//
// Reporters own their transport policy. The detection engine calls Report once
// per result and never retries; a false return only gets logged.
package reporting

import (
	"context"
	"time"

	"keytrace/internal/detector"
)

type Reporter interface {
	Report(ctx context.Context, result detector.DetectionResult) bool
	GetName() string
}

// KeyloggerLog is the record the backend's Keylogger/add endpoint accepts.
type KeyloggerLog struct {
	ProcessID   int       `json:"process_Id"`
	ProcessName string    `json:"process_Name"`
	Correlation float64   `json:"correlation"`
	IsDetected  bool      `json:"is_Detected"`
	DetectedAt  time.Time `json:"detected_At"`
	RunID       string    `json:"run_Id,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
}

func NewKeyloggerLog(result detector.DetectionResult, hostname string) KeyloggerLog {
	return KeyloggerLog{
		ProcessID:   result.ProcessID,
		ProcessName: result.ProcessName,
		Correlation: result.Correlation,
		IsDetected:  result.Detected,
		DetectedAt:  result.DetectedAt,
		RunID:       result.RunID,
		Hostname:    hostname,
	}
}

// Multi fans a result out to every reporter. It reports success only when all
// of them succeeded.
type Multi []Reporter

func (m Multi) GetName() string { return "multi" }

func (m Multi) Report(ctx context.Context, result detector.DetectionResult) bool {
	ok := true
	for _, r := range m {
		if !r.Report(ctx, result) {
			ok = false
		}
	}
	return ok
}
