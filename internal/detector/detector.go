package detector

import (
	"fmt"
	"sort"
	"time"

	"keytrace/internal/errdefs"
	"keytrace/internal/injector"
	"keytrace/internal/logging"

	"github.com/sirupsen/logrus"
)

const (
	DefaultThreshold  = 0.7
	DefaultMinSamples = 3
)

// DetectionResult is the verdict for one monitored process.
type DetectionResult struct {
	ProcessID   int       `json:"process_id"`
	ProcessName string    `json:"process_name"`
	Correlation float64   `json:"correlation"`
	Detected    bool      `json:"detected"`
	Samples     int       `json:"samples"`
	Gaps        int       `json:"gaps"`
	Degenerate  bool      `json:"degenerate"`
	Threshold   float64   `json:"threshold"`
	RunID       string    `json:"run_id"`
	Complete    bool      `json:"complete"`
	DetectedAt  time.Time `json:"detected_at"`
}

func (r DetectionResult) String() string {
	return fmt.Sprintf("%s (PID: %d) correlation=%.4f detected=%t", r.ProcessName, r.ProcessID, r.Correlation, r.Detected)
}

// NameFunc resolves a PID to a display name. It may return "".
type NameFunc func(pid int) string

type Detector struct {
	Threshold  float64
	MinSamples int
	logger     *logrus.Logger
}

func New(threshold float64, minSamples int) (*Detector, error) {
	if threshold < -1 || threshold > 1 {
		return nil, errdefs.Configuration("threshold %v outside [-1, 1]", threshold)
	}
	if minSamples < 0 {
		return nil, errdefs.Configuration("min samples must not be negative")
	}
	if minSamples < 2 {
		minSamples = 2
	}
	return &Detector{
		Threshold:  threshold,
		MinSamples: minSamples,
		logger:     logging.GetLogger(),
	}, nil
}

// Evaluate scores every process of outcome and returns one result per PID in
// ascending PID order. Partial outcomes are evaluated on what was gathered;
// the result carries Complete=false.
func (d *Detector) Evaluate(outcome *injector.RunOutcome, names NameFunc) []DetectionResult {
	if outcome == nil || outcome.Frames == nil {
		return nil
	}

	now := time.Now()
	history := outcome.History()
	pids := make([]int, 0, len(history))
	for pid := range history {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	results := make([]DetectionResult, 0, len(pids))
	for _, pid := range pids {
		score := ScoreSteps(history[pid])
		if score.Samples < d.MinSamples {
			score.Degenerate = true
			score.Correlation = 0
		}

		name := ""
		if names != nil {
			name = names(pid)
		}
		if name == "" {
			name = fmt.Sprintf("pid-%d", pid)
		}

		result := DetectionResult{
			ProcessID:   pid,
			ProcessName: name,
			Correlation: score.Correlation,
			Detected:    !score.Degenerate && score.Correlation >= d.Threshold,
			Samples:     score.Samples,
			Gaps:        score.Gaps,
			Degenerate:  score.Degenerate,
			Threshold:   d.Threshold,
			RunID:       outcome.RunID,
			Complete:    outcome.Complete,
			DetectedAt:  now,
		}
		results = append(results, result)

		entry := d.logger.WithFields(logrus.Fields{
			"run_id":      outcome.RunID,
			"pid":         pid,
			"process":     name,
			"correlation": fmt.Sprintf("%.4f", result.Correlation),
			"samples":     result.Samples,
			"gaps":        result.Gaps,
		})
		switch {
		case result.Detected:
			entry.Warn("Process activity follows injected keystrokes")
		case result.Degenerate:
			entry.Debug("Correlation undefined for process")
		default:
			entry.Debug("Process scored")
		}
	}
	return results
}

// Detected filters results down to positive verdicts.
func Detected(results []DetectionResult) []DetectionResult {
	var out []DetectionResult
	for _, r := range results {
		if r.Detected {
			out = append(out, r)
		}
	}
	return out
}
