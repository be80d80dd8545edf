// Package notify presents positive verdicts to the user.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"keytrace/internal/detector"
	"keytrace/internal/logging"

	"github.com/sirupsen/logrus"
)

// Notifier is a sink for detection results. Results that are not detections
// are ignored.
type Notifier interface {
	Notify(result detector.DetectionResult)
}

const title = "Potential Keylogger Detected!"

// Lines returns the toast text for result.
func Lines(result detector.DetectionResult) []string {
	return []string{
		title,
		fmt.Sprintf("Process: %s (PID: %d)", result.ProcessName, result.ProcessID),
		fmt.Sprintf("Correlation: %.4f", result.Correlation),
	}
}

type commandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// DesktopNotifier shows a desktop toast through notify-send.
type DesktopNotifier struct {
	binary  string
	urgency string
	timeout time.Duration
	run     commandRunner
	logger  *logrus.Logger
}

func NewDesktopNotifier(binary, urgency string) *DesktopNotifier {
	if binary == "" {
		binary = "notify-send"
	}
	if urgency == "" {
		urgency = "critical"
	}
	return &DesktopNotifier{
		binary:  binary,
		urgency: urgency,
		timeout: 5 * time.Second,
		run:     execRunner,
		logger:  logging.GetLogger(),
	}
}

func (n *DesktopNotifier) Notify(result detector.DetectionResult) {
	if !result.Detected {
		return
	}
	lines := Lines(result)
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	args := []string{
		"--urgency=" + n.urgency,
		"--app-name=keytrace",
		"--icon=dialog-warning",
		lines[0],
		strings.Join(lines[1:], "\n"),
	}
	if err := n.run(ctx, n.binary, args...); err != nil {
		n.logger.WithField("pid", result.ProcessID).WithError(err).Warn("Failed to show notification")
		return
	}
	n.logger.WithField("pid", result.ProcessID).Info("Notification shown")
}

// LogNotifier writes detections as warnings to the application log.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.GetLogger()}
}

func (n *LogNotifier) Notify(result detector.DetectionResult) {
	if !result.Detected {
		return
	}
	n.logger.WithFields(logrus.Fields{
		"pid":         result.ProcessID,
		"process":     result.ProcessName,
		"correlation": fmt.Sprintf("%.4f", result.Correlation),
		"run_id":      result.RunID,
	}).Warn(title)
}

// Multi forwards to every notifier.
type Multi []Notifier

func (m Multi) Notify(result detector.DetectionResult) {
	for _, n := range m {
		n.Notify(result)
	}
}
