package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"keytrace/internal/detector"
	"keytrace/internal/logging"
)

func TestLines(t *testing.T) {
	lines := Lines(detector.DetectionResult{ProcessID: 812, ProcessName: "logkeys", Correlation: 0.91234})
	want := []string{
		"Potential Keylogger Detected!",
		"Process: logkeys (PID: 812)",
		"Correlation: 0.9123",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestDesktopNotifierOnlyShowsDetections(t *testing.T) {
	var calls [][]string
	n := NewDesktopNotifier("", "")
	n.run = func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return nil
	}

	n.Notify(detector.DetectionResult{ProcessID: 1, Detected: false})
	if len(calls) != 0 {
		t.Fatalf("notified for a negative verdict")
	}

	n.Notify(detector.DetectionResult{ProcessID: 2, ProcessName: "evil", Correlation: 1, Detected: true})
	if len(calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(calls))
	}
	call := calls[0]
	if call[0] != "notify-send" {
		t.Fatalf("unexpected binary %q", call[0])
	}
	if call[len(call)-2] != "Potential Keylogger Detected!" {
		t.Fatalf("unexpected summary %q", call[len(call)-2])
	}
	if !strings.Contains(call[len(call)-1], "Process: evil (PID: 2)") {
		t.Fatalf("unexpected body %q", call[len(call)-1])
	}
}

func TestDesktopNotifierFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(nil)

	n := NewDesktopNotifier("notify-send", "normal")
	n.run = func(ctx context.Context, name string, args ...string) error {
		return errors.New("no session bus")
	}
	n.Notify(detector.DetectionResult{ProcessID: 3, Detected: true})

	if !strings.Contains(buf.String(), "Failed to show notification") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

type counter struct{ n int }

func (c *counter) Notify(detector.DetectionResult) { c.n++ }

func TestMultiAndLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(nil)

	c := &counter{}
	Multi{c, NewLogNotifier()}.Notify(detector.DetectionResult{ProcessID: 9, ProcessName: "kl", Detected: true})
	if c.n != 1 {
		t.Fatalf("counter notified %d times", c.n)
	}
	if !strings.Contains(buf.String(), "Potential Keylogger Detected!") {
		t.Fatalf("log notifier wrote %q", buf.String())
	}
}
