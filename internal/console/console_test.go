package console

import (
	"bytes"
	"strings"
	"testing"

	"keytrace/internal/detector"
)

func TestProgressWritesStatusAndCounter(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 4)
	p.OnStatus("Interval 1/4: injecting 3 keys over 100ms.")
	p.OnProgress(1)

	out := buf.String()
	if !strings.Contains(out, "Interval 1/4: injecting 3 keys over 100ms.") {
		t.Fatalf("status missing from %q", out)
	}
	if !strings.Contains(out, "2/4") {
		t.Fatalf("counter missing from %q", out)
	}
}

func TestRenderResults(t *testing.T) {
	out := RenderResults([]detector.DetectionResult{
		{ProcessID: 10, ProcessName: "logkeys", Correlation: 0.98, Detected: true, Samples: 20},
		{ProcessID: 11, ProcessName: "bash", Correlation: 0.02, Samples: 20, Threshold: 0.7},
		{ProcessID: 12, ProcessName: "idle", Degenerate: true, Samples: 20},
	}, false)

	for _, want := range []string{"KEYLOGGER", "clean", "undefined", "1 of 3 processes flagged", "run incomplete"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
