package plot

import (
	"strings"
	"testing"

	"keytrace/internal/database"
	"keytrace/internal/dataframe"
	"keytrace/internal/detector"
	"keytrace/internal/injector"
)

func testArtifact() *database.SpoolArtifact {
	steps := func(activity []float64, gap int) []dataframe.Step {
		out := make([]dataframe.Step, len(activity))
		for i, a := range activity {
			out[i] = dataframe.Step{Interval: i, Activity: a, Sampled: i != gap}
		}
		return out
	}
	return &database.SpoolArtifact{
		RunID:            "0d5e6a3c-1111-2222-3333-444455556666",
		RunName:          "nightly",
		ScheduleChecksum: "abc123",
		KeysPerInterval:  []int{0, 10, 0, 10},
		IntervalMs:       500,
		Outcome:          &injector.RunOutcome{Complete: true},
		History: map[int][]dataframe.Step{
			11: steps([]float64{0, 40, 2, 38}, -1),
			22: steps([]float64{5, 5, 6, 5}, 2),
		},
		Results: []detector.DetectionResult{
			{ProcessID: 11, ProcessName: "logkeys", Correlation: 0.998, Detected: true},
			{ProcessID: 22, ProcessName: "bash", Correlation: -0.2},
		},
	}
}

func TestGenerateDefaultsToDetectedProcesses(t *testing.T) {
	tikz, wrapper, err := NewGenerator().Generate(testArtifact(), PlotOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(tikz, "logkeys (11), r=0.998") {
		t.Fatalf("missing detected process legend:\n%s", tikz)
	}
	if strings.Contains(tikz, "bash") {
		t.Fatalf("clean process should not be plotted by default")
	}
	if !strings.Contains(tikz, "(2,10.000000)") || !strings.Contains(tikz, "(2,40.000000)") {
		t.Fatalf("missing coordinates:\n%s", tikz)
	}
	if !strings.Contains(wrapper, "keytrace-0d5e6a3c.tikz") {
		t.Fatalf("unexpected wrapper:\n%s", wrapper)
	}
}

func TestGenerateSkipsGapsAndNormalizes(t *testing.T) {
	tikz, _, err := NewGenerator().Generate(testArtifact(), PlotOptions{PIDs: []int{22}, Normalize: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(tikz, "sampled=3 gaps=1") {
		t.Fatalf("gap not reported:\n%s", tikz)
	}
	if strings.Contains(tikz, "(3,1.000000)") {
		t.Fatalf("gap interval must not be plotted:\n%s", tikz)
	}
	if !strings.Contains(tikz, "(2,1.000000)") || !strings.Contains(tikz, "ymax=1.05") {
		t.Fatalf("series not normalized:\n%s", tikz)
	}
}

func TestGenerateErrors(t *testing.T) {
	g := NewGenerator()
	if _, _, err := g.Generate(nil, PlotOptions{}); err == nil {
		t.Fatalf("expected an error for a nil artifact")
	}
	if _, _, err := g.Generate(testArtifact(), PlotOptions{PIDs: []int{99}}); err == nil {
		t.Fatalf("expected an error for unknown pids")
	}
	empty := testArtifact()
	empty.KeysPerInterval = nil
	if _, _, err := g.Generate(empty, PlotOptions{}); err == nil {
		t.Fatalf("expected an error without a schedule")
	}
}

func TestToTikzOptions(t *testing.T) {
	if got := ScheduleStyle.ToTikzOptions(); got != "black,solid,very thick,no marks" {
		t.Fatalf("schedule style = %q", got)
	}
	if got := GetProcessStyle(len(ProcessStyles) + 1); got != ProcessStyles[1] {
		t.Fatalf("styles should wrap around")
	}
}
