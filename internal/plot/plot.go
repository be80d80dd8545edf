// Package plot renders a spooled run as a pgfplots TikZ figure: the injected
// keystrokes per interval next to the activity of each watched process.
package plot

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"text/template"
	"time"

	"keytrace/internal/database"
	"keytrace/internal/dataframe"
	"keytrace/internal/detector"
	"keytrace/internal/logging"

	"github.com/sirupsen/logrus"
)

type PlotOptions struct {
	// PIDs restricts the figure to these processes. Empty plots every
	// detected process, or all of them when none was detected.
	PIDs []int
	// Normalize scales every series to [0, 1] so that shapes compare on a
	// single axis.
	Normalize bool
}

type Generator struct {
	logger *logrus.Logger
}

func NewGenerator() *Generator {
	return &Generator{logger: logging.GetLogger()}
}

// Generate returns the TikZ figure and its LaTeX wrapper.
func (g *Generator) Generate(artifact *database.SpoolArtifact, opts PlotOptions) (string, string, error) {
	if artifact == nil {
		return "", "", fmt.Errorf("spool artifact is nil")
	}
	if len(artifact.KeysPerInterval) == 0 {
		return "", "", fmt.Errorf("run %s has no schedule", artifact.RunID)
	}

	pids := selectPIDs(artifact, opts.PIDs)
	if len(pids) == 0 {
		return "", "", fmt.Errorf("run %s has no matching processes", artifact.RunID)
	}

	g.logger.WithFields(logrus.Fields{
		"run_id":    artifact.RunID,
		"pids":      pids,
		"normalize": opts.Normalize,
	}).Info("Generating run plot")

	plotData := g.preparePlotData(artifact, pids, opts)
	plotOutput, err := render("plot", PlotTemplate, plotData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render plot: %w", err)
	}

	wrapperOutput, err := render("wrapper", WrapperTemplate, g.prepareWrapperData(artifact, pids))
	if err != nil {
		return "", "", fmt.Errorf("failed to render wrapper: %w", err)
	}

	return plotOutput, wrapperOutput, nil
}

func selectPIDs(artifact *database.SpoolArtifact, requested []int) []int {
	var pids []int
	switch {
	case len(requested) > 0:
		for _, pid := range requested {
			if _, ok := artifact.History[pid]; ok {
				pids = append(pids, pid)
			}
		}
	default:
		for _, r := range detector.Detected(artifact.Results) {
			if _, ok := artifact.History[r.ProcessID]; ok {
				pids = append(pids, r.ProcessID)
			}
		}
		if len(pids) == 0 {
			for pid := range artifact.History {
				pids = append(pids, pid)
			}
		}
	}
	sort.Ints(pids)
	return pids
}

func (g *Generator) preparePlotData(artifact *database.SpoolArtifact, pids []int, opts PlotOptions) *PlotData {
	results := make(map[int]detector.DetectionResult, len(artifact.Results))
	for _, r := range artifact.Results {
		results[r.ProcessID] = r
	}

	keys := make([]float64, len(artifact.KeysPerInterval))
	for i, k := range artifact.KeysPerInterval {
		keys[i] = float64(k)
	}
	schedule := PlotSeries{
		Comment:     fmt.Sprintf("schedule %s", artifact.ScheduleChecksum),
		Style:       ScheduleStyle.ToTikzOptions(),
		LegendEntry: "injected keys",
	}
	yMax := 0.0
	for i, v := range scale(keys, opts.Normalize) {
		schedule.Coordinates = append(schedule.Coordinates, coordinate(i+1, v))
		yMax = math.Max(yMax, v)
	}

	series := []PlotSeries{schedule}
	for idx, pid := range pids {
		steps := artifact.History[pid]
		sampled := sampledSteps(steps)

		values := make([]float64, len(sampled))
		for i, s := range sampled {
			values[i] = s.Activity
		}
		values = scale(values, opts.Normalize)

		r, ok := results[pid]
		name := fmt.Sprintf("pid-%d", pid)
		legend := name
		if ok {
			name = r.ProcessName
			legend = fmt.Sprintf("%s (%d), r=%.3f", r.ProcessName, pid, r.Correlation)
		}

		s := PlotSeries{
			Comment:     fmt.Sprintf("process %s pid=%d sampled=%d gaps=%d", name, pid, len(sampled), len(steps)-len(sampled)),
			Style:       GetProcessStyle(idx).ToTikzOptions(),
			LegendEntry: legend,
		}
		for i, step := range sampled {
			s.Coordinates = append(s.Coordinates, coordinate(step.Interval+1, values[i]))
			yMax = math.Max(yMax, values[i])
		}
		series = append(series, s)
	}

	yLabel := "keys / activity"
	yMaxStr := fmt.Sprintf("%.2f", yMax*1.05)
	if opts.Normalize {
		yLabel = "normalized value"
		yMaxStr = "1.05"
	}
	if yMax == 0 {
		yMaxStr = "1"
	}

	complete := false
	if artifact.Outcome != nil {
		complete = artifact.Outcome.Complete
	}
	host := ""
	if artifact.Metadata != nil {
		host = artifact.Metadata.Hostname
	}

	return &PlotData{
		GeneratedDate:    time.Now().Format("2006-01-02 15:04:05"),
		RunID:            artifact.RunID,
		RunName:          artifact.RunName,
		ScheduleChecksum: artifact.ScheduleChecksum,
		Intervals:        len(artifact.KeysPerInterval),
		IntervalMs:       artifact.IntervalMs,
		Complete:         complete,
		Normalized:       opts.Normalize,
		Host:             host,
		XLabel:           "interval",
		YLabel:           yLabel,
		XMin:             "1",
		XMax:             fmt.Sprintf("%d", len(artifact.KeysPerInterval)),
		YMin:             "0",
		YMax:             yMaxStr,
		Plots:            series,
	}
}

func (g *Generator) prepareWrapperData(artifact *database.SpoolArtifact, pids []int) *WrapperData {
	short := artifact.RunID
	if len(short) > 8 {
		short = short[:8]
	}
	return &WrapperData{
		GeneratedDate: time.Now().Format("2006-01-02 15:04:05"),
		RunID:         artifact.RunID,
		Label:         short,
		PlotFileName:  fmt.Sprintf("keytrace-%s.tikz", short),
		ShortCaption:  fmt.Sprintf("Keystroke correlation of run %s", short),
		Caption:       fmt.Sprintf("Injected keystrokes per interval and the activity of %d watched processes", len(pids)),
	}
}

func sampledSteps(steps []dataframe.Step) []dataframe.Step {
	out := make([]dataframe.Step, 0, len(steps))
	for _, s := range steps {
		if s.Sampled {
			out = append(out, s)
		}
	}
	return out
}

// scale divides by the largest magnitude when normalize is set. All-zero
// series stay at zero.
func scale(values []float64, normalize bool) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if !normalize {
		return out
	}
	peak := 0.0
	for _, v := range values {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return out
	}
	for i := range out {
		out[i] /= peak
	}
	return out
}

func coordinate(x int, y float64) string {
	return fmt.Sprintf("(%d,%.6f)", x, y)
}

func render(name, text string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
