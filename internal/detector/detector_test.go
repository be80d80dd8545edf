package detector

import (
	"context"
	"math"
	"testing"
	"time"

	"keytrace/internal/dataframe"
	"keytrace/internal/injector"
	"keytrace/internal/monitor"
	"keytrace/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPearson(t *testing.T) {
	tests := []struct {
		name   string
		xs, ys []float64
		want   float64
		ok     bool
	}{
		{"perfect positive", []float64{1, 2, 3, 4}, []float64{3, 5, 7, 9}, 1, true},
		{"perfect negative", []float64{1, 2, 3}, []float64{3, 2, 1}, -1, true},
		{"constant activity", []float64{0, 10, 0}, []float64{4, 4, 4}, 0, false},
		{"constant schedule", []float64{5, 5, 5}, []float64{1, 9, 3}, 0, false},
		{"single pair", []float64{1}, []float64{1}, 0, false},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Pearson(tc.xs, tc.ys)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if math.IsNaN(got) {
				t.Fatalf("got NaN")
			}
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func steps(keys []int, activity []float64, sampled []bool) []dataframe.Step {
	out := make([]dataframe.Step, len(keys))
	for i := range keys {
		out[i] = dataframe.Step{Interval: i, Injected: keys[i], Activity: activity[i], Sampled: sampled == nil || sampled[i]}
	}
	return out
}

func TestScoreStepsLinearActivity(t *testing.T) {
	keys := []int{3, 0, 7, 1, 5}
	activity := make([]float64, len(keys))
	for i, k := range keys {
		activity[i] = 2*float64(k) + 1
	}
	score := ScoreSteps(steps(keys, activity, nil))
	assert.False(t, score.Degenerate)
	assert.InDelta(t, 1.0, score.Correlation, 1e-9)
	assert.Equal(t, 5, score.Samples)
}

func TestScoreStepsSkipsGaps(t *testing.T) {
	// the unsampled interval would break the correlation if it were zero-filled
	score := ScoreSteps(steps(
		[]int{0, 10, 0, 10},
		[]float64{0, 10, 0, 0},
		[]bool{true, true, true, false},
	))
	assert.Equal(t, 3, score.Samples)
	assert.Equal(t, 1, score.Gaps)
	assert.InDelta(t, 1.0, score.Correlation, 1e-9)
}

func TestScoreStepsConstantIsSentinel(t *testing.T) {
	score := ScoreSteps(steps([]int{0, 10, 0}, []float64{2, 2, 2}, nil))
	assert.True(t, score.Degenerate)
	assert.Equal(t, 0.0, score.Correlation)
}

func TestNewRejectsBadThreshold(t *testing.T) {
	_, err := New(1.5, 3)
	require.Error(t, err)
	_, err = New(0.8, -1)
	require.Error(t, err)

	d, err := New(0.8, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, d.MinSamples)
}

func TestEvaluateThresholdTie(t *testing.T) {
	frames := dataframe.NewFrames()
	frame := frames.AddProcess(42)
	for i, s := range steps([]int{1, 2, 3}, []float64{2, 4, 6}, nil) {
		step := s
		step.Interval = i
		require.True(t, frame.Append(&step))
	}
	d, err := New(1.0, 3)
	require.NoError(t, err)

	results := d.Evaluate(&injector.RunOutcome{RunID: "r", Complete: true, PIDs: []int{42}, Frames: frames}, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Detected, "a score equal to the threshold must detect")
	assert.Equal(t, "pid-42", results[0].ProcessName)
	assert.Equal(t, "r", results[0].RunID)
}

func TestEvaluateTooFewSamples(t *testing.T) {
	frames := dataframe.NewFrames()
	frame := frames.AddProcess(7)
	require.True(t, frame.Append(&dataframe.Step{Interval: 0, Injected: 0, Activity: 0, Sampled: true}))
	require.True(t, frame.Append(&dataframe.Step{Interval: 1, Injected: 5, Activity: 5, Sampled: true}))

	d, err := New(0.5, 3)
	require.NoError(t, err)
	results := d.Evaluate(&injector.RunOutcome{PIDs: []int{7}, Frames: frames}, func(int) string { return "logger" })
	require.Len(t, results, 1)
	assert.True(t, results[0].Degenerate)
	assert.False(t, results[0].Detected)
	assert.Equal(t, "logger", results[0].ProcessName)
}

type stubMonitor struct {
	series map[int][]float64
	call   int
}

func (m *stubMonitor) GetName() string { return "stub" }

func (m *stubMonitor) SampleActivity(ctx context.Context, pids []int) (monitor.Sample, error) {
	sample := monitor.Sample{}
	for _, pid := range pids {
		if values, ok := m.series[pid]; ok && m.call < len(values) {
			sample[pid] = values[m.call]
		}
	}
	m.call++
	return sample, ctx.Err()
}

type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time { return c.now }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

type nopEmitter struct{}

func (nopEmitter) GetName() string { return "nop" }
func (nopEmitter) Emit(ctx context.Context, r rune) error { return ctx.Err() }

func TestEndToEndVerdicts(t *testing.T) {
	sched, err := schedule.New([]int{0, 10, 0}, 200)
	require.NoError(t, err)

	mon := &stubMonitor{series: map[int][]float64{
		100: {0, 10, 0},
		200: {3, 1, 4},
	}}
	inj := injector.New(nopEmitter{}, mon, nil, injector.WithClock(&instantClock{now: time.Unix(0, 0)}))

	outcome, err := inj.Run(context.Background(), sched, []int{100, 200}, &injector.RunConfig{})
	require.NoError(t, err)
	require.True(t, outcome.Complete)
	assert.Len(t, outcome.Steps(100), 3)
	assert.Len(t, outcome.Steps(200), 3)

	d, err := New(0.8, 3)
	require.NoError(t, err)
	results := d.Evaluate(outcome, nil)
	require.Len(t, results, 2)

	assert.Equal(t, 100, results[0].ProcessID)
	assert.True(t, results[0].Detected)
	assert.Greater(t, results[0].Correlation, 0.9)

	assert.Equal(t, 200, results[1].ProcessID)
	assert.False(t, results[1].Detected)

	assert.Equal(t, []DetectionResult{results[0]}, Detected(results))
}
