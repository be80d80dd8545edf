package detector

import (
	"math"

	"keytrace/internal/dataframe"
)

// minVariance below which a series is treated as constant.
const minVariance = 1e-12

// Pearson returns the linear correlation coefficient of xs and ys. ok is false
// when the coefficient is undefined: fewer than two pairs, mismatched lengths
// or a constant series.
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, false
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX < minVariance || varY < minVariance {
		return 0, false
	}

	r := cov / math.Sqrt(varX*varY)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	// rounding can push |r| marginally past 1
	return math.Max(-1, math.Min(1, r)), true
}

// Score is the correlation of one process's series.
type Score struct {
	Correlation float64
	Samples     int
	Gaps        int
	Degenerate  bool
}

// ScoreSteps correlates injected counts against activity over the sampled
// steps only. Unsampled steps are counted as gaps and never enter the
// statistic. A degenerate series scores the sentinel 0.
func ScoreSteps(steps []dataframe.Step) Score {
	xs := make([]float64, 0, len(steps))
	ys := make([]float64, 0, len(steps))
	gaps := 0
	for _, step := range steps {
		if !step.Sampled {
			gaps++
			continue
		}
		xs = append(xs, float64(step.Injected))
		ys = append(ys, step.Activity)
	}

	r, ok := Pearson(xs, ys)
	return Score{
		Correlation: r,
		Samples:     len(xs),
		Gaps:        gaps,
		Degenerate:  !ok,
	}
}
