package schedule

import (
	"math/rand"
	"strings"

	"keytrace/internal/errdefs"
)

const (
	PatternRandom      = "random"
	PatternAlternating = "alternating"
	PatternRamp        = "ramp"
	PatternExplicit    = "explicit"
)

// GeneratorConfig describes how to derive a schedule.
type GeneratorConfig struct {
	Pattern    string
	Intervals  int
	IntervalMs int
	MinKeys    int
	MaxKeys    int
	Keys       []int // only for PatternExplicit
}

// Generate builds a schedule from cfg. rng is only consulted by the random
// pattern; a nil rng falls back to a time-seeded source.
func Generate(cfg GeneratorConfig, rng *rand.Rand) (*Schedule, error) {
	pattern := strings.ToLower(strings.TrimSpace(cfg.Pattern))
	if pattern == "" {
		pattern = PatternRandom
	}

	if pattern == PatternExplicit {
		return New(cfg.Keys, cfg.IntervalMs)
	}

	if cfg.Intervals <= 0 {
		return nil, errdefs.Configuration("intervals must be greater than 0")
	}
	if cfg.MinKeys < 0 || cfg.MaxKeys < cfg.MinKeys {
		return nil, errdefs.Configuration("invalid key range [%d,%d]", cfg.MinKeys, cfg.MaxKeys)
	}

	keys := make([]int, cfg.Intervals)
	switch pattern {
	case PatternRandom:
		if rng == nil {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}
		span := cfg.MaxKeys - cfg.MinKeys + 1
		for i := range keys {
			keys[i] = cfg.MinKeys + rng.Intn(span)
		}
	case PatternAlternating:
		for i := range keys {
			if i%2 == 0 {
				keys[i] = cfg.MaxKeys
			} else {
				keys[i] = cfg.MinKeys
			}
		}
	case PatternRamp:
		if cfg.Intervals == 1 {
			keys[0] = cfg.MinKeys
			break
		}
		step := float64(cfg.MaxKeys-cfg.MinKeys) / float64(cfg.Intervals-1)
		for i := range keys {
			keys[i] = cfg.MinKeys + int(float64(i)*step+0.5)
		}
	default:
		return nil, errdefs.Configuration("unknown schedule pattern %q", cfg.Pattern)
	}

	return New(keys, cfg.IntervalMs)
}
