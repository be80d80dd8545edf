package schedule

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"keytrace/internal/errdefs"
)

func TestNew_RejectsInvalidPlans(t *testing.T) {
	cases := []struct {
		name       string
		keys       []int
		intervalMs int
	}{
		{"empty", nil, 100},
		{"negative count", []int{1, -1, 2}, 100},
		{"negative duration", []int{1}, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.keys, tc.intervalMs)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, errdefs.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	keys := []int{1, 2, 3}
	s, err := New(keys, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keys[0] = 99
	if s.Keys(0) != 1 {
		t.Fatalf("schedule mutated through caller slice: %d", s.Keys(0))
	}
	out := s.KeysPerInterval()
	out[1] = 42
	if s.Keys(1) != 2 {
		t.Fatalf("schedule mutated through accessor slice: %d", s.Keys(1))
	}
}

func TestNew_ZeroDurationAllowed(t *testing.T) {
	s, err := New([]int{0, 3}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.IntervalDuration() != 0 {
		t.Fatalf("expected zero duration, got %v", s.IntervalDuration())
	}
}

func TestSchedule_TotalsAndDuration(t *testing.T) {
	s, err := New([]int{5, 5, 5}, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Len() != 3 || s.TotalKeys() != 15 {
		t.Fatalf("unexpected len/total: %d/%d", s.Len(), s.TotalKeys())
	}
	if got := s.Duration(20); got != 360*time.Millisecond {
		t.Fatalf("expected 360ms, got %v", got)
	}
}

func TestChecksum_StableAndSensitive(t *testing.T) {
	a, _ := New([]int{0, 10, 0}, 200)
	b, _ := New([]int{0, 10, 0}, 200)
	c, _ := New([]int{0, 10, 1}, 200)

	ca, err := Checksum(a)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	cb, _ := Checksum(b)
	cc, _ := Checksum(c)
	if ca != cb {
		t.Fatalf("expected equal checksums, got %q vs %q", ca, cb)
	}
	if ca == cc {
		t.Fatalf("expected checksum to change, got %q", ca)
	}
	if len(ca) != 6 {
		t.Fatalf("expected 6-char checksum, got %q", ca)
	}
}

func TestGenerate_Patterns(t *testing.T) {
	alt, err := Generate(GeneratorConfig{Pattern: PatternAlternating, Intervals: 4, IntervalMs: 100, MinKeys: 0, MaxKeys: 8}, nil)
	if err != nil {
		t.Fatalf("alternating: %v", err)
	}
	want := []int{8, 0, 8, 0}
	for i, k := range want {
		if alt.Keys(i) != k {
			t.Fatalf("alternating[%d]: expected %d, got %d", i, k, alt.Keys(i))
		}
	}

	ramp, err := Generate(GeneratorConfig{Pattern: PatternRamp, Intervals: 5, IntervalMs: 100, MinKeys: 0, MaxKeys: 8}, nil)
	if err != nil {
		t.Fatalf("ramp: %v", err)
	}
	if ramp.Keys(0) != 0 || ramp.Keys(4) != 8 || ramp.Keys(2) != 4 {
		t.Fatalf("unexpected ramp: %v", ramp.KeysPerInterval())
	}

	rng := rand.New(rand.NewSource(7))
	rnd, err := Generate(GeneratorConfig{Pattern: PatternRandom, Intervals: 50, IntervalMs: 100, MinKeys: 2, MaxKeys: 6}, rng)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	for i := 0; i < rnd.Len(); i++ {
		if rnd.Keys(i) < 2 || rnd.Keys(i) > 6 {
			t.Fatalf("random[%d]=%d outside [2,6]", i, rnd.Keys(i))
		}
	}

	exp, err := Generate(GeneratorConfig{Pattern: PatternExplicit, IntervalMs: 200, Keys: []int{0, 10, 0}}, nil)
	if err != nil {
		t.Fatalf("explicit: %v", err)
	}
	if exp.Len() != 3 || exp.Keys(1) != 10 {
		t.Fatalf("unexpected explicit schedule: %v", exp.KeysPerInterval())
	}
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	cases := []GeneratorConfig{
		{Pattern: PatternRandom, Intervals: 0, IntervalMs: 100, MaxKeys: 3},
		{Pattern: PatternRandom, Intervals: 3, IntervalMs: 100, MinKeys: 5, MaxKeys: 3},
		{Pattern: "sawtooth", Intervals: 3, IntervalMs: 100, MaxKeys: 3},
		{Pattern: PatternExplicit, IntervalMs: 100},
	}
	for _, cfg := range cases {
		if _, err := Generate(cfg, nil); !errors.Is(err, errdefs.ErrConfiguration) {
			t.Fatalf("%+v: expected configuration error, got %v", cfg, err)
		}
	}
}
