package schedule

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"keytrace/internal/errdefs"
)

// Schedule is the ordered plan of how many keystrokes to inject per interval.
// Every interval shares the same duration. A Schedule is never mutated after New.
type Schedule struct {
	keysPerInterval []int
	intervalMs      int
}

// New validates and copies keys. A zero interval duration is accepted and
// means no keys are emitted in any interval.
func New(keys []int, intervalMs int) (*Schedule, error) {
	if len(keys) == 0 {
		return nil, errdefs.Configuration("schedule has no intervals")
	}
	if intervalMs < 0 {
		return nil, errdefs.Configuration("interval duration must not be negative, got %dms", intervalMs)
	}
	for i, k := range keys {
		if k < 0 {
			return nil, errdefs.Configuration("interval %d: key count must not be negative, got %d", i, k)
		}
	}

	cp := make([]int, len(keys))
	copy(cp, keys)
	return &Schedule{keysPerInterval: cp, intervalMs: intervalMs}, nil
}

// Len returns the number of intervals.
func (s *Schedule) Len() int {
	return len(s.keysPerInterval)
}

// Keys returns the number of keys to inject in interval i.
func (s *Schedule) Keys(i int) int {
	return s.keysPerInterval[i]
}

func (s *Schedule) IntervalMs() int {
	return s.intervalMs
}

func (s *Schedule) IntervalDuration() time.Duration {
	return time.Duration(s.intervalMs) * time.Millisecond
}

// KeysPerInterval returns a copy of the plan.
func (s *Schedule) KeysPerInterval() []int {
	cp := make([]int, len(s.keysPerInterval))
	copy(cp, s.keysPerInterval)
	return cp
}

func (s *Schedule) TotalKeys() int {
	total := 0
	for _, k := range s.keysPerInterval {
		total += k
	}
	return total
}

// Duration is the expected wall-clock length of a run over this schedule when
// every interval is stretched by offsetMs.
func (s *Schedule) Duration(offsetMs int) time.Duration {
	per := s.intervalMs + offsetMs
	if per < 0 {
		per = 0
	}
	return time.Duration(per*len(s.keysPerInterval)) * time.Millisecond
}

type checksumPayload struct {
	IntervalMs int   `json:"interval_ms"`
	Keys       []int `json:"keys"`
}

// Checksum returns a short, stable identifier of the schedule: the first 6 hex
// characters of the MD5 over its canonical JSON form.
func Checksum(s *Schedule) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(checksumPayload{IntervalMs: s.intervalMs, Keys: s.keysPerInterval})
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	return hexStr[:6], nil
}
