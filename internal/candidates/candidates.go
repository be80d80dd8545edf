// Package candidates resolves the set of processes a run monitors.
package candidates

import (
	"context"
	"fmt"
	"sort"

	"keytrace/internal/logging"

	"github.com/sirupsen/logrus"
)

// Discoverer returns candidate PIDs.
type Discoverer interface {
	Discover(ctx context.Context) ([]int, error)
	GetName() string
}

// StaticDiscoverer returns a fixed PID list.
type StaticDiscoverer struct {
	PIDs []int
}

func (s StaticDiscoverer) GetName() string { return "static" }

func (s StaticDiscoverer) Discover(ctx context.Context) ([]int, error) {
	out := make([]int, 0, len(s.PIDs))
	for _, pid := range s.PIDs {
		if pid <= 0 {
			return nil, fmt.Errorf("invalid pid %d", pid)
		}
		out = append(out, pid)
	}
	return out, ctx.Err()
}

// Resolve runs every discoverer and merges their PIDs into one sorted,
// duplicate free set. Any discoverer error fails the whole resolution.
func Resolve(ctx context.Context, discoverers ...Discoverer) ([]int, error) {
	logger := logging.GetLogger()
	seen := make(map[int]bool)
	var pids []int

	for _, d := range discoverers {
		if d == nil {
			continue
		}
		found, err := d.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s discovery failed: %w", d.GetName(), err)
		}
		added := 0
		for _, pid := range found {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			pids = append(pids, pid)
			added++
		}
		logger.WithFields(logrus.Fields{
			"discoverer": d.GetName(),
			"found":      len(found),
			"added":      added,
		}).Debug("Candidates discovered")
	}

	sort.Ints(pids)
	return pids, nil
}
