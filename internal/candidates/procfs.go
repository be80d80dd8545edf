package candidates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"keytrace/internal/logging"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

// ProcfsDiscoverer enumerates user space processes from /proc and filters them
// by command name. Kernel threads (empty cmdline) and the running process are
// never candidates.
type ProcfsDiscoverer struct {
	fs      procfs.FS
	include []*regexp.Regexp
	exclude []*regexp.Regexp
	self    int
	logger  *logrus.Logger
}

func NewProcfsDiscoverer(procRoot string, include, exclude []string) (*ProcfsDiscoverer, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procRoot, err)
	}
	inc, err := compileAll(include)
	if err != nil {
		return nil, err
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, err
	}
	return &ProcfsDiscoverer{
		fs:      pfs,
		include: inc,
		exclude: exc,
		self:    os.Getpid(),
		logger:  logging.GetLogger(),
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid process pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (d *ProcfsDiscoverer) GetName() string { return "procfs" }

func (d *ProcfsDiscoverer) Discover(ctx context.Context) ([]int, error) {
	procs, err := d.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var pids []int
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.PID == d.self {
			continue
		}
		cmdline, err := p.CmdLine()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				d.logger.WithField("pid", p.PID).WithError(err).Debug("Failed to read cmdline")
			}
			continue
		}
		if len(cmdline) == 0 {
			continue
		}
		comm, err := p.Comm()
		if err != nil {
			continue
		}
		if !d.matches(comm) {
			continue
		}
		pids = append(pids, p.PID)
	}
	return pids, nil
}

func (d *ProcfsDiscoverer) matches(comm string) bool {
	for _, re := range d.exclude {
		if re.MatchString(comm) {
			return false
		}
	}
	if len(d.include) == 0 {
		return true
	}
	for _, re := range d.include {
		if re.MatchString(comm) {
			return true
		}
	}
	return false
}

// Descendants returns every process below root in the parent tree.
func Descendants(pfs procfs.FS, root int) ([]int, error) {
	procs, err := pfs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	children := make(map[int][]int)
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		children[stat.PPID] = append(children[stat.PPID], p.PID)
	}

	var out []int
	queue := []int{root}
	seen := map[int]bool{root: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}
