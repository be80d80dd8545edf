package candidates

import (
	"fmt"
	"strings"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/procfs"
)

const defaultNameCacheSize = 1024

// NameResolver turns PIDs into display names. Names are read from
// /proc/<pid>/comm once and cached.
type NameResolver struct {
	fs    procfs.FS
	cache *lru.Cache[int, string]
}

func NewNameResolver(procRoot string, size int) (*NameResolver, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	if size <= 0 {
		size = defaultNameCacheSize
	}
	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procRoot, err)
	}
	cache, err := lru.New[int, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}
	return &NameResolver{fs: pfs, cache: cache}, nil
}

// Name returns the command name of pid, or "" once the process is gone.
func (r *NameResolver) Name(pid int) string {
	if name, ok := r.cache.Get(pid); ok {
		return name
	}
	proc, err := r.fs.Proc(pid)
	if err != nil {
		return ""
	}
	comm, err := proc.Comm()
	if err != nil {
		return ""
	}
	comm = strings.TrimSpace(comm)
	r.cache.Add(pid, comm)
	return comm
}

// Warm caches the names of pids while the processes are still alive.
func (r *NameResolver) Warm(pids []int) {
	for _, pid := range pids {
		r.Name(pid)
	}
}
