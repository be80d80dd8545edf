package candidates

import (
	"context"
	"fmt"

	"keytrace/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

type containerInspector interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	Close() error
}

// DockerDiscoverer maps container names or IDs to their init PIDs, and
// optionally every process the init spawned.
type DockerDiscoverer struct {
	client          containerInspector
	containers      []string
	includeChildren bool
	fs              *procfs.FS
	logger          *logrus.Logger
}

func NewDockerDiscoverer(containers []string, includeChildren bool, procRoot string) (*DockerDiscoverer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	d := &DockerDiscoverer{
		client:          cli,
		containers:      containers,
		includeChildren: includeChildren,
		logger:          logging.GetLogger(),
	}
	if includeChildren {
		if procRoot == "" {
			procRoot = procfs.DefaultMountPoint
		}
		pfs, err := procfs.NewFS(procRoot)
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("failed to open procfs at %s: %w", procRoot, err)
		}
		d.fs = &pfs
	}
	return d, nil
}

func (d *DockerDiscoverer) GetName() string { return "docker" }

func (d *DockerDiscoverer) Discover(ctx context.Context) ([]int, error) {
	var pids []int
	for _, name := range d.containers {
		info, err := d.client.ContainerInspect(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
		}
		if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running || info.State.Pid <= 0 {
			return nil, fmt.Errorf("container %s is not running", name)
		}
		pid := info.State.Pid
		pids = append(pids, pid)

		fields := logrus.Fields{
			"container": name,
			"pid":       pid,
		}
		if d.includeChildren && d.fs != nil {
			children, err := Descendants(*d.fs, pid)
			if err != nil {
				return nil, err
			}
			pids = append(pids, children...)
			fields["children"] = len(children)
		}
		d.logger.WithFields(fields).Debug("Resolved container")
	}
	return pids, nil
}

func (d *DockerDiscoverer) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
