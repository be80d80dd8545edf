package candidates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"keytrace/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProc(t *testing.T, root string, pid, ppid int, comm, cmdline string) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprint(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))
	stat := fmt.Sprintf("%d (%s) S %d %d %d 0 -1 4194560 100 0 0 0 10 5 0 0 20 0 1 0 12345 1000000 200 18446744073709551615 1 1 0 0 0 0 0 0 0 0 0 0 17 3 0 0 0 0 0 0 0 0 0 0 0 0 0\n",
		pid, comm, ppid, pid, pid)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
}

func fakeProcTree(t *testing.T) string {
	root := t.TempDir()
	writeProc(t, root, 1, 0, "init", "/sbin/init\x00")
	writeProc(t, root, 2, 0, "kthreadd", "")
	writeProc(t, root, 300, 1, "xinput", "xinput\x00test-xi2\x00")
	writeProc(t, root, 301, 300, "bash", "bash\x00")
	writeProc(t, root, 302, 301, "python3", "python3\x00keys.py\x00")
	writeProc(t, root, 400, 1, "sshd", "/usr/sbin/sshd\x00")
	return root
}

func TestStaticDiscoverer(t *testing.T) {
	pids, err := StaticDiscoverer{PIDs: []int{5, 3}}.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3}, pids)

	_, err = StaticDiscoverer{PIDs: []int{0}}.Discover(context.Background())
	assert.Error(t, err)
}

type failingDiscoverer struct{}

func (failingDiscoverer) GetName() string { return "failing" }
func (failingDiscoverer) Discover(ctx context.Context) ([]int, error) {
	return nil, errors.New("boom")
}

func TestResolveMergesAndSorts(t *testing.T) {
	pids, err := Resolve(context.Background(),
		StaticDiscoverer{PIDs: []int{9, 3}},
		nil,
		StaticDiscoverer{PIDs: []int{3, 1}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 9}, pids)

	_, err = Resolve(context.Background(), StaticDiscoverer{PIDs: []int{1}}, failingDiscoverer{})
	assert.ErrorContains(t, err, "failing discovery failed")
}

func TestProcfsDiscoverer(t *testing.T) {
	root := fakeProcTree(t)

	d, err := NewProcfsDiscoverer(root, nil, []string{"^sshd$"})
	require.NoError(t, err)
	pids, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 300, 301, 302}, pids, "kernel threads and excluded names are skipped")

	d, err = NewProcfsDiscoverer(root, []string{"^python", "xinput"}, nil)
	require.NoError(t, err)
	pids, err = d.Discover(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{300, 302}, pids)

	_, err = NewProcfsDiscoverer(root, []string{"("}, nil)
	assert.Error(t, err)
}

func TestDescendants(t *testing.T) {
	pfs, err := procfs.NewFS(fakeProcTree(t))
	require.NoError(t, err)

	children, err := Descendants(pfs, 300)
	require.NoError(t, err)
	assert.Equal(t, []int{301, 302}, children)

	children, err = Descendants(pfs, 302)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestNameResolverCachesNames(t *testing.T) {
	root := fakeProcTree(t)
	r, err := NewNameResolver(root, 4)
	require.NoError(t, err)

	assert.Equal(t, "python3", r.Name(302))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "302")))
	assert.Equal(t, "python3", r.Name(302), "cached name survives process exit")
	assert.Equal(t, "", r.Name(999))
}

type fakeInspector struct {
	containers map[string]types.ContainerJSON
	closed     bool
}

func (f *fakeInspector) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	info, ok := f.containers[id]
	if !ok {
		return types.ContainerJSON{}, fmt.Errorf("no such container: %s", id)
	}
	return info, nil
}

func (f *fakeInspector) Close() error {
	f.closed = true
	return nil
}

func container(pid int, running bool) types.ContainerJSON {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			State: &types.ContainerState{Running: running, Pid: pid},
		},
	}
}

func TestDockerDiscoverer(t *testing.T) {
	pfs, err := procfs.NewFS(fakeProcTree(t))
	require.NoError(t, err)
	inspector := &fakeInspector{containers: map[string]types.ContainerJSON{
		"suspect": container(300, true),
		"stopped": container(0, false),
	}}

	d := &DockerDiscoverer{client: inspector, containers: []string{"suspect"}, logger: logging.GetLogger()}
	pids, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{300}, pids)

	d.includeChildren = true
	d.fs = &pfs
	pids, err = d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{300, 301, 302}, pids)

	d.containers = []string{"stopped"}
	_, err = d.Discover(context.Background())
	assert.ErrorContains(t, err, "not running")

	d.containers = []string{"missing"}
	_, err = d.Discover(context.Background())
	assert.Error(t, err)

	require.NoError(t, d.Close())
	assert.True(t, inspector.closed)
}
