package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/hive/pkg/api"
	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/config"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// network routes the peer clients to in-memory listeners, by node name
type network map[string]*bufconn.Listener

func (n network) dialer() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		lis, ok := n[addr]
		if !ok {
			return nil, os.ErrNotExist
		}
		return lis.DialContext(ctx)
	})
}

func testConfig(t *testing.T, name string) *config.Config {
	cfg := config.Default()
	cfg.Node.Name = name
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.GRPCAddr = "127.0.0.1:0"
	cfg.Node.HTTPAddr = "127.0.0.1:0"
	cfg.Cluster.Secret = "s3cret"
	cfg.Cluster.Nodes = []config.Peer{
		{Name: "n1", Addr: "passthrough:///n1"},
		{Name: "n2", Addr: "passthrough:///n2"},
	}
	return cfg
}

// newTestDaemon assembles a daemon and runs its monitor, without the
// servers and the periodic loops
func newTestDaemon(t *testing.T, name string, nw network) *Daemon {
	t.Helper()
	d, err := New(testConfig(t, name), Options{DialOptions: []grpc.DialOption{nw.dialer()}})
	require.NoError(t, err)

	d.broker.Start()
	d.monitor.Start()
	t.Cleanup(func() {
		d.monitor.Stop()
		d.broker.Stop()
		d.pool.Close()
		d.store.Close()
	})
	return d
}

// serve exposes the gateway of d on net
func serve(t *testing.T, d *Daemon, nw network) {
	lis := bufconn.Listen(1 << 20)
	nw[d.cfg.Node.Name] = lis
	go func() {
		_ = d.grpc.Serve(lis)
	}()
	t.Cleanup(d.grpc.Stop)
}

func dirService(dir string) map[string]interface{} {
	return map[string]interface{}{
		"nodes": []interface{}{"n1"},
		"resources": map[string]interface{}{
			"fs#1": map[string]interface{}{"type": "directory", "path": dir},
		},
	}
}

func TestLoadSecret(t *testing.T) {
	dir := t.TempDir()

	secret, err := LoadSecret(dir, "configured")
	require.NoError(t, err)
	assert.Equal(t, "configured", secret)
	assert.NoFileExists(t, filepath.Join(dir, SecretFile))

	generated, err := LoadSecret(dir, "")
	require.NoError(t, err)
	assert.NotEmpty(t, generated)
	assert.FileExists(t, filepath.Join(dir, SecretFile))

	again, err := LoadSecret(dir, "")
	require.NoError(t, err)
	assert.Equal(t, generated, again)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "n1")
	cfg.Cluster.Secret = ""
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestCreateObject(t *testing.T) {
	d := newTestDaemon(t, "n1", network{})
	ctx := context.Background()

	tests := []struct {
		name     string
		req      *api.CreateRequest
		wantPath string
		wantKind apierrors.Kind
	}{
		{
			name:     "from builtin template",
			req:      &api.CreateRequest{Template: "settings", Namespace: "prod"},
			wantPath: "prod/cfg/settings",
		},
		{
			name:     "from data",
			req:      &api.CreateRequest{Path: "web", Data: dirService(filepath.Join(t.TempDir(), "web"))},
			wantPath: "root/svc/web",
		},
		{
			name:     "already exists",
			req:      &api.CreateRequest{Path: "web", Data: dirService("/srv/web")},
			wantKind: apierrors.KindConflict,
		},
		{
			name:     "restore",
			req:      &api.CreateRequest{Path: "web", Data: dirService("/srv/web"), Restore: true},
			wantPath: "root/svc/web",
		},
		{
			name:     "unknown template",
			req:      &api.CreateRequest{Template: "nope"},
			wantKind: apierrors.KindNotFound,
		},
		{
			name:     "template of another kind",
			req:      &api.CreateRequest{Path: "root/svc/conf", Template: "settings"},
			wantKind: apierrors.KindBadRequest,
		},
		{
			name:     "invalid config",
			req:      &api.CreateRequest{Path: "bad", Data: map[string]interface{}{"topology": "ring"}},
			wantKind: apierrors.KindBadRequest,
		},
		{
			name:     "path without data",
			req:      &api.CreateRequest{Path: "web2"},
			wantKind: apierrors.KindBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := d.CreateObject(ctx, tt.req)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, apierrors.Is(err, tt.wantKind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, obj.Path)

			stored, err := d.store.GetObject(tt.wantPath)
			require.NoError(t, err)
			assert.Equal(t, obj.Config.Checksum(), stored.Config.Checksum())
		})
	}

	data := d.ds.Instance("n1", "root/svc/web")
	require.NotNil(t, data)
	require.NotNil(t, data.Config)
	assert.Equal(t, []string{"n1"}, data.Config.Nodes)
	assert.Equal(t, types.TopologyFailover, data.Config.Topology)
	require.NotNil(t, data.Monitor)

	assert.Nil(t, d.ds.Instance("n1", "prod/cfg/settings"), "data objects have no instance")
}

func TestBackgroundWorkIsCanceledAndAwaited(t *testing.T) {
	d := newTestDaemon(t, "n1", network{})

	started := make(chan struct{})
	var canceled bool
	d.background(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled = true
	})
	<-started

	d.cancel()
	d.wg.Wait()
	assert.True(t, canceled)
}

func TestCreateObjectProvisions(t *testing.T) {
	d := newTestDaemon(t, "n1", network{})
	dir := filepath.Join(t.TempDir(), "web")

	_, err := d.CreateObject(context.Background(), &api.CreateRequest{
		Path:      "web",
		Data:      dirService(dir),
		Provision: true,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		flags, err := d.store.GetInstanceFlags("root/svc/web")
		return err == nil && flags.Provisioned["fs#1"]
	}, 5*time.Second, 20*time.Millisecond)
	assert.DirExists(t, dir)
}

func TestActor(t *testing.T) {
	d := newTestDaemon(t, "n1", network{})
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "web")
	_, err := d.CreateObject(ctx, &api.CreateRequest{Path: "web", Data: dirService(dir)})
	require.NoError(t, err)

	a := &actor{d: d}
	const path = "root/svc/web"

	require.NoError(t, a.Do(ctx, path, orchestrator.ActionProvision))
	require.NoError(t, a.Do(ctx, path, orchestrator.ActionStart))
	data := d.ds.Instance("n1", path)
	require.NotNil(t, data.Status)
	assert.Equal(t, types.StatusUp, data.Status.Avail)

	require.NoError(t, a.SetFrozen(path, true))
	assert.True(t, d.ds.Instance("n1", path).Status.IsFrozen())
	require.NoError(t, a.SetFrozen(path, false))
	assert.False(t, d.ds.Instance("n1", path).Status.IsFrozen())

	require.NoError(t, a.Purge(path))
	_, err = d.store.GetObject(path)
	assert.True(t, apierrors.Is(err, apierrors.KindNotFound))
	assert.Nil(t, d.ds.Instance("n1", path))

	err = a.Do(ctx, path, orchestrator.ActionStart)
	assert.True(t, apierrors.Is(err, apierrors.KindNotFound))
}

func TestSetNodeFrozen(t *testing.T) {
	d := newTestDaemon(t, "n1", network{})

	require.NoError(t, d.SetNodeFrozen(true))
	node := d.ds.NodeData("n1")
	require.NotNil(t, node)
	frozen := node.Frozen
	assert.False(t, frozen.IsZero())

	// freezing again keeps the original date
	require.NoError(t, d.SetNodeFrozen(true))
	assert.Equal(t, frozen, d.ds.NodeData("n1").Frozen)

	require.NoError(t, d.SetNodeFrozen(false))
	assert.False(t, d.ds.NodeData("n1").IsFrozen())
}

func TestSyncConfigsFromPeer(t *testing.T) {
	nw := network{}
	d1 := newTestDaemon(t, "n1", nw)
	d2 := newTestDaemon(t, "n2", nw)
	serve(t, d2, nw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := dirService(filepath.Join(t.TempDir(), "web"))
	data["nodes"] = []interface{}{"n2", "n1"}
	created, err := d2.CreateObject(ctx, &api.CreateRequest{Path: "web", Data: data})
	require.NoError(t, err)

	// n1 learns about the object through a heartbeat
	_, err = d1.engine.Receive(d2.engine.BuildMessage("n1"))
	require.NoError(t, err)

	pulls := d1.pendingPulls()
	require.Len(t, pulls, 1)
	assert.Equal(t, pull{path: "root/svc/web", peer: "n2", csum: created.Config.Checksum()}, pulls[0])

	d1.SyncConfigs(ctx)

	obj, err := d1.store.GetObject("root/svc/web")
	require.NoError(t, err)
	assert.Equal(t, created.Config.Checksum(), obj.Config.Checksum())

	mine := d1.ds.Instance("n1", "root/svc/web")
	require.NotNil(t, mine)
	require.NotNil(t, mine.Config)
	assert.Equal(t, created.Config.Checksum(), mine.Config.Checksum)
	assert.Empty(t, d1.pendingPulls())
}

func TestSyncConfigsIgnoresOtherNodes(t *testing.T) {
	nw := network{}
	d1 := newTestDaemon(t, "n1", nw)
	d2 := newTestDaemon(t, "n2", nw)

	data := dirService(filepath.Join(t.TempDir(), "web"))
	data["nodes"] = []interface{}{"n2"}
	_, err := d2.CreateObject(context.Background(), &api.CreateRequest{Path: "web", Data: data})
	require.NoError(t, err)

	_, err = d1.engine.Receive(d2.engine.BuildMessage("n1"))
	require.NoError(t, err)
	assert.Empty(t, d1.pendingPulls())
}

func TestMetricsSource(t *testing.T) {
	d := newTestDaemon(t, "n1", network{})
	_, err := d.CreateObject(context.Background(), &api.CreateRequest{Path: "web", Data: dirService("/srv/web")})
	require.NoError(t, err)

	assert.Contains(t, d.LocalInstances(), "root/svc/web")
	assert.Contains(t, d.PeerStatuses(), "n2")
	assert.Contains(t, d.Generations(), "n1")
}
