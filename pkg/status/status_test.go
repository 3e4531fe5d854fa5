package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/storage"
	"github.com/cuemby/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string]*object.Object
	flags   map[string]*storage.InstanceFlags
	node    storage.NodeState
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string]*object.Object),
		flags:   make(map[string]*storage.InstanceFlags),
	}
}

func (s *memStore) put(obj *object.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Path] = obj
}

func (s *memStore) ListObjects() ([]*object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var objs []*object.Object
	for _, o := range s.objects {
		objs = append(objs, o)
	}
	return objs, nil
}

func (s *memStore) GetObject(path string) (*object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		return nil, apierrors.NotFound("object not found: %s", path)
	}
	return o, nil
}

func (s *memStore) GetInstanceFlags(path string) (*storage.InstanceFlags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flags[path]; ok {
		return f, nil
	}
	return &storage.InstanceFlags{Path: path, Provisioned: map[string]bool{}}, nil
}

func (s *memStore) GetNodeState() (*storage.NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.node
	return &st, nil
}

// stubDriver reports the status carried by its "status" option
type stubDriver struct {
	status      types.Status
	provisioned *bool
}

func (d *stubDriver) Status(ctx context.Context) (types.Status, error) {
	if d.status == "" {
		return "", errors.New("probe failed")
	}
	return d.status, nil
}

func (d *stubDriver) Start(ctx context.Context) error { return nil }
func (d *stubDriver) Stop(ctx context.Context) error  { return nil }

type stubProvisioner struct {
	stubDriver
}

func (d *stubProvisioner) Provision(ctx context.Context) error   { return nil }
func (d *stubProvisioner) Unprovision(ctx context.Context) error { return nil }
func (d *stubProvisioner) Provisioned(ctx context.Context) (bool, error) {
	return *d.provisioned, nil
}

func testRegistry() *resource.Registry {
	reg := resource.NewRegistry()
	ctor := func(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
		return &stubDriver{status: types.Status(cfg.Options["status"])}, nil
	}
	for _, f := range object.Families {
		reg.Register(f, "stub", ctor)
	}
	reg.Register("disk", "prov", func(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
		v := cfg.Options["provisioned"] == "true"
		return &stubProvisioner{stubDriver{status: types.StatusUp, provisioned: &v}}, nil
	})
	return reg
}

func stub(status types.Status) object.ResourceConfig {
	return object.ResourceConfig{Type: "stub", Options: map[string]string{"status": string(status)}}
}

func svc(path string, resources map[string]object.ResourceConfig) *object.Object {
	cfg := &object.Config{Nodes: []string{"n1"}, Resources: resources}
	cfg.Normalize()
	return &object.Object{Path: path, Config: cfg}
}

type fakeRunner map[string]orchestrator.Action

func (r fakeRunner) Running(path string) (orchestrator.Action, bool) {
	a, ok := r[path]
	return a, ok
}

func newEvaluator(store *memStore, runner Runner) (*Evaluator, *dataset.Dataset) {
	ds := dataset.New("n1", nil, 0)
	e := New(Config{Local: "n1", Labels: map[string]string{"zone": "a"}}, store, testRegistry(), ds, runner, nil)
	return e, ds
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		resources map[string]object.ResourceConfig
		flags     map[string]bool
		wantAvail types.Status
		wantProv  types.TriState
		check     func(t *testing.T, st *types.InstanceStatus)
	}{
		{
			name: "all up",
			resources: map[string]object.ResourceConfig{
				"fs#1":  stub(types.StatusUp),
				"app#1": stub(types.StatusUp),
			},
			wantAvail: types.StatusUp,
			wantProv:  types.TriNA,
		},
		{
			name: "partially up is warn",
			resources: map[string]object.ResourceConfig{
				"fs#1":  stub(types.StatusUp),
				"app#1": stub(types.StatusDown),
			},
			wantAvail: types.StatusWarn,
			wantProv:  types.TriNA,
		},
		{
			name: "sync resources do not count in avail",
			resources: map[string]object.ResourceConfig{
				"app#1":  stub(types.StatusUp),
				"sync#1": stub(types.StatusDown),
			},
			wantAvail: types.StatusUp,
			wantProv:  types.TriNA,
			check: func(t *testing.T, st *types.InstanceStatus) {
				assert.Equal(t, types.StatusDown, st.Optional)
				assert.Equal(t, types.StatusWarn, st.Overall)
			},
		},
		{
			name: "driver errors are undef",
			resources: map[string]object.ResourceConfig{
				"app#1": stub(""),
				"fs#1":  stub(types.StatusDown),
			},
			wantAvail: types.StatusDown,
			wantProv:  types.TriNA,
			check: func(t *testing.T, st *types.InstanceStatus) {
				assert.Equal(t, types.StatusUndef, st.Resources["app#1"].Status)
				assert.Contains(t, st.Resources["app#1"].Log, "probe failed")
			},
		},
		{
			name: "unknown driver",
			resources: map[string]object.ResourceConfig{
				"app#1": {Type: "nope"},
			},
			wantAvail: types.StatusUndef,
			wantProv:  types.TriNA,
			check: func(t *testing.T, st *types.InstanceStatus) {
				assert.Equal(t, types.StatusUndef, st.Resources["app#1"].Status)
				assert.Equal(t, "app.nope", st.Resources["app#1"].Type)
				require.Len(t, st.Resources["app#1"].Log, 1)
			},
		},
		{
			name: "recorded provisioned flags",
			resources: map[string]object.ResourceConfig{
				"fs#1":  stub(types.StatusUp),
				"app#1": stub(types.StatusUp),
			},
			flags:     map[string]bool{"fs#1": true, "app#1": false},
			wantAvail: types.StatusUp,
			wantProv:  types.TriMixed,
		},
		{
			name: "provisioner drivers are asked",
			resources: map[string]object.ResourceConfig{
				"disk#1": {Type: "prov", Options: map[string]string{"provisioned": "true"}},
			},
			wantAvail: types.StatusUp,
			wantProv:  types.TriTrue,
		},
		{
			name: "recorded flags win over the driver",
			resources: map[string]object.ResourceConfig{
				"disk#1": {Type: "prov", Options: map[string]string{"provisioned": "true"}},
			},
			flags:     map[string]bool{"disk#1": false},
			wantAvail: types.StatusUp,
			wantProv:  types.TriFalse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			obj := svc("root/svc/web", tt.resources)
			store.objects[obj.Path] = obj
			if tt.flags != nil {
				store.flags[obj.Path] = &storage.InstanceFlags{Path: obj.Path, Provisioned: tt.flags}
			}
			e, _ := newEvaluator(store, nil)

			st, err := e.Compute(t.Context(), obj)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAvail, st.Avail)
			assert.Equal(t, tt.wantProv, st.Provisioned)
			assert.Len(t, st.Resources, len(tt.resources))
			if tt.check != nil {
				tt.check(t, st)
			}
		})
	}
}

func TestComputeFrozenAndConstraints(t *testing.T) {
	store := newMemStore()
	obj := svc("root/svc/web", map[string]object.ResourceConfig{"app#1": stub(types.StatusUp)})
	store.objects[obj.Path] = obj
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.flags[obj.Path] = &storage.InstanceFlags{Path: obj.Path, Frozen: frozen}
	e, _ := newEvaluator(store, nil)

	st, err := e.Compute(t.Context(), obj)
	require.NoError(t, err)
	assert.True(t, st.IsFrozen())
	assert.True(t, st.Constraints)

	obj.Config.Constraints = map[string]string{"zone": "b"}
	st, err = e.Compute(t.Context(), obj)
	require.NoError(t, err)
	assert.False(t, st.Constraints)
}

func TestComputeRunning(t *testing.T) {
	store := newMemStore()
	obj := svc("root/svc/web", map[string]object.ResourceConfig{
		"app#1":  stub(types.StatusUp),
		"fs#1":   stub(types.StatusUp),
		"sync#1": stub(types.StatusUp),
	})
	store.objects[obj.Path] = obj
	e, _ := newEvaluator(store, fakeRunner{"root/svc/web": orchestrator.ActionStart})

	st, err := e.Compute(t.Context(), obj)
	require.NoError(t, err)
	assert.Equal(t, []string{"app#1", "fs#1"}, st.Running)
}

func TestEvaluateAllPublishes(t *testing.T) {
	store := newMemStore()
	obj := svc("root/svc/web", map[string]object.ResourceConfig{"app#1": stub(types.StatusUp)})
	store.objects[obj.Path] = obj
	store.objects["root/cfg/settings"] = &object.Object{Path: "root/cfg/settings", Config: &object.Config{Data: map[string]string{"k": "v"}}}
	e, ds := newEvaluator(store, nil)

	require.NoError(t, e.EvaluateAll(t.Context()))
	data := ds.Instance("n1", "root/svc/web")
	require.NotNil(t, data)
	require.NotNil(t, data.Config)
	assert.Equal(t, obj.Config.Checksum(), data.Config.Checksum)
	assert.Equal(t, []string{"n1"}, data.Config.Nodes)
	assert.Equal(t, types.StatusUp, data.Status.Avail)
	assert.Nil(t, ds.Instance("n1", "root/cfg/settings"))

	// an unchanged status does not bump the generation
	gen := ds.Gen()
	require.NoError(t, e.EvaluateAll(t.Context()))
	assert.Equal(t, gen, ds.Gen())

	// a changed status does
	obj.Config.Resources["app#1"] = stub(types.StatusDown)
	require.NoError(t, e.EvaluatePath(t.Context(), obj.Path))
	assert.Greater(t, ds.Gen(), gen)
	assert.Equal(t, types.StatusDown, ds.Instance("n1", "root/svc/web").Status.Avail)
}

func TestEvaluateAllKeepsMonitor(t *testing.T) {
	store := newMemStore()
	obj := svc("root/svc/web", map[string]object.ResourceConfig{"app#1": stub(types.StatusUp)})
	store.objects[obj.Path] = obj
	e, ds := newEvaluator(store, nil)

	ds.ApplyLocal(dataset.Op{Kind: dataset.OpSet, Path: obj.Path, Data: &types.InstanceData{
		Monitor: &types.Monitor{Status: types.MonStarted},
	}})
	require.NoError(t, e.EvaluateAll(t.Context()))

	data := ds.Instance("n1", obj.Path)
	require.NotNil(t, data.Monitor)
	assert.Equal(t, types.MonStarted, data.Monitor.Status)
	assert.NotNil(t, data.Status)
}

func TestEvaluateAllDropsRemovedObjects(t *testing.T) {
	store := newMemStore()
	obj := svc("root/svc/web", map[string]object.ResourceConfig{"app#1": stub(types.StatusUp)})
	store.objects[obj.Path] = obj
	e, ds := newEvaluator(store, nil)

	require.NoError(t, e.EvaluateAll(t.Context()))
	require.NotNil(t, ds.Instance("n1", obj.Path))

	delete(store.objects, obj.Path)
	require.NoError(t, e.EvaluateAll(t.Context()))
	assert.Nil(t, ds.Instance("n1", obj.Path))
}

func TestEvaluatePathNotFound(t *testing.T) {
	e, _ := newEvaluator(newMemStore(), nil)
	err := e.EvaluatePath(t.Context(), "root/svc/nope")
	assert.True(t, apierrors.Is(err, apierrors.KindNotFound))
}

func TestRefreshNode(t *testing.T) {
	store := newMemStore()
	e, ds := newEvaluator(store, nil)

	require.NoError(t, e.RefreshNode())
	nd := ds.NodeData("n1")
	require.NotNil(t, nd)
	assert.Equal(t, map[string]string{"zone": "a"}, nd.Labels)
	assert.False(t, nd.IsFrozen())
	assert.Equal(t, "up", nd.Status)

	gen := ds.Gen()
	require.NoError(t, e.RefreshNode())
	assert.Equal(t, gen, ds.Gen())

	store.node.Frozen = time.Now()
	require.NoError(t, e.RefreshNode())
	assert.True(t, ds.NodeData("n1").IsFrozen())
	assert.Greater(t, ds.Gen(), gen)
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	obj := svc("root/svc/web", map[string]object.ResourceConfig{"app#1": stub(types.StatusUp)})
	store.objects[obj.Path] = obj
	e, ds := newEvaluator(store, nil)
	e.cfg.Interval = time.Hour

	e.Start()
	defer e.Stop()

	require.Eventually(t, func() bool {
		return ds.Instance("n1", obj.Path) != nil
	}, 5*time.Second, 10*time.Millisecond)

	store.put(svc(obj.Path, map[string]object.ResourceConfig{"app#1": stub(types.StatusDown)}))
	e.Trigger()
	require.Eventually(t, func() bool {
		data := ds.Instance("n1", obj.Path)
		return data.Status.Avail == types.StatusDown
	}, 5*time.Second, 10*time.Millisecond)
}
