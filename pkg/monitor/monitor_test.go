package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "root/svc/web"

type aliveCluster struct{}

func (aliveCluster) PeerState(string) types.PeerState { return types.PeerAlive }

// fakeActor plays the orchestrator and the status evaluator: a successful
// start or stop flips the availability of the local instance
type fakeActor struct {
	ds *dataset.Dataset

	mu       sync.Mutex
	journal  []orchestrator.Action
	failures map[orchestrator.Action]int
	purged   []string
}

func newFakeActor(ds *dataset.Dataset) *fakeActor {
	return &fakeActor{ds: ds, failures: make(map[orchestrator.Action]int)}
}

func (a *fakeActor) Do(ctx context.Context, path string, action orchestrator.Action) error {
	a.mu.Lock()
	a.journal = append(a.journal, action)
	fail := a.failures[action] > 0
	if fail {
		a.failures[action]--
	}
	a.mu.Unlock()

	if fail {
		return apierrors.ResourceAction("app#1", string(action), errors.New("exit status 1"))
	}
	avail := types.StatusUp
	if action == orchestrator.ActionStop {
		avail = types.StatusDown
	}
	a.ds.UpdateLocal(path, func(data *types.InstanceData) *types.InstanceData {
		st := *data.Status
		st.Avail = avail
		data.Status = &st
		return data
	})
	return nil
}

func (a *fakeActor) SetFrozen(path string, frozen bool) error {
	a.ds.UpdateLocal(path, func(data *types.InstanceData) *types.InstanceData {
		st := *data.Status
		st.Frozen = time.Time{}
		if frozen {
			st.Frozen = time.Now()
		}
		data.Status = &st
		return data
	})
	return nil
}

func (a *fakeActor) Purge(path string) error {
	a.mu.Lock()
	a.purged = append(a.purged, path)
	a.mu.Unlock()
	a.ds.DeleteLocal(path)
	return nil
}

func (a *fakeActor) actions() []orchestrator.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]orchestrator.Action(nil), a.journal...)
}

func setup(t *testing.T, orchestrate types.Orchestrate) (*Monitor, *dataset.Dataset, *fakeActor) {
	t.Helper()
	ds := dataset.New("n1", nil, 0)
	ds.ApplyLocal(dataset.Op{Kind: dataset.OpSet, Path: testPath, Data: &types.InstanceData{
		Config: &types.InstanceConfig{
			Path:        testPath,
			Nodes:       []string{"n1"},
			Topology:    types.TopologyFailover,
			Orchestrate: orchestrate,
		},
		Status: &types.InstanceStatus{Avail: types.StatusDown, Constraints: true, Provisioned: types.TriTrue},
	}})

	actor := newFakeActor(ds)
	m := New(Config{Local: "n1", Interval: 20 * time.Millisecond}, ds, aliveCluster{}, actor, nil)
	t.Cleanup(m.Stop)
	return m, ds, actor
}

func monitorOf(ds *dataset.Dataset) types.Monitor {
	data := ds.Instance("n1", testPath)
	if data == nil || data.Monitor == nil {
		return types.Monitor{}
	}
	return *data.Monitor
}

func TestMonitorHAStart(t *testing.T) {
	m, ds, actor := setup(t, types.OrchestrateHA)
	m.Start()

	require.Eventually(t, func() bool {
		return monitorOf(ds).Status == types.MonStarted
	}, 5*time.Second, 10*time.Millisecond)

	mon := monitorOf(ds)
	assert.Equal(t, types.LocalExpectStarted, mon.LocalExpect)
	assert.True(t, mon.IsLeader)
	assert.Equal(t, []orchestrator.Action{orchestrator.ActionStart}, actor.actions())
}

func TestMonitorStopIsNotRestarted(t *testing.T) {
	m, ds, actor := setup(t, types.OrchestrateHA)
	m.Start()

	require.Eventually(t, func() bool {
		return monitorOf(ds).Status == types.MonStarted
	}, 5*time.Second, 10*time.Millisecond)

	err := m.Submit(t.Context(), Intent{Kind: IntentSetMonitor, Path: testPath, GlobalExpect: "stopped"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mon := monitorOf(ds)
		return mon.GlobalExpect == types.ExpectNone && mon.LocalExpect == types.LocalExpectShutdown
	}, 5*time.Second, 10*time.Millisecond)

	// a few more ticks must not bring the instance back
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []orchestrator.Action{orchestrator.ActionStart, orchestrator.ActionStop}, actor.actions())
	assert.Equal(t, types.StatusDown, ds.Instance("n1", testPath).Status.Avail)
}

func TestMonitorStartFailureAndClear(t *testing.T) {
	m, ds, actor := setup(t, types.OrchestrateNo)
	actor.failures[orchestrator.ActionStart] = 1
	m.Start()

	err := m.Submit(t.Context(), Intent{Kind: IntentSetMonitor, Path: testPath, GlobalExpect: "started"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return monitorOf(ds).Status == types.MonStartFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, monitorOf(ds).Reason, "app#1")
	assert.Equal(t, types.ExpectStarted, monitorOf(ds).GlobalExpect)

	err = m.Submit(t.Context(), Intent{Kind: IntentClear, Path: testPath})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mon := monitorOf(ds)
		return mon.Status == types.MonIdle && mon.GlobalExpect == types.ExpectNone
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.StatusUp, ds.Instance("n1", testPath).Status.Avail)
	assert.Equal(t, []orchestrator.Action{orchestrator.ActionStart, orchestrator.ActionStart}, actor.actions())
}

func TestMonitorRestartBudgetExhausted(t *testing.T) {
	m, ds, actor := setup(t, types.OrchestrateHA)
	ds.UpdateLocal(testPath, func(data *types.InstanceData) *types.InstanceData {
		st := *data.Status
		st.Resources = map[string]types.ResourceStatus{
			"app#1": {RID: "app#1", Status: types.StatusDown, Monitor: true, Restart: 2},
		}
		data.Status = &st
		return data
	})
	actor.failures[orchestrator.ActionStart] = 100
	m.Start()

	require.Eventually(t, func() bool {
		return monitorOf(ds).Status == types.MonStartFailed
	}, 5*time.Second, 10*time.Millisecond)

	// the budget is spent and no further attempt is made
	time.Sleep(100 * time.Millisecond)
	mon := monitorOf(ds)
	assert.Equal(t, types.MonStartFailed, mon.Status)
	assert.Equal(t, 0, mon.Restart["app#1"])
	assert.Equal(t, []orchestrator.Action{
		orchestrator.ActionStart,
		orchestrator.ActionStart,
		orchestrator.ActionStart,
	}, actor.actions())
}

// countingWriter counts the monitor records published through it
type countingWriter struct {
	dataset.Writer
	mu      sync.Mutex
	updates int
}

func (w *countingWriter) UpdateLocal(path string, fn func(data *types.InstanceData) *types.InstanceData) bool {
	w.mu.Lock()
	w.updates++
	w.mu.Unlock()
	return w.Writer.UpdateLocal(path, fn)
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates
}

func TestMonitorPublishesThroughWriter(t *testing.T) {
	_, ds, actor := setup(t, types.OrchestrateHA)
	w := &countingWriter{Writer: ds}
	m := New(Config{Local: "n1", Interval: 20 * time.Millisecond, Writer: w}, ds, aliveCluster{}, actor, nil)
	t.Cleanup(m.Stop)
	m.Start()

	require.Eventually(t, func() bool {
		return monitorOf(ds).Status == types.MonStarted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, w.count())
}

func TestMonitorFreezeThaw(t *testing.T) {
	m, ds, _ := setup(t, types.OrchestrateNo)
	m.Start()

	require.NoError(t, m.Submit(t.Context(), Intent{Kind: IntentSetMonitor, Path: testPath, GlobalExpect: "frozen"}))
	require.Eventually(t, func() bool {
		return ds.Instance("n1", testPath).Status.IsFrozen() && monitorOf(ds).GlobalExpect == types.ExpectNone
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Submit(t.Context(), Intent{Kind: IntentSetMonitor, Path: testPath, GlobalExpect: "thawed"}))
	require.Eventually(t, func() bool {
		return !ds.Instance("n1", testPath).Status.IsFrozen() && monitorOf(ds).GlobalExpect == types.ExpectNone
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMonitorIntentErrors(t *testing.T) {
	m, _, _ := setup(t, types.OrchestrateNo)
	m.Start()

	tests := []struct {
		name     string
		intent   Intent
		wantKind apierrors.Kind
	}{
		{
			name:     "unknown expect",
			intent:   Intent{Kind: IntentSetMonitor, Path: testPath, GlobalExpect: "exploded"},
			wantKind: apierrors.KindBadRequest,
		},
		{
			name:     "placed at a foreign node",
			intent:   Intent{Kind: IntentSetMonitor, Path: testPath, GlobalExpect: "placed@n9"},
			wantKind: apierrors.KindBadRequest,
		},
		{
			name:     "bad local expect",
			intent:   Intent{Kind: IntentSetMonitor, Path: testPath, LocalExpect: "sideways"},
			wantKind: apierrors.KindBadRequest,
		},
		{
			name:     "unknown object",
			intent:   Intent{Kind: IntentSetMonitor, Path: "root/svc/nope"},
			wantKind: apierrors.KindNotFound,
		},
		{
			name:     "create without config",
			intent:   Intent{Kind: IntentCreate, Path: "root/svc/nope"},
			wantKind: apierrors.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Submit(t.Context(), tt.intent)
			require.Error(t, err)
			assert.True(t, apierrors.Is(err, tt.wantKind), "got %v", err)
		})
	}
}

func TestMonitorDelete(t *testing.T) {
	m, ds, actor := setup(t, types.OrchestrateNo)
	m.Start()

	require.NoError(t, m.Submit(t.Context(), Intent{Kind: IntentDelete, Path: testPath}))
	assert.Nil(t, ds.Instance("n1", testPath))
	assert.Equal(t, []string{testPath}, actor.purged)
}

func TestSubmitAfterStop(t *testing.T) {
	m, _, _ := setup(t, types.OrchestrateNo)
	m.Start()
	m.Stop()

	err := m.Submit(t.Context(), Intent{Kind: IntentClear, Path: testPath})
	assert.True(t, apierrors.Is(err, apierrors.KindConflict))
}
