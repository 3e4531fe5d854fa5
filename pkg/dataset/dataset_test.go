package dataset

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hive/pkg/events"
	"github.com/cuemby/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusData(avail types.Status) *types.InstanceData {
	return &types.InstanceData{Status: &types.InstanceStatus{Avail: avail}}
}

func TestApplyLocalBumpsGeneration(t *testing.T) {
	d := New("node1", nil, 0)
	assert.Equal(t, types.Generation(0), d.Gen())

	p1 := d.ApplyLocal(Op{Kind: OpSet, Path: "ns/svc/a", Data: statusData(types.StatusUp)})
	p2 := d.ApplyLocal(Op{Kind: OpSet, Path: "ns/svc/b", Data: statusData(types.StatusDown)})

	assert.Equal(t, types.Generation(1), p1.Gen)
	assert.Equal(t, types.Generation(2), p2.Gen)
	assert.Equal(t, types.Generation(2), d.Gen())
	assert.Equal(t, []string{"ns/svc/a", "ns/svc/b"}, d.LocalPaths())

	d.ApplyLocal(Op{Kind: OpDelete, Path: "ns/svc/a"})
	assert.Nil(t, d.Instance("node1", "ns/svc/a"))
	assert.Equal(t, types.Generation(3), d.Gen())
}

func TestPatchesSince(t *testing.T) {
	d := New("node1", nil, 3)
	for i := 0; i < 5; i++ {
		d.ApplyLocal(Op{Kind: OpSet, Path: fmt.Sprintf("ns/svc/s%d", i), Data: statusData(types.StatusUp)})
	}

	tests := []struct {
		name     string
		known    types.Generation
		wantOK   bool
		wantGens []types.Generation
	}{
		{"up to date", 5, true, nil},
		{"ahead of us", 9, true, nil},
		{"one behind", 4, true, []types.Generation{5}},
		{"oldest covered", 2, true, []types.Generation{3, 4, 5}},
		{"trimmed away", 1, false, nil},
		{"never synced", 0, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patches, ok := d.PatchesSince(tt.known)
			assert.Equal(t, tt.wantOK, ok)
			var gens []types.Generation
			for _, p := range patches {
				gens = append(gens, p.Gen)
			}
			assert.Equal(t, tt.wantGens, gens)
		})
	}
}

func TestUpdateLocal(t *testing.T) {
	d := New("node1", nil, 0)

	changed := d.UpdateLocal("ns/svc/a", func(data *types.InstanceData) *types.InstanceData {
		data.Monitor = &types.Monitor{Status: types.MonIdle}
		return data
	})
	require.True(t, changed)
	require.NotNil(t, d.Instance("node1", "ns/svc/a").Monitor)

	changed = d.UpdateLocal("ns/svc/a", func(data *types.InstanceData) *types.InstanceData {
		return nil
	})
	assert.False(t, changed)
	assert.Equal(t, types.Generation(1), d.Gen())
}

func TestUpdateLocalConcurrent(t *testing.T) {
	d := New("node1", nil, 0)
	d.UpdateLocal("ns/svc/a", func(data *types.InstanceData) *types.InstanceData {
		data.Monitor = &types.Monitor{Restart: map[string]int{"n": 0}}
		return data
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.UpdateLocal("ns/svc/a", func(data *types.InstanceData) *types.InstanceData {
				mon := *data.Monitor
				mon.Restart = map[string]int{"n": data.Monitor.Restart["n"] + 1}
				data.Monitor = &mon
				return data
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, d.Instance("node1", "ns/svc/a").Monitor.Restart["n"], "writer lock serializes updates")
	assert.Equal(t, types.Generation(51), d.Gen())
}

func TestUpdateLocalNode(t *testing.T) {
	d := New("node1", nil, 0)
	d.UpdateLocalNode(func(n *types.NodeData) { n.Labels = map[string]string{"zone": "a"} })
	d.UpdateLocalNode(func(n *types.NodeData) { n.Frozen = time.Now() })

	nd := d.NodeData("node1")
	require.NotNil(t, nd)
	assert.Equal(t, "a", nd.Labels["zone"])
	assert.True(t, nd.IsFrozen())
}

func TestRemoteSubtrees(t *testing.T) {
	d := New("node1", nil, 0)

	d.ReplaceRemote("node2", Snapshot{
		Node: &types.NodeData{Status: "up"},
		Instances: map[string]*types.InstanceData{
			"ns/svc/a": statusData(types.StatusUp),
			"ns/svc/b": statusData(types.StatusDown),
		},
	})
	d.ApplyRemote("node2", []Op{{Kind: OpDelete, Path: "ns/svc/b"}})
	d.ApplyLocal(Op{Kind: OpSet, Path: "ns/svc/a", Data: statusData(types.StatusDown)})

	assert.Equal(t, []string{"node1", "node2"}, d.Nodes())
	assert.Equal(t, []string{"ns/svc/a"}, d.Paths())
	assert.Len(t, d.Instances("ns/svc/a"), 2)
	assert.Equal(t, types.Generation(1), d.Gen(), "remote changes never bump the local generation")

	d.DropNode("node2")
	assert.Equal(t, []string{"node1"}, d.Nodes())
	d.DropNode("node1")
	assert.Equal(t, []string{"node1"}, d.Nodes())
}

func TestSnapshotOfUnknownNode(t *testing.T) {
	d := New("node1", nil, 0)
	snap := d.Snapshot("ghost")
	assert.Empty(t, snap.Instances)
	assert.Equal(t, []string{"node1"}, d.Nodes())
}

func TestEventsPublished(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	d := New("node1", broker, 0)
	d.ReplaceRemote("node2", Snapshot{Instances: map[string]*types.InstanceData{"ns/svc/x": statusData(types.StatusUp)}})
	d.ReplaceRemote("node2", Snapshot{Instances: map[string]*types.InstanceData{}})

	seen := map[events.EventType]int{}
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-sub:
			seen[ev.Type]++
		case <-timeout:
			t.Fatalf("missing events, got %v", seen)
		}
	}
	assert.Contains(t, seen, events.EventInstanceUpdated)
	assert.Contains(t, seen, events.EventInstanceDeleted)
	assert.Contains(t, seen, events.EventNodeUpdated)
}
