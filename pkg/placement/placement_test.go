package placement

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	for _, name := range append(Names(), "") {
		p, err := Get(name)
		require.NoError(t, err, name)
		if name != "" {
			assert.Equal(t, name, p.Name())
		}
	}
	_, err := Get("random")
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	nodes := []string{"n1", "n2", "n3"}

	tests := []struct {
		name   string
		policy string
		in     Input
		want   []string
	}{
		{
			name:   "nodes order",
			policy: NodesOrder,
			in:     Input{Path: "root/svc/a", Nodes: nodes},
			want:   []string{"n1", "n2", "n3"},
		},
		{
			name:   "score",
			policy: Score,
			in: Input{Path: "root/svc/a", Nodes: nodes, Stats: map[string]types.NodeStats{
				"n1": {Score: 10}, "n2": {Score: 80}, "n3": {Score: 40},
			}},
			want: []string{"n2", "n3", "n1"},
		},
		{
			name:   "score ties keep config order",
			policy: Score,
			in:     Input{Path: "root/svc/a", Nodes: nodes},
			want:   []string{"n1", "n2", "n3"},
		},
		{
			name:   "spread",
			policy: Spread,
			in: Input{Path: "root/svc/a", Nodes: nodes, Load: map[string]int{
				"n1": 3, "n2": 0, "n3": 1,
			}},
			want: []string{"n2", "n3", "n1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Get(tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Rank(tt.in))
		})
	}
}

func TestShift(t *testing.T) {
	p, _ := Get(Shift)
	nodes := []string{"n1", "n2", "n3"}

	ranked := p.Rank(Input{Path: "root/svc/a", Nodes: nodes})
	assert.ElementsMatch(t, nodes, ranked)
	// deterministic
	assert.Equal(t, ranked, p.Rank(Input{Path: "root/svc/a", Nodes: nodes}))

	// the rotation preserves the cyclic order
	i := 0
	for ; nodes[i] != ranked[0]; i++ {
	}
	for k := range ranked {
		assert.Equal(t, nodes[(i+k)%3], ranked[k])
	}

	// different paths do not all prefer the same node
	heads := map[string]bool{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		heads[p.Rank(Input{Path: "root/svc/" + name, Nodes: nodes})[0]] = true
	}
	assert.Greater(t, len(heads), 1)

	assert.Empty(t, p.Rank(Input{Path: "root/svc/a"}))
}

func TestPromote(t *testing.T) {
	assert.Equal(t, []string{"n3", "n1", "n2"}, Promote([]string{"n1", "n2", "n3"}, "n3"))
	assert.Equal(t, []string{"n1", "n2"}, Promote([]string{"n1", "n2"}, "n9"))
}

func TestLeaders(t *testing.T) {
	ranked := []string{"n1", "n2", "n3"}
	assert.Equal(t, []string{"n1"}, Leaders(ranked, types.TopologyFailover, 0))
	assert.Equal(t, []string{"n1", "n2"}, Leaders(ranked, types.TopologyFlex, 2))
	assert.Equal(t, ranked, Leaders(ranked, types.TopologyFlex, 5))
	assert.Empty(t, Leaders(nil, types.TopologyFailover, 0))
}

func TestComputeScore(t *testing.T) {
	assert.Equal(t, 80, ComputeScore(types.NodeStats{MemAvailPct: 80}, 4))
	assert.Equal(t, 40, ComputeScore(types.NodeStats{MemAvailPct: 80, Load15: 8}, 4))
	assert.Equal(t, 60, ComputeScore(types.NodeStats{MemAvailPct: 80, Load15: 2}, 4))
}

func TestStatsCollector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loadavg"), []byte("0.50 0.40 0.00 1/100 12345\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(
		"MemTotal:        2048000 kB\nMemFree:          512000 kB\nMemAvailable:    1024000 kB\n"), 0644))

	c, err := NewStatsCollector(dir)
	require.NoError(t, err)

	stats, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.Load15)
	assert.Equal(t, uint64(2000), stats.MemTotalMB)
	assert.Equal(t, 50, stats.MemAvailPct)
	assert.Equal(t, 50, stats.Score)
}
