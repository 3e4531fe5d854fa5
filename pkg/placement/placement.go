package placement

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/hive/pkg/types"
)

// Policy names
const (
	NodesOrder = "nodes order"
	Score      = "score"
	Shift      = "shift"
	Spread     = "spread"
)

// Input is what a policy ranks: the candidate nodes of one object
type Input struct {
	Path string

	// Nodes are the candidates, in config order
	Nodes []string

	// Stats are the last gossiped node capacity figures
	Stats map[string]types.NodeStats

	// Load is the number of instances each node runs
	Load map[string]int
}

// Policy ranks candidate nodes, best first
type Policy interface {
	Name() string
	Rank(in Input) []string
}

// Get returns the policy named name. The empty name is nodes order.
func Get(name string) (Policy, error) {
	switch name {
	case "", NodesOrder:
		return nodesOrder{}, nil
	case Score:
		return score{}, nil
	case Shift:
		return shift{}, nil
	case Spread:
		return spread{}, nil
	}
	return nil, fmt.Errorf("unknown placement policy %q", name)
}

// Names returns the policy names
func Names() []string {
	return []string{NodesOrder, Score, Shift, Spread}
}

type nodesOrder struct{}

func (nodesOrder) Name() string { return NodesOrder }

func (nodesOrder) Rank(in Input) []string {
	return append([]string(nil), in.Nodes...)
}

// score ranks nodes with the most free capacity first
type score struct{}

func (score) Name() string { return Score }

func (score) Rank(in Input) []string {
	ranked := append([]string(nil), in.Nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return in.Stats[ranked[i]].Score > in.Stats[ranked[j]].Score
	})
	return ranked
}

// shift rotates the node list by a hash of the object path, so objects with
// the same node list prefer different nodes
type shift struct{}

func (shift) Name() string { return Shift }

func (shift) Rank(in Input) []string {
	n := len(in.Nodes)
	if n == 0 {
		return nil
	}
	offset := int(xxhash.Sum64String(in.Path) % uint64(n))
	ranked := make([]string, 0, n)
	ranked = append(ranked, in.Nodes[offset:]...)
	ranked = append(ranked, in.Nodes[:offset]...)
	return ranked
}

// spread ranks the least loaded nodes first, ties broken by a hash of the
// object path and the node name
type spread struct{}

func (spread) Name() string { return Spread }

func (spread) Rank(in Input) []string {
	ranked := append([]string(nil), in.Nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := in.Load[ranked[i]], in.Load[ranked[j]]
		if li != lj {
			return li < lj
		}
		return xxhash.Sum64String(in.Path+"@"+ranked[i]) < xxhash.Sum64String(in.Path+"@"+ranked[j])
	})
	return ranked
}

// Promote moves node to the head of ranked, when present
func Promote(ranked []string, node string) []string {
	result := make([]string, 0, len(ranked))
	found := false
	for _, n := range ranked {
		if n == node {
			found = true
			continue
		}
		result = append(result, n)
	}
	if !found {
		return ranked
	}
	return append([]string{node}, result...)
}

// Leaders returns the nodes expected to run the object: the first one for a
// failover topology, the first target for a flex topology
func Leaders(ranked []string, topology types.Topology, target int) []string {
	n := 1
	if topology == types.TopologyFlex {
		n = target
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	if n < 0 {
		n = 0
	}
	return ranked[:n]
}
