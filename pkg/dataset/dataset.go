package dataset

import (
	"sort"
	"sync"

	"github.com/cuemby/hive/pkg/events"
	"github.com/cuemby/hive/pkg/types"
)

// DefaultMaxPatches is the number of local patches retained for peers
// catching up with deltas
const DefaultMaxPatches = 500

// OpKind is the kind of a dataset mutation
type OpKind string

const (
	OpSet    OpKind = "set"
	OpDelete OpKind = "del"
	OpNode   OpKind = "node"
)

// GenTable maps a node name to a generation
type GenTable map[string]types.Generation

// Op is one mutation of a node subtree. Set replaces the whole InstanceData
// of Path, Delete removes it, Node replaces the node-level data.
type Op struct {
	Kind OpKind              `json:"op"`
	Path string              `json:"path,omitempty"`
	Data *types.InstanceData `json:"data,omitempty"`
	Node *types.NodeData     `json:"node,omitempty"`
}

// Patch is the set of ops produced by one local generation bump
type Patch struct {
	Gen types.Generation `json:"gen"`
	Ops []Op             `json:"ops"`
}

// Snapshot is a full copy of one node subtree
type Snapshot struct {
	Node      *types.NodeData                `json:"node,omitempty"`
	Instances map[string]*types.InstanceData `json:"instances"`
}

type shard struct {
	mu        sync.RWMutex
	node      *types.NodeData
	instances map[string]*types.InstanceData
}

// Dataset is the node-local replica of the cluster state: one shard per
// node, holding immutable InstanceData values keyed by object path.
type Dataset struct {
	local  string
	broker *events.Broker

	mu     sync.RWMutex
	shards map[string]*shard

	// keyed writer locks serialize read-modify-write cycles per (node, path)
	locks sync.Map

	logMu      sync.Mutex
	gen        types.Generation
	log        []Patch
	maxPatches int

	notify func()
}

// Writer publishes changes to the local subtree. The daemon components
// write through the replication engine, tests write to the dataset.
type Writer interface {
	UpdateLocal(path string, fn func(data *types.InstanceData) *types.InstanceData) bool
	DeleteLocal(path string) bool
	UpdateLocalNode(fn func(node *types.NodeData))
}

// New creates a dataset for the local node. broker may be nil.
func New(local string, broker *events.Broker, maxPatches int) *Dataset {
	if maxPatches <= 0 {
		maxPatches = DefaultMaxPatches
	}
	d := &Dataset{
		local:      local,
		broker:     broker,
		shards:     make(map[string]*shard),
		maxPatches: maxPatches,
	}
	d.shard(local)
	return d
}

// Local returns the local node name
func (d *Dataset) Local() string {
	return d.local
}

func (d *Dataset) shard(node string) *shard {
	d.mu.RLock()
	s, ok := d.shards[node]
	d.mu.RUnlock()
	if ok {
		return s
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok = d.shards[node]; ok {
		return s
	}
	s = &shard{instances: make(map[string]*types.InstanceData)}
	d.shards[node] = s
	return s
}

func (d *Dataset) lockKey(node, path string) func() {
	v, _ := d.locks.LoadOrStore(node+"\x00"+path, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// SetNotify registers fn to be called after every local generation bump
func (d *Dataset) SetNotify(fn func()) {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.notify = fn
}

// Gen returns the local generation
func (d *Dataset) Gen() types.Generation {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	return d.gen
}

// ApplyLocal applies ops to the local subtree, bumps the local generation
// and records the patch. It returns the recorded patch.
func (d *Dataset) ApplyLocal(ops ...Op) Patch {
	d.logMu.Lock()
	d.applyOps(d.local, ops)
	d.gen++
	patch := Patch{Gen: d.gen, Ops: ops}
	d.log = append(d.log, patch)
	if len(d.log) > d.maxPatches {
		d.log = append([]Patch(nil), d.log[len(d.log)-d.maxPatches:]...)
	}
	notify := d.notify
	d.logMu.Unlock()

	d.publishOps(d.local, ops)
	if notify != nil {
		notify()
	}
	return patch
}

// UpdateLocal runs fn on a clone of the local instance data of path and
// publishes the result. fn returning nil leaves the dataset unchanged.
func (d *Dataset) UpdateLocal(path string, fn func(data *types.InstanceData) *types.InstanceData) bool {
	unlock := d.lockKey(d.local, path)
	defer unlock()

	next := fn(d.Instance(d.local, path).Clone())
	if next == nil {
		return false
	}
	d.ApplyLocal(Op{Kind: OpSet, Path: path, Data: next})
	return true
}

// DeleteLocal removes path from the local subtree
func (d *Dataset) DeleteLocal(path string) bool {
	unlock := d.lockKey(d.local, path)
	defer unlock()

	if d.Instance(d.local, path) == nil {
		return false
	}
	d.ApplyLocal(Op{Kind: OpDelete, Path: path})
	return true
}

// UpdateLocalNode runs fn on a copy of the local node data and publishes it
func (d *Dataset) UpdateLocalNode(fn func(node *types.NodeData)) {
	unlock := d.lockKey(d.local, "")
	defer unlock()

	var next types.NodeData
	if cur := d.NodeData(d.local); cur != nil {
		next = *cur
	}
	fn(&next)
	d.ApplyLocal(Op{Kind: OpNode, Node: &next})
}

// PatchesSince returns the local patches with a generation above known.
// ok is false when the log no longer covers known+1.
func (d *Dataset) PatchesSince(known types.Generation) (patches []Patch, ok bool) {
	d.logMu.Lock()
	defer d.logMu.Unlock()

	if known >= d.gen {
		return nil, true
	}
	if len(d.log) == 0 || d.log[0].Gen > known+1 {
		return nil, false
	}
	for _, p := range d.log {
		if p.Gen > known {
			patches = append(patches, p)
		}
	}
	return patches, true
}

// LocalSnapshot returns a copy of the local subtree and the generation it
// corresponds to
func (d *Dataset) LocalSnapshot() (Snapshot, types.Generation) {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	return d.Snapshot(d.local), d.gen
}

// Snapshot returns a copy of the subtree of node. Values are shared, they
// are never mutated in place.
func (d *Dataset) Snapshot(node string) Snapshot {
	snap := Snapshot{Instances: make(map[string]*types.InstanceData)}
	s, ok := d.lookup(node)
	if !ok {
		return snap
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap.Node = s.node
	for path, data := range s.instances {
		snap.Instances[path] = data
	}
	return snap
}

// ApplyRemote applies ops received from peer to its subtree
func (d *Dataset) ApplyRemote(peer string, ops []Op) {
	d.applyOps(peer, ops)
	d.publishOps(peer, ops)
}

// ReplaceRemote replaces the subtree of peer with snap
func (d *Dataset) ReplaceRemote(peer string, snap Snapshot) {
	s := d.shard(peer)

	s.mu.Lock()
	old := s.instances
	s.node = snap.Node
	s.instances = make(map[string]*types.InstanceData, len(snap.Instances))
	for path, data := range snap.Instances {
		s.instances[path] = data
	}
	s.mu.Unlock()

	if d.broker == nil {
		return
	}
	for path := range old {
		if _, ok := snap.Instances[path]; !ok {
			d.broker.Publish(&events.Event{Type: events.EventInstanceDeleted, Node: peer, Path: path})
		}
	}
	for path := range snap.Instances {
		d.broker.Publish(&events.Event{Type: events.EventInstanceUpdated, Node: peer, Path: path})
	}
	d.broker.Publish(&events.Event{Type: events.EventNodeUpdated, Node: peer})
}

// DropNode forgets everything known about node
func (d *Dataset) DropNode(node string) {
	if node == d.local {
		return
	}
	d.mu.Lock()
	delete(d.shards, node)
	d.mu.Unlock()
}

func (d *Dataset) applyOps(node string, ops []Op) {
	s := d.shard(node)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			s.instances[op.Path] = op.Data
		case OpDelete:
			delete(s.instances, op.Path)
		case OpNode:
			s.node = op.Node
		}
	}
}

func (d *Dataset) publishOps(node string, ops []Op) {
	if d.broker == nil {
		return
	}
	for _, op := range ops {
		ev := &events.Event{Node: node, Path: op.Path}
		switch op.Kind {
		case OpSet:
			ev.Type = events.EventInstanceUpdated
		case OpDelete:
			ev.Type = events.EventInstanceDeleted
		case OpNode:
			ev.Type = events.EventNodeUpdated
		}
		d.broker.Publish(ev)
	}
}

func (d *Dataset) lookup(node string) (*shard, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.shards[node]
	return s, ok
}

// Instance returns the data node publishes for path, or nil
func (d *Dataset) Instance(node, path string) *types.InstanceData {
	s, ok := d.lookup(node)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[path]
}

// Instances returns the data of path on every node publishing it
func (d *Dataset) Instances(path string) map[string]*types.InstanceData {
	result := make(map[string]*types.InstanceData)
	for _, node := range d.Nodes() {
		if data := d.Instance(node, path); data != nil {
			result[node] = data
		}
	}
	return result
}

// NodeData returns the node-level data of node, or nil
func (d *Dataset) NodeData(node string) *types.NodeData {
	s, ok := d.lookup(node)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.node
}

// Nodes returns the nodes with a subtree, sorted
func (d *Dataset) Nodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nodes := make([]string, 0, len(d.shards))
	for node := range d.shards {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// Paths returns every object path known on any node, sorted
func (d *Dataset) Paths() []string {
	seen := make(map[string]bool)
	for _, node := range d.Nodes() {
		for path := range d.Snapshot(node).Instances {
			seen[path] = true
		}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// LocalPaths returns the object paths of the local subtree, sorted
func (d *Dataset) LocalPaths() []string {
	snap := d.Snapshot(d.local)
	paths := make([]string, 0, len(snap.Instances))
	for path := range snap.Instances {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
