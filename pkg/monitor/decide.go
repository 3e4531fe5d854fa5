package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/placement"
	"github.com/cuemby/hive/pkg/types"
)

// Placement states
const (
	PlacementOptimal    = "optimal"
	PlacementNonOptimal = "non-optimal"
)

// NodeView is what the local node knows about one config node
type NodeView struct {
	State    types.PeerState
	Frozen   bool
	Stats    types.NodeStats
	Instance *types.InstanceData
}

// View is the input of one monitor decision for one local instance
type View struct {
	Local            string
	Path             string
	Config           *types.InstanceConfig
	Status           *types.InstanceStatus
	Monitor          types.Monitor
	Nodes            map[string]NodeView
	Load             map[string]int
	Now              time.Time
	ReadyPeriod      time.Duration
	DefaultPlacement string
	InFlight         bool
}

// Decision is the outcome of one evaluation: the next monitor record and
// at most one thing to do
type Decision struct {
	Monitor types.Monitor
	Action  orchestrator.Action
	// Restart is set when Action restarts monitored resources whose restart
	// budget was already charged
	Restart bool
	Freeze  bool
	Thaw    bool
	Purge   bool
}

// Decide computes the next monitor record of the local instance and the
// action to run, if any. It has no side effect.
func Decide(v *View) Decision {
	m := v.Monitor
	if m.Status == "" {
		m.Status = types.MonIdle
	}
	d := Decision{}
	adopt(&m, v)

	if v.InFlight || v.Config == nil || v.Status == nil {
		d.Monitor = m
		return d
	}
	if m.Status.IsDoing() {
		// an action that is not in flight anymore was interrupted
		setStatus(&m, types.MonIdle, v.Now)
	}

	switch m.GlobalExpect {
	case types.ExpectFrozen:
		if v.all(func(s *types.InstanceStatus) bool { return s.IsFrozen() }) {
			clearExpect(&m)
		} else if !v.Status.IsFrozen() {
			d.Freeze = true
		}
		d.Monitor = m
		return d
	case types.ExpectThawed:
		if v.all(func(s *types.InstanceStatus) bool { return !s.IsFrozen() }) {
			clearExpect(&m)
		} else if v.Status.IsFrozen() {
			d.Thaw = true
		}
		d.Monitor = m
		return d
	}

	if v.Status.IsFrozen() || v.Nodes[v.Local].Frozen {
		setStatus(&m, types.MonIdle, v.Now)
		m.Reason = "frozen"
		d.Monitor = m
		return d
	}
	if !m.Status.IsFailed() {
		m.Reason = ""
	}

	ranked, stale := v.rank(&m)
	leaders := placement.Leaders(ranked, v.Config.Topology, v.Config.FlexTarget)
	isLeader := contains(leaders, v.Local)
	up := v.upNodes()
	localUp := v.Status.Avail.IsUp()
	otherUp := len(up) > 1 || (len(up) == 1 && up[0] != v.Local)

	m.IsLeader = isLeader
	m.Placement = ""
	if len(up) > 0 {
		m.Placement = PlacementNonOptimal
		if sameSet(up, leaders) {
			m.Placement = PlacementOptimal
		}
	}

	start := func() {
		switch {
		case m.Status.IsFailed():
		case stale:
			setStatus(&m, types.MonWaitLeader, v.Now)
			m.Reason = "replication stale"
		default:
			d.Action = orchestrator.ActionStart
			setStatus(&m, types.MonStarting, v.Now)
		}
	}
	act := func(action orchestrator.Action, doing types.MonitorStatus) {
		d.Action = action
		setStatus(&m, doing, v.Now)
	}

	switch m.GlobalExpect {
	case types.ExpectStarted:
		switch {
		case v.startedSatisfied(up, ranked):
			clearExpect(&m)
			idle(&m, v.Now)
		case isLeader && !localUp && !(v.Config.Topology == types.TopologyFailover && otherUp):
			start()
		}

	case types.ExpectStopped:
		switch {
		case len(up) == 0:
			clearExpect(&m)
			idle(&m, v.Now)
		case localUp:
			act(orchestrator.ActionStop, types.MonStopping)
		}

	case types.ExpectProvisioned:
		switch {
		case v.all(func(s *types.InstanceStatus) bool { return s.Provisioned == types.TriTrue || s.Provisioned == types.TriNA }):
			clearExpect(&m)
			idle(&m, v.Now)
		case v.Status.Provisioned != types.TriTrue && v.Status.Provisioned != types.TriNA:
			act(orchestrator.ActionProvision, types.MonProvisioning)
		}

	case types.ExpectUnprovisioned:
		switch {
		case v.all(func(s *types.InstanceStatus) bool { return s.Provisioned == types.TriFalse || s.Provisioned == types.TriNA }):
			clearExpect(&m)
			idle(&m, v.Now)
		case v.Status.Provisioned == types.TriTrue || v.Status.Provisioned == types.TriMixed:
			act(orchestrator.ActionUnprovision, types.MonUnprovisioning)
		}

	case types.ExpectPurged:
		switch {
		case m.Status == types.MonPurgeFailed:
		case v.Status.Provisioned == types.TriTrue || v.Status.Provisioned == types.TriMixed:
			act(orchestrator.ActionUnprovision, types.MonPurging)
		default:
			d.Purge = true
			setStatus(&m, types.MonPurging, v.Now)
		}

	case types.ExpectPlaced, types.ExpectPlacedAt:
		switch {
		case len(up) > 0 && sameSet(up, leaders):
			clearExpect(&m)
			idle(&m, v.Now)
		case !isLeader && localUp:
			act(orchestrator.ActionStop, types.MonStopping)
		case isLeader && !localUp:
			if v.Config.Topology == types.TopologyFailover && otherUp {
				m.Reason = "waiting for the current owner to stop"
				break
			}
			start()
		}

	default:
		v.localPolicy(&m, &d, isLeader, otherUp, stale)
	}

	d.Monitor = m
	return d
}

// localPolicy runs when no global expect is set: restarts of monitored
// resources and the ha orchestration
func (v *View) localPolicy(m *types.Monitor, d *Decision, isLeader, otherUp, stale bool) {
	if m.Status.IsFailed() {
		return
	}

	avail := v.Status.Avail
	needsStart := avail == types.StatusDown || avail == types.StatusWarn ||
		avail == types.StatusStandbyUp || avail == types.StatusStandbyDown
	monitored := v.monitoredDown()

	var auto bool
	switch v.Config.Orchestrate {
	case types.OrchestrateHA:
		auto = m.LocalExpect != types.LocalExpectShutdown
	case types.OrchestrateStart:
		auto = m.LocalExpect == types.LocalExpectNone
	}

	restart := avail.IsUp() && len(monitored) > 0 && m.LocalExpect == types.LocalExpectStarted
	switch {
	case restart:
		// a monitored resource of a running instance went down
	case auto && isLeader && needsStart && !(v.Config.Topology == types.TopologyFailover && otherUp):
	default:
		if m.Status == types.MonReady || m.Status == types.MonWaitLeader {
			setStatus(m, types.MonIdle, v.Now)
		}
		return
	}

	if stale {
		setStatus(m, types.MonWaitLeader, v.Now)
		m.Reason = "replication stale"
		return
	}
	if m.Status != types.MonReady {
		setStatus(m, types.MonReady, v.Now)
		return
	}
	if v.Now.Sub(m.StatusUpdated) < v.ReadyPeriod {
		return
	}

	// a start of a down instance is free, a failed one is charged when the
	// action completes. Only the restart of a resource that went down is
	// charged here.
	if restart {
		for _, rid := range monitored {
			remaining := budget(m, rid, v.Status.Resources[rid].Restart)
			if remaining <= 0 {
				setStatus(m, types.MonStartFailed, v.Now)
				m.Reason = fmt.Sprintf("%s: restart budget exhausted", rid)
				return
			}
			setBudget(m, rid, remaining-1)
		}
		d.Restart = true
	}
	d.Action = orchestrator.ActionStart
	setStatus(m, types.MonStarting, v.Now)
}

// adopt copies a global expect set more recently on a peer
func adopt(m *types.Monitor, v *View) {
	for _, node := range sortedNodes(v.Nodes) {
		if node == v.Local {
			continue
		}
		nv := v.Nodes[node]
		if nv.State != types.PeerAlive || nv.Instance == nil || nv.Instance.Monitor == nil {
			continue
		}
		pm := nv.Instance.Monitor
		if pm.GlobalExpectUpdated.After(m.GlobalExpectUpdated) {
			m.GlobalExpect = pm.GlobalExpect
			m.GlobalExpectTarget = pm.GlobalExpectTarget
			m.GlobalExpectUpdated = pm.GlobalExpectUpdated
		}
	}
}

// rank returns the candidate nodes, best first, and whether a stale peer
// prevents a safe start decision
func (v *View) rank(m *types.Monitor) (ranked []string, stale bool) {
	var candidates []string
	for _, node := range v.Config.Nodes {
		nv, ok := v.Nodes[node]
		if !ok {
			continue
		}
		if node != v.Local && nv.State == types.PeerStale {
			stale = true
		}
		if v.isCandidate(node, nv, m) {
			candidates = append(candidates, node)
		}
	}

	policy, err := placement.Get(v.Config.Placement)
	if v.Config.Placement == "" {
		policy, err = placement.Get(v.DefaultPlacement)
	}
	if err != nil {
		policy, _ = placement.Get(placement.NodesOrder)
	}

	stats := make(map[string]types.NodeStats, len(v.Nodes))
	for node, nv := range v.Nodes {
		stats[node] = nv.Stats
	}
	ranked = policy.Rank(placement.Input{
		Path:  v.Path,
		Nodes: candidates,
		Stats: stats,
		Load:  v.Load,
	})

	switch m.GlobalExpect {
	case types.ExpectPlacedAt:
		ranked = placement.Promote(ranked, m.GlobalExpectTarget)
	case types.ExpectPlaced:
	default:
		// current owners keep the instance
		sort.SliceStable(ranked, func(i, j int) bool {
			return v.isUp(ranked[i]) && !v.isUp(ranked[j])
		})
	}
	return ranked, stale
}

func (v *View) isCandidate(node string, nv NodeView, m *types.Monitor) bool {
	if nv.Frozen {
		return false
	}
	if node == v.Local {
		return v.Status.Constraints && !v.Status.IsFrozen() && !m.Status.IsFailed()
	}
	if nv.State != types.PeerAlive || nv.Instance == nil || nv.Instance.Status == nil {
		return false
	}
	st := nv.Instance.Status
	if !st.Constraints || st.IsFrozen() {
		return false
	}
	return nv.Instance.Monitor == nil || !nv.Instance.Monitor.Status.IsFailed()
}

// status returns the instance status of node, nil when unknown or down
func (v *View) status(node string) *types.InstanceStatus {
	if node == v.Local {
		return v.Status
	}
	nv, ok := v.Nodes[node]
	if !ok || nv.State == types.PeerDown || nv.Instance == nil {
		return nil
	}
	return nv.Instance.Status
}

func (v *View) isUp(node string) bool {
	st := v.status(node)
	return st != nil && st.Avail.IsUp()
}

// upNodes returns the config nodes running the instance, sorted
func (v *View) upNodes() []string {
	var up []string
	for _, node := range sortedNodes(v.Nodes) {
		if v.isUp(node) {
			up = append(up, node)
		}
	}
	return up
}

// all reports if fn holds for the instance status of every reachable node
func (v *View) all(fn func(*types.InstanceStatus) bool) bool {
	for node := range v.Nodes {
		if st := v.status(node); st != nil && !fn(st) {
			return false
		}
	}
	return true
}

func (v *View) startedSatisfied(up, candidates []string) bool {
	if len(up) == 0 {
		return false
	}
	if v.Config.Topology != types.TopologyFlex {
		return true
	}
	target := v.Config.FlexTarget
	if target > len(candidates) {
		target = len(candidates)
	}
	return len(up) >= target
}

// monitoredDown returns the monitored resources of the local instance that
// are down
func (v *View) monitoredDown() []string {
	var rids []string
	for _, rid := range v.Status.SortedRIDs() {
		r := v.Status.Resources[rid]
		if r.Monitor && !r.Disabled && r.Status == types.StatusDown {
			rids = append(rids, rid)
		}
	}
	return rids
}

func budget(m *types.Monitor, rid string, configured int) int {
	if remaining, ok := m.Restart[rid]; ok {
		return remaining
	}
	return configured
}

func setBudget(m *types.Monitor, rid string, remaining int) {
	restart := make(map[string]int, len(m.Restart)+1)
	for k, v := range m.Restart {
		restart[k] = v
	}
	restart[rid] = remaining
	m.Restart = restart
}

func setStatus(m *types.Monitor, s types.MonitorStatus, now time.Time) {
	if m.Status == s {
		return
	}
	m.Status = s
	m.StatusUpdated = now
}

func idle(m *types.Monitor, now time.Time) {
	if !m.Status.IsFailed() {
		setStatus(m, types.MonIdle, now)
	}
}

func clearExpect(m *types.Monitor) {
	m.GlobalExpect = types.ExpectNone
	m.GlobalExpectTarget = ""
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, e := range a {
		if !contains(b, e) {
			return false
		}
	}
	return true
}

func sortedNodes(nodes map[string]NodeView) []string {
	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
