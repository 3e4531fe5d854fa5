package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Generation is a per-node counter bumped on every local dataset mutation
type Generation uint64

// Status is the availability status of a resource or an instance
type Status string

const (
	StatusUp            Status = "up"
	StatusDown          Status = "down"
	StatusWarn          Status = "warn"
	StatusStandbyUp     Status = "stdby up"
	StatusStandbyDown   Status = "stdby down"
	StatusNotApplicable Status = "n/a"
	StatusUndef         Status = "undef"
)

// IsUp reports if the status counts as running for placement decisions
func (s Status) IsUp() bool {
	return s == StatusUp || s == StatusWarn
}

// Add merges two statuses the way instance aggregates are computed.
// n/a and undef are neutral elements.
func (s Status) Add(o Status) Status {
	if s == "" || s == StatusNotApplicable || s == StatusUndef {
		if o == "" {
			return StatusNotApplicable
		}
		return o
	}
	if o == "" || o == StatusNotApplicable || o == StatusUndef {
		return s
	}
	if s == StatusWarn || o == StatusWarn {
		return StatusWarn
	}
	if s == o {
		return s
	}
	pair := map[Status]bool{s: true, o: true}
	switch {
	case pair[StatusUp] && pair[StatusStandbyUp]:
		return StatusUp
	case pair[StatusDown] && pair[StatusStandbyUp]:
		return StatusStandbyUp
	case pair[StatusDown] && pair[StatusStandbyDown]:
		return StatusStandbyDown
	default:
		return StatusWarn
	}
}

// TriState is the provisioned state of a resource or an instance
type TriState string

const (
	TriTrue  TriState = "true"
	TriFalse TriState = "false"
	TriMixed TriState = "mixed"
	TriNA    TriState = "n/a"
)

// Add merges two provisioned states
func (t TriState) Add(o TriState) TriState {
	if t == "" || t == TriNA {
		if o == "" {
			return TriNA
		}
		return o
	}
	if o == "" || o == TriNA {
		return t
	}
	if t == o {
		return t
	}
	return TriMixed
}

// Bool converts a boolean to a TriState
func Bool(b bool) TriState {
	if b {
		return TriTrue
	}
	return TriFalse
}

// ResourceStatus is the evaluated state of one resource of an instance
type ResourceStatus struct {
	RID         string    `json:"rid"`
	Type        string    `json:"type"`
	Label       string    `json:"label,omitempty"`
	Status      Status    `json:"status"`
	Subset      string    `json:"subset,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	Monitor     bool      `json:"monitor,omitempty"`
	Optional    bool      `json:"optional,omitempty"`
	Encap       bool      `json:"encap,omitempty"`
	Standby     bool      `json:"standby,omitempty"`
	Provisioned TriState  `json:"provisioned"`
	Restart     int       `json:"restart,omitempty"`
	Log         []string  `json:"log,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Flags renders the fixed-width flag vector of a resource.
// remaining < 0 means no restart budget is tracked.
func (r ResourceStatus) Flags(running bool, remaining int) string {
	var b strings.Builder
	flag := func(on bool, c byte) {
		if on {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	flag(running, 'R')
	flag(r.Monitor, 'M')
	flag(r.Disabled, 'D')
	flag(r.Optional, 'O')
	flag(r.Encap, 'E')
	flag(r.Provisioned == TriFalse, 'P')
	flag(r.Standby, 'S')
	switch {
	case remaining < 0 || (remaining == 0 && r.Restart == 0):
		b.WriteByte('.')
	case remaining > 9:
		b.WriteByte('+')
	default:
		b.WriteString(fmt.Sprint(remaining))
	}
	return b.String()
}

// Topology is the placement topology of a service
type Topology string

const (
	TopologyFailover Topology = "failover"
	TopologyFlex     Topology = "flex"
)

// Orchestrate is the automatic orchestration mode of a service
type Orchestrate string

const (
	OrchestrateNo    Orchestrate = "no"
	OrchestrateHA    Orchestrate = "ha"
	OrchestrateStart Orchestrate = "start"
)

// InstanceConfig is the configuration-derived part of an instance, published
// so peers can reason about placement without parsing the object config.
type InstanceConfig struct {
	Path        string                  `json:"path"`
	Nodes       []string                `json:"nodes"`
	Topology    Topology                `json:"topology"`
	Orchestrate Orchestrate             `json:"orchestrate"`
	Placement   string                  `json:"placement"`
	FlexTarget  int                     `json:"flex_target,omitempty"`
	Priority    int                     `json:"priority"`
	Subsets     map[string]SubsetConfig `json:"subsets,omitempty"`
	Checksum    string                  `json:"csum"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// SubsetConfig holds per-subset orchestration settings
type SubsetConfig struct {
	Parallel bool `json:"parallel"`
}

// HasNode reports if node is in the configured node list
func (c *InstanceConfig) HasNode(node string) bool {
	for _, n := range c.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// InstanceStatus is one node's snapshot of a service instance
type InstanceStatus struct {
	Path        string                    `json:"path"`
	Avail       Status                    `json:"avail"`
	Overall     Status                    `json:"overall"`
	Optional    Status                    `json:"optional"`
	Frozen      time.Time                 `json:"frozen"`
	Constraints bool                      `json:"constraints"`
	Provisioned TriState                  `json:"provisioned"`
	Resources   map[string]ResourceStatus `json:"resources,omitempty"`
	Running     []string                  `json:"running,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// IsFrozen reports if the instance is frozen
func (s *InstanceStatus) IsFrozen() bool {
	return s != nil && !s.Frozen.IsZero()
}

// SortedRIDs returns the resource ids in lexical order
func (s *InstanceStatus) SortedRIDs() []string {
	rids := make([]string, 0, len(s.Resources))
	for rid := range s.Resources {
		rids = append(rids, rid)
	}
	sort.Strings(rids)
	return rids
}

// Aggregate recomputes Avail, Overall, Optional and Provisioned from the resources
func (s *InstanceStatus) Aggregate() {
	avail := StatusNotApplicable
	optional := StatusNotApplicable
	prov := TriNA
	for _, rid := range s.SortedRIDs() {
		r := s.Resources[rid]
		if r.Disabled {
			continue
		}
		prov = prov.Add(r.Provisioned)
		if r.Optional || isStatusOnlyFamily(rid) {
			optional = optional.Add(r.Status)
			continue
		}
		avail = avail.Add(r.Status)
	}
	s.Avail = avail
	s.Optional = optional
	s.Provisioned = prov
	s.Overall = avail
	if optional == StatusWarn || (avail.IsUp() && optional == StatusDown) {
		s.Overall = StatusWarn
	}
}

func isStatusOnlyFamily(rid string) bool {
	family := strings.SplitN(rid, "#", 2)[0]
	return family == "sync" || family == "task"
}

// MonitorStatus is the state of a per-instance monitor
type MonitorStatus string

const (
	MonIdle              MonitorStatus = "idle"
	MonWaitLeader        MonitorStatus = "wait-leader"
	MonReady             MonitorStatus = "ready"
	MonStarting          MonitorStatus = "starting"
	MonStarted           MonitorStatus = "started"
	MonStopping          MonitorStatus = "stopping"
	MonStopped           MonitorStatus = "stopped"
	MonStartFailed       MonitorStatus = "start-failed"
	MonStopFailed        MonitorStatus = "stop-failed"
	MonProvisioning      MonitorStatus = "provisioning"
	MonProvisioned       MonitorStatus = "provisioned"
	MonProvisionFailed   MonitorStatus = "provision-failed"
	MonUnprovisioning    MonitorStatus = "unprovisioning"
	MonUnprovisionFailed MonitorStatus = "unprovision-failed"
	MonPurging           MonitorStatus = "purging"
	MonPurgeFailed       MonitorStatus = "purge-failed"
)

// IsFailed reports if the monitor settled in a failed state
func (s MonitorStatus) IsFailed() bool {
	return strings.HasSuffix(string(s), "-failed")
}

// IsDoing reports if an action is in flight
func (s MonitorStatus) IsDoing() bool {
	switch s {
	case MonStarting, MonStopping, MonProvisioning, MonUnprovisioning, MonPurging:
		return true
	}
	return false
}

// LocalExpect is the node-local intent for an instance
type LocalExpect string

const (
	LocalExpectNone     LocalExpect = ""
	LocalExpectStarted  LocalExpect = "started"
	LocalExpectShutdown LocalExpect = "shutdown"
)

// GlobalExpect is the cluster-wide desired state of a service
type GlobalExpect string

const (
	ExpectNone          GlobalExpect = ""
	ExpectStarted       GlobalExpect = "started"
	ExpectStopped       GlobalExpect = "stopped"
	ExpectProvisioned   GlobalExpect = "provisioned"
	ExpectUnprovisioned GlobalExpect = "unprovisioned"
	ExpectPurged        GlobalExpect = "purged"
	ExpectFrozen        GlobalExpect = "frozen"
	ExpectThawed        GlobalExpect = "thawed"
	ExpectPlaced        GlobalExpect = "placed"
	ExpectPlacedAt      GlobalExpect = "placed@"
)

// ParseGlobalExpect parses a global expect value, splitting the target
// node out of "placed@<node>".
func ParseGlobalExpect(s string) (GlobalExpect, string, error) {
	if strings.HasPrefix(s, string(ExpectPlacedAt)) {
		target := strings.TrimPrefix(s, string(ExpectPlacedAt))
		if target == "" {
			return "", "", fmt.Errorf("placed@ requires a node name")
		}
		return ExpectPlacedAt, target, nil
	}
	switch GlobalExpect(s) {
	case ExpectStarted, ExpectStopped, ExpectProvisioned, ExpectUnprovisioned,
		ExpectPurged, ExpectFrozen, ExpectThawed, ExpectPlaced:
		return GlobalExpect(s), "", nil
	case "none", "unset", "":
		return ExpectNone, "", nil
	}
	return "", "", fmt.Errorf("invalid global expect: %s", s)
}

// Monitor is the per-instance monitor record (smon)
type Monitor struct {
	Status              MonitorStatus  `json:"status"`
	LocalExpect         LocalExpect    `json:"local_expect"`
	GlobalExpect        GlobalExpect   `json:"global_expect"`
	GlobalExpectTarget  string         `json:"global_expect_target,omitempty"`
	GlobalExpectUpdated time.Time      `json:"global_expect_updated"`
	StatusUpdated       time.Time      `json:"status_updated"`
	IsLeader            bool           `json:"is_leader"`
	Placement           string         `json:"placement,omitempty"`
	Restart             map[string]int `json:"restart,omitempty"`
	Reason              string         `json:"reason,omitempty"`
}

// ExpectString renders the global expect with its target
func (m *Monitor) ExpectString() string {
	if m.GlobalExpect == ExpectPlacedAt {
		return string(ExpectPlacedAt) + m.GlobalExpectTarget
	}
	if m.GlobalExpect == ExpectNone {
		return "none"
	}
	return string(m.GlobalExpect)
}

// InstanceData is everything one node publishes about one object.
// Values are treated as immutable once stored in a dataset.
type InstanceData struct {
	Config  *InstanceConfig `json:"config,omitempty"`
	Status  *InstanceStatus `json:"status,omitempty"`
	Monitor *Monitor        `json:"monitor,omitempty"`
}

// Clone returns a shallow copy suitable for copy-on-write updates
func (d *InstanceData) Clone() *InstanceData {
	if d == nil {
		return &InstanceData{}
	}
	c := *d
	return &c
}

// NodeStats are the capacity figures used by the score placement policy
type NodeStats struct {
	Load15      float64 `json:"load_15m"`
	MemAvailPct int     `json:"mem_avail_pct"`
	MemTotalMB  uint64  `json:"mem_total_mb"`
	Score       int     `json:"score"`
}

// NodeData is the node-level part of the gossiped dataset
type NodeData struct {
	Frozen    time.Time         `json:"frozen"`
	Labels    map[string]string `json:"labels,omitempty"`
	Stats     NodeStats         `json:"stats"`
	Status    string            `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsFrozen reports if the node is frozen
func (n *NodeData) IsFrozen() bool {
	return n != nil && !n.Frozen.IsZero()
}

// PeerState is the liveness of a peer as seen by the local node
type PeerState string

const (
	PeerAlive PeerState = "alive"
	PeerStale PeerState = "stale"
	PeerDown  PeerState = "down"
)

// PeerStatus tracks one peer's heartbeat liveness
type PeerStatus struct {
	State   PeerState  `json:"state"`
	Session string     `json:"session,omitempty"`
	LastAt  time.Time  `json:"last_at"`
	Gen     Generation `json:"gen"`
}
