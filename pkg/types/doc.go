/*
Package types defines the data structures replicated between Hive daemons.

Every node publishes, for every object it hosts, an InstanceData value made of
three parts:

  - InstanceConfig: the configuration-derived facts peers need for placement
    (configured nodes, topology, orchestrate mode, placement policy, subsets)
  - InstanceStatus: the evaluated availability of the instance and of each of
    its resources
  - Monitor: the per-instance orchestration state machine record, including the
    local and global expectations

Node-level facts (frozen flag, labels, capacity stats) travel as NodeData.

# Status Algebra

Instance aggregates are folded with Status.Add, where "n/a" and "undef" are
neutral:

	up    + up          = up
	up    + down        = warn
	up    + stdby up    = up
	down  + stdby up    = stdby up
	down  + stdby down  = stdby down
	warn  + anything    = warn

Provisioned states fold the same way with TriState.Add: equal values stay,
different values give "mixed".

# Resource Flags

ResourceStatus.Flags renders the fixed-width vector shown by status commands:

	R  running (an action is in flight)
	M  monitored
	D  disabled
	O  optional
	E  encapsulated
	P  not provisioned
	S  standby
	N  remaining restart budget, '+' above 9, '.' when unset

Values stored in a dataset are never mutated in place. Writers clone with
InstanceData.Clone and replace the whole value.
*/
package types
