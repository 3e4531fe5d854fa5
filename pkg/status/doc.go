// Package status evaluates the local instances. On every pass it builds the
// resources of each local service or volume through the driver registry,
// collects their status and provisioned state, aggregates them into an
// InstanceStatus and publishes it with the instance config summary in the
// local dataset subtree. It also publishes the node labels, frozen flag and
// capacity figures used by placement.
package status
