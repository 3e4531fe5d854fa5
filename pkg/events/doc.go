/*
Package events provides the in-memory event broker connecting Hive components.

The dataset publishes an event for every instance or node change it applies,
whether the change is local or came from a peer through gossip. The monitor
subscribes to re-evaluate the instances whose data changed or whose
candidate nodes changed liveness.

# Architecture

	Dataset ─────┐
	Replication ─┼─Publish──► queue (256) ──► deliver loop
	Monitor ─────┘                               │
	                               type filter per subscriber
	                                             │
	                                             ▼
	                                  Monitor (buffer 128)

# Event Types

	instance.updated    an instance config, status or monitor changed
	instance.deleted    an instance disappeared from a node
	node.updated        node-level data changed (frozen, stats, labels)
	peer.alive/stale/down  liveness transitions of a peer
	peer.full_resync    a full snapshot replaced a peer's subtree
	monitor.changed     the local monitor changed state
	action.failed       an orchestration action failed

A subscriber may restrict the types it receives:

	sub := broker.Subscribe(events.EventInstanceUpdated, events.EventPeerDown)
	defer broker.Unsubscribe(sub)

Delivery is best effort: a subscriber whose buffer is full misses events and
Dropped counts them. The monitor compensates with its periodic full
evaluation.
*/
package events
