/*
Package daemon assembles the components of a Hive node and runs them.

A Daemon owns the node store, the cluster dataset, the replication engine,
the orchestrator, the status evaluator, the monitor and the gateway servers.
Nothing is shared through package state besides the logger and the metrics
registries.

	           gRPC / HTTP
	               │
	        ┌──────▼──────┐  relay, heartbeats   ┌──────────┐
	        │   Gateway   ├─────────────────────►│   Pool   ├──► peers
	        └──┬───────┬──┘                      └────▲─────┘
	  intents  │       │ reads                        │
	        ┌──▼────┐ ┌▼────────┐   deltas      ┌─────┴─────┐
	        │Monitor│ │ Dataset │◄─────────────►│Replication│
	        └──┬────┘ └▲────────┘               └───────────┘
	   actions │       │ status
	        ┌──▼───────┴─┐
	        │ Orchestrator│ Evaluator ── drivers ── store
	        └─────────────┘

Start publishes the node data and a first status of every local instance
before the first heartbeat leaves, then starts the loops and the servers.
Stop runs in the reverse order.

Object configs are stored on every node listed in them. A node pulls, from
the peer advertising the most recent checksum, the config of any object
listing it that it does not store, or stores an older version of.

Without a configured cluster secret, a single node generates one in its
data directory. The CLI reads it from there to authenticate as root.
*/
package daemon
