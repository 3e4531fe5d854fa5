/*
Package dataset holds the node-local replica of the cluster state.

The dataset keeps one shard per node. A shard maps object paths to immutable
*types.InstanceData values plus the node-level *types.NodeData. Writers never
mutate a stored value: they build a new one and swap it in.

Only the local shard is written by local code, through ApplyLocal and its
helpers. Each local write bumps the local generation and appends a Patch to a
bounded log, which the replication engine uses to send deltas to peers.
Remote shards are written exclusively by the replication engine, through
ApplyRemote (deltas) and ReplaceRemote (full snapshots).

Lock order: logMu, then a shard lock. Read-modify-write helpers additionally
take a per-(node, path) writer lock first.
*/
package dataset
