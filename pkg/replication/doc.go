/*
Package replication keeps the cluster dataset converged across nodes.

Each node owns one subtree of the dataset and is its only writer. Every local
mutation bumps the node's generation and is recorded in a bounded patch log.
The engine runs one heartbeat loop per peer. A heartbeat carries one of:

  - full: a snapshot of the sender subtree, sent when the peer has not
    acknowledged any generation yet, when it waits for a resync, or when the
    patch log no longer covers its last acknowledged generation
  - patch: the ordered patches the peer is missing
  - ping: nothing, the peer is up to date

The receiver applies patches strictly in generation order. Duplicates are
dropped and a gap stops the apply: the acknowledgment then carries the last
applied generation and the sender resends from there. Applying the same
message twice is harmless.

Every incarnation of the daemon draws a new session identifier. A peer seen
with a new session is treated as restarted: its subtree is only accepted
again from a full snapshot.

Peers not heard from for StaleAfter are stale, for DownAfter are down.
*/
package replication
