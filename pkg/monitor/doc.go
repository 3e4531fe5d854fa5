/*
Package monitor runs the per-instance state machines of the local node.

A single goroutine owns the monitor records of the local instances. It
evaluates every instance on a ticker and on dataset events, and it serializes
the intents submitted by the API handlers, so no other component ever writes a
monitor record.

Each evaluation builds a View from the replicated dataset and calls Decide,
which is side-effect free. Decide honors the global expect first (started,
stopped, provisioned, unprovisioned, purged, frozen, thawed, placed,
placed@<node>), then falls back to the orchestrate policy of the object:
restarting monitored resources within their restart budget and, for ha
services, starting the instance on the leader after the ready period.

Actions run on their own goroutine through an Actor and report back on a
results channel. Only one action per instance is in flight at a time.
*/
package monitor
