/*
Package metrics defines the Prometheus metrics and the health endpoints of the
Hive daemon.

All metrics are registered on the default Prometheus registry when the package
is initialized and are served by Handler on the /metrics route of the daemon
HTTP server, next to /health, /ready and /live.

# Architecture

	┌──────────────────────── METRICS ─────────────────────────┐
	│                                                           │
	│  instrumented code           Collector (every 15s)        │
	│  ┌────────────────────┐      ┌──────────────────────┐     │
	│  │ replication engine │      │ Source (the daemon)  │     │
	│  │ monitor            │      │  PeerStatuses        │     │
	│  │ orchestrator       │      │  LocalInstances      │     │
	│  │ status evaluator   │      │  Generations         │     │
	│  │ api gateway        │      └──────────┬───────────┘     │
	│  └─────────┬──────────┘                 │ gauges          │
	│            │ counters, histograms       │                 │
	│            ▼                            ▼                 │
	│  ┌─────────────────────────────────────────────────┐      │
	│  │        prometheus.DefaultRegisterer             │      │
	│  └──────────────────────┬──────────────────────────┘      │
	│                         ▼                                 │
	│                  GET /metrics                             │
	│                                                           │
	│  Registry: component states ──► /health /ready /live      │
	└───────────────────────────────────────────────────────────┘

# Metric Families

Cluster gauges, refreshed by the Collector:

  - hive_nodes_total{state}: peers by heartbeat state (alive, stale, down)
  - hive_instances_total{avail}: local instances by availability status
  - hive_monitor_states{state}: local instance monitors by state
  - hive_gossip_generation{node}: generation applied for each node

Gossip counters, incremented by the replication engine:

  - hive_gossip_messages_total{direction,kind}
  - hive_gossip_discards_total{reason}
  - hive_gossip_full_resyncs_total
  - hive_gossip_send_errors_total{peer}

Monitor, orchestrator and status evaluator:

  - hive_monitor_transitions_total{to}
  - hive_restart_budget_exhausted_total
  - hive_orchestrator_actions_total{action,result}
  - hive_resource_action_duration_seconds{family,action}
  - hive_status_pass_duration_seconds

Gateway:

  - hive_api_requests_total{action,status}
  - hive_api_request_duration_seconds{action}

# Timing

Timer records the duration of an operation into a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ResourceActionDuration, "fs", "start")

# Health

The daemon reports the state of its components with RegisterComponent and
UpdateComponent. The components named by DefaultCritical (storage,
replication, monitor and api) gate readiness:

  - /health answers 503 when a critical component is unhealthy. A failing
    non-critical component only reports the node as degraded.
  - /ready answers 503 until every critical component is registered and
    healthy.
  - /live always answers 200 while the process serves HTTP.
*/
package metrics
