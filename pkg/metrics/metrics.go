package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_nodes_total",
			Help: "Number of cluster peers by heartbeat state",
		},
		[]string{"state"},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_instances_total",
			Help: "Number of local instances by availability status",
		},
		[]string{"avail"},
	)

	MonitorStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_monitor_states",
			Help: "Number of local instance monitors by state",
		},
		[]string{"state"},
	)

	// Gossip metrics
	GossipGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_gossip_generation",
			Help: "Generation applied for each node, the local node included",
		},
		[]string{"node"},
	)

	GossipMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_gossip_messages_total",
			Help: "Heartbeat messages by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	GossipDiscardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_gossip_discards_total",
			Help: "Received patches or snapshots discarded, by reason",
		},
		[]string{"reason"},
	)

	GossipFullResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_gossip_full_resyncs_total",
			Help: "Full snapshots applied from peers",
		},
	)

	GossipSendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_gossip_send_errors_total",
			Help: "Heartbeat send failures by peer",
		},
		[]string{"peer"},
	)

	// Monitor metrics
	MonitorTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_monitor_transitions_total",
			Help: "Monitor state transitions by target state",
		},
		[]string{"to"},
	)

	RestartBudgetExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_restart_budget_exhausted_total",
			Help: "Instances that settled in a failed state after exhausting their restart budget",
		},
	)

	// Orchestrator metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_orchestrator_actions_total",
			Help: "Instance actions by action and result",
		},
		[]string{"action", "result"},
	)

	ResourceActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_resource_action_duration_seconds",
			Help:    "Resource driver call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family", "action"},
	)

	// Status evaluator metrics
	StatusPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hive_status_pass_duration_seconds",
			Help:    "Duration of a status evaluation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_api_requests_total",
			Help: "Gateway requests by action and status",
		},
		[]string{"action", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_api_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(MonitorStates)
	prometheus.MustRegister(GossipGeneration)
	prometheus.MustRegister(GossipMessagesTotal)
	prometheus.MustRegister(GossipDiscardsTotal)
	prometheus.MustRegister(GossipFullResyncsTotal)
	prometheus.MustRegister(GossipSendErrorsTotal)
	prometheus.MustRegister(MonitorTransitionsTotal)
	prometheus.MustRegister(RestartBudgetExhaustedTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ResourceActionDuration)
	prometheus.MustRegister(StatusPassDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
