package metrics

import (
	"time"

	"github.com/cuemby/hive/pkg/types"
)

// Source exposes the daemon state the collector turns into gauges
type Source interface {
	PeerStatuses() map[string]types.PeerStatus
	LocalInstances() map[string]*types.InstanceData
	Generations() map[string]types.Generation
}

// Collector periodically refreshes the gauges from a Source
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPeerMetrics()
	c.collectInstanceMetrics()
	c.collectGenerationMetrics()
}

func (c *Collector) collectPeerMetrics() {
	counts := map[types.PeerState]int{
		types.PeerAlive: 0,
		types.PeerStale: 0,
		types.PeerDown:  0,
	}
	for _, st := range c.source.PeerStatuses() {
		counts[st.State]++
	}
	for state, n := range counts {
		NodesTotal.WithLabelValues(string(state)).Set(float64(n))
	}
}

func (c *Collector) collectInstanceMetrics() {
	avails := make(map[string]int)
	states := make(map[string]int)
	for _, data := range c.source.LocalInstances() {
		if data.Status != nil {
			avails[string(data.Status.Avail)]++
		}
		if data.Monitor != nil {
			states[string(data.Monitor.Status)]++
		}
	}

	InstancesTotal.Reset()
	for avail, n := range avails {
		InstancesTotal.WithLabelValues(avail).Set(float64(n))
	}
	MonitorStates.Reset()
	for state, n := range states {
		MonitorStates.WithLabelValues(state).Set(float64(n))
	}
}

func (c *Collector) collectGenerationMetrics() {
	for node, gen := range c.source.Generations() {
		GossipGeneration.WithLabelValues(node).Set(float64(gen))
	}
}
