package monitor

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/events"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/placement"
	"github.com/cuemby/hive/pkg/types"
	"github.com/rs/zerolog"
)

// Config configures the monitor
type Config struct {
	Local            string
	Interval         time.Duration
	ReadyPeriod      time.Duration
	DefaultPlacement string

	// Writer publishes the monitor records, the dataset when nil
	Writer dataset.Writer
}

// Cluster reports peer liveness
type Cluster interface {
	PeerState(node string) types.PeerState
}

// Actor executes the decisions of the monitor on the local node
type Actor interface {
	// Do runs an orchestrator action on the local instance of path
	Do(ctx context.Context, path string, action orchestrator.Action) error

	// SetFrozen freezes or thaws the local instance of path
	SetFrozen(path string, frozen bool) error

	// Purge removes the object from the local node
	Purge(path string) error
}

// IntentKind is the kind of a request submitted to the monitor
type IntentKind string

const (
	IntentSetMonitor IntentKind = "set_smon"
	IntentClear      IntentKind = "clear"
	IntentCreate     IntentKind = "create"
	IntentDelete     IntentKind = "delete"
)

// Intent is a request submitted by a handler. The monitor goroutine is the
// single writer of the monitor records, handlers never write them.
type Intent struct {
	Kind         IntentKind
	Path         string
	GlobalExpect string
	LocalExpect  string

	reply chan error
}

type result struct {
	path    string
	action  orchestrator.Action
	charged bool
	err     error
}

// Monitor runs the per-instance state machines of the local node
type Monitor struct {
	cfg     Config
	ds      *dataset.Dataset
	writer  dataset.Writer
	cluster Cluster
	actor   Actor
	broker  *events.Broker
	logger  zerolog.Logger
	now     func() time.Time

	intents chan *Intent
	results chan result

	// owned by the run goroutine
	inflight map[string]orchestrator.Action

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. broker may be nil, the monitor then only evaluates
// on ticks and intents.
func New(cfg Config, ds *dataset.Dataset, cluster Cluster, actor Actor, broker *events.Broker) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.DefaultPlacement == "" {
		cfg.DefaultPlacement = placement.NodesOrder
	}
	writer := cfg.Writer
	if writer == nil {
		writer = ds
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:      cfg,
		ds:       ds,
		writer:   writer,
		cluster:  cluster,
		actor:    actor,
		broker:   broker,
		logger:   log.WithComponent("monitor"),
		now:      time.Now,
		intents:  make(chan *Intent),
		results:  make(chan result, 16),
		inflight: make(map[string]orchestrator.Action),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the monitor goroutine
func (m *Monitor) Start() {
	var sub events.Subscriber
	if m.broker != nil {
		// monitor.changed and action.failed are published by the monitor itself
		sub = m.broker.Subscribe(
			events.EventInstanceUpdated,
			events.EventInstanceDeleted,
			events.EventNodeUpdated,
			events.EventPeerAlive,
			events.EventPeerStale,
			events.EventPeerDown,
		)
	}
	m.wg.Add(1)
	go m.run(sub)
	m.logger.Info().Dur("interval", m.cfg.Interval).Msg("Monitor started")
}

// Stop stops the monitor and waits for the actions in flight
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Submit hands an intent to the monitor goroutine and waits for its outcome
func (m *Monitor) Submit(ctx context.Context, in Intent) error {
	in.reply = make(chan error, 1)
	select {
	case m.intents <- &in:
	case <-ctx.Done():
		return apierrors.Timeout("monitor busy: %v", ctx.Err())
	case <-m.ctx.Done():
		return apierrors.Conflict("monitor stopped")
	}
	select {
	case err := <-in.reply:
		return err
	case <-ctx.Done():
		return apierrors.Timeout("monitor busy: %v", ctx.Err())
	}
}

func (m *Monitor) run(sub events.Subscriber) {
	defer m.wg.Done()
	if sub != nil {
		defer m.broker.Unsubscribe(sub)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.evaluateAll()
	for {
		select {
		case <-ticker.C:
			m.evaluateAll()
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			m.onEvents(ev, sub)
		case in := <-m.intents:
			in.reply <- m.handle(in)
		case r := <-m.results:
			m.complete(r)
		case <-m.ctx.Done():
			return
		}
	}
}

// onEvents drains the pending events and evaluates every affected instance
// once
func (m *Monitor) onEvents(first *events.Event, sub events.Subscriber) {
	paths := make(map[string]bool)
	all := false
	note := func(ev *events.Event) {
		switch ev.Type {
		case events.EventInstanceUpdated, events.EventInstanceDeleted:
			paths[ev.Path] = true
		case events.EventNodeUpdated, events.EventPeerAlive, events.EventPeerStale, events.EventPeerDown:
			all = true
		}
	}
	note(first)
drain:
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				break drain
			}
			note(ev)
		default:
			break drain
		}
	}

	if all {
		m.evaluateAll()
		return
	}
	for path := range paths {
		m.evaluate(path)
	}
}

func (m *Monitor) evaluateAll() {
	for _, path := range m.ds.LocalPaths() {
		m.evaluate(path)
	}
}

// View builds the decision input of the local instance of path. It returns
// nil when the object is not configured locally.
func (m *Monitor) View(path string) *View {
	data := m.ds.Instance(m.cfg.Local, path)
	if data == nil || data.Config == nil {
		return nil
	}

	v := &View{
		Local:            m.cfg.Local,
		Path:             path,
		Config:           data.Config,
		Status:           data.Status,
		Monitor:          types.Monitor{Status: types.MonIdle},
		Nodes:            make(map[string]NodeView),
		Now:              m.now(),
		ReadyPeriod:      m.cfg.ReadyPeriod,
		DefaultPlacement: m.cfg.DefaultPlacement,
	}
	if data.Monitor != nil {
		v.Monitor = *data.Monitor
	}
	_, v.InFlight = m.inflight[path]

	nodes := append([]string{m.cfg.Local}, data.Config.Nodes...)
	for _, node := range nodes {
		nv := NodeView{State: m.cluster.PeerState(node)}
		if nd := m.ds.NodeData(node); nd != nil {
			nv.Frozen = nd.IsFrozen()
			nv.Stats = nd.Stats
		}
		if node == m.cfg.Local {
			nv.Instance = data
		} else {
			nv.Instance = m.ds.Instance(node, path)
		}
		v.Nodes[node] = nv
	}

	if data.Config.Placement == placement.Spread || (data.Config.Placement == "" && m.cfg.DefaultPlacement == placement.Spread) {
		v.Load = m.load()
	}
	return v
}

// load counts the instances running on every node
func (m *Monitor) load() map[string]int {
	load := make(map[string]int)
	for _, node := range m.ds.Nodes() {
		for _, data := range m.ds.Snapshot(node).Instances {
			if data.Status != nil && data.Status.Avail.IsUp() {
				load[node]++
			}
		}
	}
	return load
}

func (m *Monitor) evaluate(path string) {
	v := m.View(path)
	if v == nil {
		return
	}
	d := Decide(v)
	logger := log.WithPath(m.logger, path)

	switch {
	case d.Freeze, d.Thaw:
		if err := m.actor.SetFrozen(path, d.Freeze); err != nil {
			logger.Error().Err(err).Bool("frozen", d.Freeze).Msg("Failed to change frozen state")
		}
	case d.Purge:
		m.publish(path, d.Monitor)
		if err := m.actor.Purge(path); err != nil {
			logger.Error().Err(err).Msg("Purge failed")
			d.Monitor.Status = types.MonPurgeFailed
			d.Monitor.StatusUpdated = m.now()
			d.Monitor.Reason = err.Error()
		} else {
			logger.Info().Msg("Purged")
			return
		}
	}

	m.publish(path, d.Monitor)

	if d.Action != "" {
		m.launch(path, d.Action, d.Restart)
	}
}

// launch runs action on its own goroutine. The result comes back to the run
// goroutine through the results channel.
func (m *Monitor) launch(path string, action orchestrator.Action, charged bool) {
	m.inflight[path] = action
	pathLog := log.WithPath(m.logger, path)
	pathLog.Info().Str("action", string(action)).Msg("Orchestrating")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := m.actor.Do(m.ctx, path, action)
		select {
		case m.results <- result{path: path, action: action, charged: charged, err: err}:
		case <-m.ctx.Done():
		}
	}()
}

var doneStatus = map[orchestrator.Action]types.MonitorStatus{
	orchestrator.ActionStart:       types.MonStarted,
	orchestrator.ActionStop:        types.MonStopped,
	orchestrator.ActionProvision:   types.MonProvisioned,
	orchestrator.ActionUnprovision: types.MonIdle,
}

var failedStatus = map[orchestrator.Action]types.MonitorStatus{
	orchestrator.ActionStart:       types.MonStartFailed,
	orchestrator.ActionStop:        types.MonStopFailed,
	orchestrator.ActionProvision:   types.MonProvisionFailed,
	orchestrator.ActionUnprovision: types.MonUnprovisionFailed,
}

// complete records the outcome of an action
func (m *Monitor) complete(r result) {
	delete(m.inflight, r.path)

	data := m.ds.Instance(m.cfg.Local, r.path)
	if data == nil || data.Config == nil {
		return
	}
	mon := types.Monitor{Status: types.MonIdle}
	if data.Monitor != nil {
		mon = *data.Monitor
	}
	now := m.now()
	logger := log.WithPath(m.logger, r.path).With().Str("action", string(r.action)).Logger()

	if r.err == nil {
		setStatus(&mon, doneStatus[r.action], now)
		mon.Reason = ""
		switch r.action {
		case orchestrator.ActionStart:
			mon.LocalExpect = types.LocalExpectStarted
		case orchestrator.ActionStop:
			mon.LocalExpect = types.LocalExpectShutdown
		}
		logger.Info().Msg("Action succeeded")
		m.publish(r.path, mon)
		m.evaluate(r.path)
		return
	}

	exhausted := false
	var aerr *apierrors.Error
	if r.action == orchestrator.ActionStart && errors.As(r.err, &aerr) && aerr.Kind == apierrors.KindResourceAction {
		var configured int
		if data.Status != nil {
			configured = data.Status.Resources[aerr.RID].Restart
		}
		remaining := budget(&mon, aerr.RID, configured)
		if remaining > 0 {
			// a restart already paid for this attempt
			if !r.charged {
				remaining--
				setBudget(&mon, aerr.RID, remaining)
			}
			setStatus(&mon, types.MonIdle, now)
			mon.Reason = r.err.Error()
			logger.Warn().Err(r.err).Int("remaining", remaining).Msg("Action failed, retrying")
			m.publish(r.path, mon)
			return
		}
		exhausted = true
	}

	setStatus(&mon, failedStatus[r.action], now)
	mon.Reason = r.err.Error()
	if exhausted {
		metrics.RestartBudgetExhaustedTotal.Inc()
	}
	logger.Error().Err(r.err).Msg("Action failed")
	m.publish(r.path, mon)
	if m.broker != nil {
		m.broker.Publish(&events.Event{
			Type:    events.EventActionFailed,
			Node:    m.cfg.Local,
			Path:    r.path,
			Message: r.err.Error(),
		})
	}
}

// publish writes the monitor record of the local instance of path when it
// changed
func (m *Monitor) publish(path string, mon types.Monitor) {
	var from types.MonitorStatus
	changed := m.writer.UpdateLocal(path, func(data *types.InstanceData) *types.InstanceData {
		if data.Config == nil {
			return nil
		}
		if data.Monitor != nil {
			from = data.Monitor.Status
			if reflect.DeepEqual(*data.Monitor, mon) {
				return nil
			}
		}
		next := mon
		data.Monitor = &next
		return data
	})
	if !changed || from == mon.Status {
		return
	}

	metrics.MonitorTransitionsTotal.WithLabelValues(string(mon.Status)).Inc()
	pathLog := log.WithPath(m.logger, path)
	pathLog.Debug().
		Str("from", string(from)).
		Str("to", string(mon.Status)).
		Str("global_expect", mon.ExpectString()).
		Msg("Monitor transition")
	if m.broker != nil {
		m.broker.Publish(&events.Event{
			Type:     events.EventMonitorChanged,
			Node:     m.cfg.Local,
			Path:     path,
			Metadata: map[string]string{"from": string(from), "to": string(mon.Status)},
		})
	}
}
