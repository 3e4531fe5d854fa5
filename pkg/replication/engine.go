package replication

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/events"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/cuemby/hive/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures the replication engine
type Config struct {
	Local      string
	Peers      []string
	Interval   time.Duration
	Timeout    time.Duration
	StaleAfter time.Duration
	DownAfter  time.Duration
}

// peerState is the engine's bookkeeping for one peer
type peerState struct {
	// recvMu serializes the processing of messages received from the peer
	recvMu sync.Mutex

	// applied is this node's RemoteGenTable entry for the peer
	applied types.Generation
	// needFull blocks deltas until a full snapshot has been applied
	needFull bool
	// theirs is the peer's last advertised knowledge of our generation
	theirs   types.Generation
	hasTheir bool

	status types.PeerStatus
	kick   chan struct{}
}

// Engine replicates the local dataset subtree to peers and applies the
// subtrees received from them
type Engine struct {
	cfg       Config
	ds        *dataset.Dataset
	transport Transport
	broker    *events.Broker
	session   string
	logger    zerolog.Logger
	started   time.Time

	mu    sync.RWMutex
	peers map[string]*peerState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a replication engine. broker may be nil.
func NewEngine(cfg Config, ds *dataset.Dataset, transport Transport, broker *events.Broker) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.Interval
	}
	if cfg.DownAfter <= 0 {
		cfg.DownAfter = 2 * cfg.StaleAfter
	}

	e := &Engine{
		cfg:       cfg,
		ds:        ds,
		transport: transport,
		broker:    broker,
		session:   uuid.New().String(),
		logger:    log.WithComponent("replication"),
		started:   time.Now(),
		peers:     make(map[string]*peerState),
		stopCh:    make(chan struct{}),
	}
	for _, p := range cfg.Peers {
		if p == cfg.Local {
			continue
		}
		e.peers[p] = &peerState{
			needFull: true,
			status:   types.PeerStatus{State: types.PeerStale, LastAt: e.started},
			kick:     make(chan struct{}, 1),
		}
	}
	ds.SetNotify(e.Kick)
	return e
}

// Session returns the identifier of this daemon incarnation
func (e *Engine) Session() string {
	return e.session
}

// Start launches one heartbeat loop per peer and the liveness loop
func (e *Engine) Start() {
	for name := range e.peers {
		e.wg.Add(1)
		go e.peerLoop(name)
	}
	e.wg.Add(1)
	go e.livenessLoop()
	e.logger.Info().Int("peers", len(e.peers)).Str("session", e.session).Msg("Replication engine started")
}

// Stop stops the loops and waits for in-flight sends
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// PublishLocalDelta applies ops to the local subtree and bumps the local
// generation. Every local bump kicks the peer loops for an immediate
// heartbeat.
func (e *Engine) PublishLocalDelta(ops ...dataset.Op) types.Generation {
	patch := e.ds.ApplyLocal(ops...)
	metrics.GossipGeneration.WithLabelValues(e.cfg.Local).Set(float64(patch.Gen))
	return patch.Gen
}

// UpdateLocal runs fn on the local instance data of path and publishes the
// result as a new local generation
func (e *Engine) UpdateLocal(path string, fn func(data *types.InstanceData) *types.InstanceData) bool {
	changed := e.ds.UpdateLocal(path, fn)
	if changed {
		e.observeLocal()
	}
	return changed
}

// DeleteLocal removes path from the local subtree
func (e *Engine) DeleteLocal(path string) bool {
	deleted := e.ds.DeleteLocal(path)
	if deleted {
		e.observeLocal()
	}
	return deleted
}

// UpdateLocalNode runs fn on the local node data and publishes it
func (e *Engine) UpdateLocalNode(fn func(node *types.NodeData)) {
	e.ds.UpdateLocalNode(fn)
	e.observeLocal()
}

func (e *Engine) observeLocal() {
	metrics.GossipGeneration.WithLabelValues(e.cfg.Local).Set(float64(e.ds.Gen()))
}

// Kick requests an immediate heartbeat to every peer
func (e *Engine) Kick() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ps := range e.peers {
		select {
		case ps.kick <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) peer(name string) (*peerState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ps, ok := e.peers[name]
	return ps, ok
}

// IsMember reports if name is a cluster member, the local node included
func (e *Engine) IsMember(name string) bool {
	if name == e.cfg.Local {
		return true
	}
	_, ok := e.peer(name)
	return ok
}

// BuildMessage builds the next heartbeat for peer: a full snapshot when the
// peer never acknowledged us or is too far behind the patch log, a ping when
// it is up to date, the missing patches otherwise
func (e *Engine) BuildMessage(peer string) *Message {
	msg := &Message{
		Node:    e.cfg.Local,
		Session: e.session,
		Known:   e.knownTable(),
	}

	ps, ok := e.peer(peer)
	var theirs types.Generation
	var hasTheirs bool
	if ok {
		e.mu.RLock()
		theirs, hasTheirs = ps.theirs, ps.hasTheir
		e.mu.RUnlock()
	}

	gen := e.ds.Gen()
	switch {
	case !hasTheirs || theirs > gen || (theirs == 0 && gen > 0):
		// theirs > gen happens when the peer still knows a previous
		// incarnation, theirs == 0 when it waits for a full snapshot
	case theirs == gen:
		msg.Kind = KindPing
		msg.Gen = gen
		return msg
	default:
		if patches, covered := e.ds.PatchesSince(theirs); covered && len(patches) > 0 {
			msg.Kind = KindPatch
			msg.Patches = patches
			msg.Gen = patches[len(patches)-1].Gen
			return msg
		}
	}

	snap, snapGen := e.ds.LocalSnapshot()
	msg.Kind = KindFull
	msg.Full = &snap
	msg.Gen = snapGen
	return msg
}

func (e *Engine) knownTable() dataset.GenTable {
	e.mu.RLock()
	defer e.mu.RUnlock()

	known := make(dataset.GenTable, len(e.peers)+1)
	known[e.cfg.Local] = e.ds.Gen()
	for name, ps := range e.peers {
		known[name] = ps.applied
	}
	return known
}

// Receive applies a heartbeat from a peer and returns the generation of the
// sender now applied locally
func (e *Engine) Receive(msg *Message) (*Ack, error) {
	if msg == nil || msg.Node == "" {
		return nil, apierrors.BadRequest("node", "sender is required")
	}
	if msg.Node == e.cfg.Local {
		return nil, apierrors.Conflict("heartbeat from self")
	}
	ps, ok := e.peer(msg.Node)
	if !ok {
		return nil, apierrors.Forbidden("%s is not a cluster member", msg.Node)
	}

	ps.recvMu.Lock()
	defer ps.recvMu.Unlock()

	metrics.GossipMessagesTotal.WithLabelValues("rx", string(msg.Kind)).Inc()
	logger := log.WithPeer(e.logger, msg.Node)

	e.mu.Lock()
	restarted := ps.status.Session != "" && ps.status.Session != msg.Session
	if restarted {
		ps.needFull = true
		ps.applied = 0
		ps.hasTheir = false
	}
	ps.status.Session = msg.Session
	if theirs, ok := msg.Known[e.cfg.Local]; ok {
		ps.theirs, ps.hasTheir = theirs, true
	}
	applied, needFull := ps.applied, ps.needFull
	e.mu.Unlock()

	if restarted {
		logger.Info().Str("session", msg.Session).Msg("Peer restarted, waiting for full snapshot")
	}
	e.markAlive(msg.Node, ps)

	switch msg.Kind {
	case KindFull:
		if msg.Full == nil {
			return nil, apierrors.BadRequest("full", "full message without snapshot")
		}
		if !needFull && applied != 0 && msg.Gen <= applied {
			metrics.GossipDiscardsTotal.WithLabelValues("stale_full").Inc()
			break
		}
		e.ds.ReplaceRemote(msg.Node, *msg.Full)
		applied, needFull = msg.Gen, false
		metrics.GossipFullResyncsTotal.Inc()
		e.publish(events.EventFullResync, msg.Node)
		logger.Info().Uint64("gen", uint64(msg.Gen)).Int("instances", len(msg.Full.Instances)).Msg("Applied full snapshot")

	case KindPatch:
		if needFull {
			metrics.GossipDiscardsTotal.WithLabelValues("need_full").Inc()
			break
		}
		patches := append([]dataset.Patch(nil), msg.Patches...)
		sort.Slice(patches, func(i, j int) bool { return patches[i].Gen < patches[j].Gen })
		for _, p := range patches {
			if p.Gen <= applied {
				metrics.GossipDiscardsTotal.WithLabelValues("duplicate").Inc()
				continue
			}
			if p.Gen != applied+1 {
				metrics.GossipDiscardsTotal.WithLabelValues("gap").Inc()
				logger.Debug().Uint64("have", uint64(applied)).Uint64("got", uint64(p.Gen)).Msg("Patch gap, waiting for resend")
				break
			}
			e.ds.ApplyRemote(msg.Node, p.Ops)
			applied = p.Gen
		}

	case KindPing:
	default:
		return nil, apierrors.BadRequest("kind", "unknown message kind %q", msg.Kind)
	}

	e.mu.Lock()
	ps.applied, ps.needFull = applied, needFull
	ps.status.Gen = applied
	e.mu.Unlock()

	metrics.GossipGeneration.WithLabelValues(msg.Node).Set(float64(applied))
	return &Ack{Node: e.cfg.Local, Known: applied}, nil
}

// RequestFull resets the generation recorded for peer so that the next
// heartbeat exchange carries a full snapshot
func (e *Engine) RequestFull(peer string) error {
	if peer == e.cfg.Local {
		return apierrors.Conflict("can not ask a full resync from self")
	}
	ps, ok := e.peer(peer)
	if !ok {
		return apierrors.Conflict("%s is not a cluster member", peer)
	}

	ps.recvMu.Lock()
	e.mu.Lock()
	ps.applied = 0
	ps.needFull = true
	e.mu.Unlock()
	ps.recvMu.Unlock()

	peerLog := log.WithPeer(e.logger, peer)
	peerLog.Info().Msg("Full resync requested")

	select {
	case ps.kick <- struct{}{}:
	default:
	}
	return nil
}

// RemoteGen returns the generation of peer applied locally
func (e *Engine) RemoteGen(peer string) types.Generation {
	ps, ok := e.peer(peer)
	if !ok {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ps.applied
}

// Generations returns the RemoteGenTable plus the local generation
func (e *Engine) Generations() dataset.GenTable {
	return e.knownTable()
}

// PeerStatuses returns the liveness of every peer
func (e *Engine) PeerStatuses() map[string]types.PeerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make(map[string]types.PeerStatus, len(e.peers))
	for name, ps := range e.peers {
		result[name] = ps.status
	}
	return result
}

// PeerState returns the liveness of one node. The local node is always alive.
func (e *Engine) PeerState(name string) types.PeerState {
	if name == e.cfg.Local {
		return types.PeerAlive
	}
	ps, ok := e.peer(name)
	if !ok {
		return types.PeerDown
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ps.needFull && ps.status.State == types.PeerAlive {
		// alive but our copy of its data is not usable yet
		return types.PeerStale
	}
	return ps.status.State
}

func (e *Engine) peerLoop(name string) {
	defer e.wg.Done()

	ps, _ := e.peer(name)
	logger := log.WithPeer(e.logger, name)

	// Spread the first heartbeats of a freshly started cluster
	jitter := time.Duration(rand.Int63n(int64(e.cfg.Interval)/4 + 1))
	select {
	case <-time.After(jitter):
	case <-e.stopCh:
		return
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.sendTo(name, ps, logger)
	for {
		select {
		case <-ticker.C:
			e.sendTo(name, ps, logger)
		case <-ps.kick:
			e.sendTo(name, ps, logger)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) sendTo(name string, ps *peerState, logger zerolog.Logger) {
	msg := e.BuildMessage(name)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	ack, err := e.transport.Send(ctx, name, msg)
	if err != nil {
		metrics.GossipSendErrorsTotal.WithLabelValues(name).Inc()
		logger.Debug().Err(err).Str("kind", string(msg.Kind)).Msg("Heartbeat send failed")
		return
	}
	metrics.GossipMessagesTotal.WithLabelValues("tx", string(msg.Kind)).Inc()

	if ack != nil {
		e.mu.Lock()
		ps.theirs, ps.hasTheir = ack.Known, true
		e.mu.Unlock()
	}
}

func (e *Engine) livenessLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.CheckLiveness(time.Now())
		case <-e.stopCh:
			return
		}
	}
}

// CheckLiveness downgrades peers not heard from since StaleAfter or DownAfter
func (e *Engine) CheckLiveness(now time.Time) {
	type transition struct {
		name  string
		state types.PeerState
	}
	var changed []transition

	e.mu.Lock()
	for name, ps := range e.peers {
		since := now.Sub(ps.status.LastAt)
		next := ps.status.State
		switch {
		case since > e.cfg.DownAfter:
			next = types.PeerDown
		case since > e.cfg.StaleAfter:
			next = types.PeerStale
		}
		if next != ps.status.State {
			ps.status.State = next
			changed = append(changed, transition{name, next})
		}
	}
	e.mu.Unlock()

	for _, c := range changed {
		peerLog := log.WithPeer(e.logger, c.name)
		peerLog.Warn().Str("state", string(c.state)).Msg("Peer heartbeat lost")
		switch c.state {
		case types.PeerDown:
			e.publish(events.EventPeerDown, c.name)
		case types.PeerStale:
			e.publish(events.EventPeerStale, c.name)
		}
	}
}

func (e *Engine) markAlive(name string, ps *peerState) {
	e.mu.Lock()
	was := ps.status.State
	ps.status.State = types.PeerAlive
	ps.status.LastAt = time.Now()
	e.mu.Unlock()

	if was != types.PeerAlive {
		peerLog := log.WithPeer(e.logger, name)
		peerLog.Info().Str("was", string(was)).Msg("Peer heartbeat alive")
		e.publish(events.EventPeerAlive, name)
	}
}

func (e *Engine) publish(t events.EventType, node string) {
	if e.broker != nil {
		e.broker.Publish(&events.Event{Type: t, Node: node})
	}
}
