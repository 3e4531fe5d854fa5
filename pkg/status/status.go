package status

import (
	"context"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/placement"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/storage"
	"github.com/cuemby/hive/pkg/types"
	"github.com/rs/zerolog"
)

// Store is the part of the node store the evaluator reads
type Store interface {
	ListObjects() ([]*object.Object, error)
	GetObject(path string) (*object.Object, error)
	GetInstanceFlags(path string) (*storage.InstanceFlags, error)
	GetNodeState() (*storage.NodeState, error)
}

// Runner reports the action in flight on an instance
type Runner interface {
	Running(path string) (orchestrator.Action, bool)
}

// Config configures the evaluator
type Config struct {
	Local    string
	DataDir  string
	Interval time.Duration
	Labels   map[string]string

	// Writer publishes the evaluated status, the dataset when nil
	Writer dataset.Writer
}

// Evaluator periodically computes the status of the local instances and
// publishes them, with the node level data, in the local dataset subtree
type Evaluator struct {
	cfg      Config
	store    Store
	registry *resource.Registry
	ds       *dataset.Dataset
	writer   dataset.Writer
	runner   Runner
	stats    *placement.StatsCollector
	ncpu     int
	logger   zerolog.Logger
	now      func() time.Time

	// serializes passes so a late pass never overwrites a fresher status
	mu sync.Mutex

	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an evaluator. runner and stats may be nil.
func New(cfg Config, store Store, registry *resource.Registry, ds *dataset.Dataset, runner Runner, stats *placement.StatsCollector) *Evaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	writer := cfg.Writer
	if writer == nil {
		writer = ds
	}
	return &Evaluator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		ds:       ds,
		writer:   writer,
		runner:   runner,
		stats:    stats,
		ncpu:     runtime.NumCPU(),
		logger:   log.WithComponent("status"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the evaluation loop
func (e *Evaluator) Start() {
	e.wg.Add(1)
	go e.run()
	e.logger.Info().Dur("interval", e.cfg.Interval).Msg("Status evaluator started")
}

// Stop stops the evaluation loop
func (e *Evaluator) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Trigger requests a pass as soon as possible without waiting for it
func (e *Evaluator) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Evaluator) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.stopCh
		cancel()
	}()

	e.pass(ctx)
	for {
		select {
		case <-ticker.C:
			e.pass(ctx)
		case <-e.trigger:
			e.pass(ctx)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Evaluator) pass(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StatusPassDuration)

	if err := e.RefreshNode(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to refresh node data")
	}
	if err := e.EvaluateAll(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Status pass failed")
	}
}

// EvaluateAll evaluates every local service and volume instance and drops
// the instances of objects removed from the store
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	objs, err := e.store.ListObjects()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[string]bool, len(objs))
	for _, obj := range objs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !hasInstance(obj) {
			continue
		}
		known[obj.Path] = true
		if err := e.evaluate(ctx, obj); err != nil {
			pathLog := log.WithPath(e.logger, obj.Path)
			pathLog.Error().Err(err).Msg("Failed to evaluate status")
		}
	}

	for _, path := range e.ds.LocalPaths() {
		if !known[path] {
			e.writer.DeleteLocal(path)
			pathLog := log.WithPath(e.logger, path)
			pathLog.Debug().Msg("Dropped the instance of a removed object")
		}
	}
	return nil
}

// EvaluatePath evaluates the local instance of one object
func (e *Evaluator) EvaluatePath(ctx context.Context, path string) error {
	obj, err := e.store.GetObject(path)
	if err != nil {
		return err
	}
	if !hasInstance(obj) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluate(ctx, obj)
}

func hasInstance(obj *object.Object) bool {
	p, err := object.ParsePath(obj.Path)
	return err == nil && !p.Kind.IsDataKind() && obj.Config != nil
}

func (e *Evaluator) evaluate(ctx context.Context, obj *object.Object) error {
	st, err := e.Compute(ctx, obj)
	if err != nil {
		return err
	}
	csum := obj.Config.Checksum()

	e.writer.UpdateLocal(obj.Path, func(data *types.InstanceData) *types.InstanceData {
		changed := false
		if data.Config == nil || data.Config.Checksum != csum {
			data.Config = obj.Config.InstanceConfig(obj.Path)
			changed = true
		}
		if !sameStatus(data.Status, st) {
			data.Status = st
			changed = true
		}
		if !changed {
			return nil
		}
		return data
	})
	return nil
}

// Compute builds the status of the local instance of obj without publishing it
func (e *Evaluator) Compute(ctx context.Context, obj *object.Object) (*types.InstanceStatus, error) {
	flags, err := e.store.GetInstanceFlags(obj.Path)
	if err != nil {
		return nil, err
	}
	now := e.now()

	st := &types.InstanceStatus{
		Path:        obj.Path,
		Frozen:      flags.Frozen,
		Constraints: obj.Config.ConstraintsMet(e.cfg.Labels),
		Resources:   make(map[string]types.ResourceStatus, len(obj.Config.Resources)),
		UpdatedAt:   now,
	}

	env := resource.Env{Node: e.cfg.Local, Path: obj.Path, DataDir: e.cfg.DataDir}
	for _, rid := range obj.Config.RIDs() {
		rcfg := obj.Config.Resources[rid]
		res, err := e.registry.New(rid, rcfg, env)
		if err != nil {
			st.Resources[rid] = types.ResourceStatus{
				RID:       rid,
				Type:      object.Family(rid) + "." + rcfg.Type,
				Status:    types.StatusUndef,
				Disabled:  rcfg.Disable,
				Log:       []string{err.Error()},
				UpdatedAt: now,
			}
			continue
		}
		rs := e.evaluateResource(ctx, res, flags)
		rs.UpdatedAt = now
		st.Resources[rid] = rs
	}

	if e.runner != nil {
		if _, busy := e.runner.Running(obj.Path); busy {
			for _, rid := range obj.Config.RIDs() {
				if !obj.Config.Resources[rid].Disable && !resource.IsStatusOnly(object.Family(rid)) {
					st.Running = append(st.Running, rid)
				}
			}
		}
	}

	st.Aggregate()
	return st, nil
}

func (e *Evaluator) evaluateResource(ctx context.Context, res *resource.Resource, flags *storage.InstanceFlags) types.ResourceStatus {
	timeout := res.Config.Timeout
	if timeout <= 0 {
		timeout = object.DefaultResourceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return res.Evaluate(ctx, provisioned(ctx, res, flags))
}

// provisioned returns the recorded provisioned state of a resource, asking
// the driver when nothing was recorded
func provisioned(ctx context.Context, res *resource.Resource, flags *storage.InstanceFlags) types.TriState {
	if v, ok := flags.Provisioned[res.RID]; ok {
		return types.Bool(v)
	}
	p, ok := res.Driver.(resource.Provisioner)
	if !ok {
		return types.TriNA
	}
	v, err := p.Provisioned(ctx)
	if err != nil {
		return types.TriNA
	}
	return types.Bool(v)
}

// sameStatus compares two statuses ignoring the evaluation timestamps
func sameStatus(a, b *types.InstanceStatus) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(stripTimes(a), stripTimes(b))
}

func stripTimes(s *types.InstanceStatus) types.InstanceStatus {
	c := *s
	c.UpdatedAt = time.Time{}
	c.Resources = make(map[string]types.ResourceStatus, len(s.Resources))
	for rid, r := range s.Resources {
		r.UpdatedAt = time.Time{}
		c.Resources[rid] = r
	}
	return c
}

// RefreshNode publishes the node labels, the frozen flag and the capacity
// figures when they changed
func (e *Evaluator) RefreshNode() error {
	state, err := e.store.GetNodeState()
	if err != nil {
		return err
	}

	var stats types.NodeStats
	if e.stats != nil {
		stats, err = e.stats.Collect()
		if err != nil {
			e.logger.Debug().Err(err).Msg("Node stats unavailable")
		} else {
			stats.Score = placement.ComputeScore(stats, e.ncpu)
		}
	}

	cur := e.ds.NodeData(e.cfg.Local)
	if cur != nil && cur.Frozen.Equal(state.Frozen) && cur.Stats == stats &&
		reflect.DeepEqual(cur.Labels, e.cfg.Labels) && cur.Status == "up" {
		return nil
	}

	e.writer.UpdateLocalNode(func(n *types.NodeData) {
		n.Frozen = state.Frozen
		n.Labels = e.cfg.Labels
		n.Stats = stats
		n.Status = "up"
		n.UpdatedAt = e.now()
	})
	return nil
}
