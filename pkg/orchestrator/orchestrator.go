package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/storage"
	"github.com/cuemby/hive/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Action is an instance action
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionProvision   Action = "provision"
	ActionUnprovision Action = "unprovision"
)

// reverse reports if the action walks the families in stop order
func (a Action) reverse() bool {
	return a == ActionStop || a == ActionUnprovision
}

// FlagStore persists the provisioned flags recorded by provision actions
type FlagStore interface {
	GetInstanceFlags(path string) (*storage.InstanceFlags, error)
	PutInstanceFlags(flags *storage.InstanceFlags) error
}

// Instance is the unit an action runs on
type Instance struct {
	Path      string
	Config    *object.Config
	Resources []*resource.Resource
}

// Group is a set of resources of one family and subset acted on together
type Group struct {
	Key       string
	Family    string
	Subset    string
	Parallel  bool
	Resources []*resource.Resource
}

// Orchestrator runs instance actions, one in flight per instance
type Orchestrator struct {
	flags  FlagStore
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]Action
}

// New creates an orchestrator. flags may be nil, provisioned flags are then
// not recorded.
func New(flags FlagStore) *Orchestrator {
	return &Orchestrator{
		flags:   flags,
		logger:  log.WithComponent("orchestrator"),
		running: make(map[string]Action),
	}
}

// Running returns the action in flight on path, if any
func (o *Orchestrator) Running(path string) (Action, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.running[path]
	return a, ok
}

func (o *Orchestrator) acquire(path string, action Action) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.running[path]; ok {
		return apierrors.Conflict("%s: action %s already running", path, cur)
	}
	o.running[path] = action
	return nil
}

func (o *Orchestrator) release(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, path)
}

// Plan returns the resource groups of inst in the order action walks them.
// Status-only families are excluded.
func Plan(action Action, inst *Instance) []*Group {
	byKey := make(map[string]*Group)
	for _, res := range inst.Resources {
		if resource.IsStatusOnly(res.Family) {
			continue
		}
		key := object.SubsetKey(res.Family, res.Config.Subset)
		g, ok := byKey[key]
		if !ok {
			g = &Group{
				Key:    key,
				Family: res.Family,
				Subset: res.Config.Subset,
			}
			if inst.Config != nil {
				g.Parallel = inst.Config.Subsets[key].Parallel
			}
			byKey[key] = g
		}
		g.Resources = append(g.Resources, res)
	}

	var groups []*Group
	for _, family := range object.Families {
		var fgroups []*Group
		for _, g := range byKey {
			if g.Family == family {
				fgroups = append(fgroups, g)
			}
		}
		sort.Slice(fgroups, func(i, j int) bool { return fgroups[i].Subset < fgroups[j].Subset })
		groups = append(groups, fgroups...)
	}

	for _, g := range groups {
		sort.Slice(g.Resources, func(i, j int) bool { return g.Resources[i].RID < g.Resources[j].RID })
	}

	if action.reverse() {
		for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
			groups[i], groups[j] = groups[j], groups[i]
		}
		for _, g := range groups {
			rs := g.Resources
			for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
				rs[i], rs[j] = rs[j], rs[i]
			}
		}
	}
	return groups
}

// run tracks the resources acted on by one action, for rollback
type run struct {
	action Action
	inst   *Instance
	logger zerolog.Logger

	mu    sync.Mutex
	done  []*resource.Resource
	flags *storage.InstanceFlags
}

func (r *run) record(res *resource.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, res)
}

func (r *run) setProvisioned(rid string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flags != nil {
		r.flags.Provisioned[rid] = v
	}
}

// Do runs action on inst. The first non-optional resource failure aborts the
// action with a ResourceActionError, after rolling back the resources already
// acted on.
func (o *Orchestrator) Do(ctx context.Context, action Action, inst *Instance) (err error) {
	if err := o.acquire(inst.Path, action); err != nil {
		return err
	}
	defer o.release(inst.Path)

	r := &run{
		action: action,
		inst:   inst,
		logger: log.WithPath(o.logger, inst.Path).With().Str("action", string(action)).Logger(),
	}
	if o.flags != nil && (action == ActionProvision || action == ActionUnprovision) {
		flags, err := o.flags.GetInstanceFlags(inst.Path)
		if err != nil {
			return fmt.Errorf("failed to load instance flags: %w", err)
		}
		r.flags = flags
		defer func() {
			if perr := o.flags.PutInstanceFlags(r.flags); perr != nil && err == nil {
				err = fmt.Errorf("failed to save instance flags: %w", perr)
			}
		}()
	}

	r.logger.Info().Msg("Action started")
	timer := metrics.NewTimer()

	for _, g := range Plan(action, inst) {
		if err = o.doGroup(ctx, r, g); err != nil {
			break
		}
	}

	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(action), "failed").Inc()
		r.logger.Error().Err(err).Dur("duration", timer.Duration()).Msg("Action failed")
		o.rollback(ctx, r)
		return err
	}
	metrics.ActionsTotal.WithLabelValues(string(action), "ok").Inc()
	r.logger.Info().Dur("duration", timer.Duration()).Msg("Action done")
	return nil
}

func (o *Orchestrator) doGroup(ctx context.Context, r *run, g *Group) error {
	if !g.Parallel || len(g.Resources) < 2 {
		for _, res := range g.Resources {
			if err := o.doResource(ctx, r, res); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, res := range g.Resources {
		eg.Go(func() error {
			return o.doResource(egCtx, r, res)
		})
	}
	return eg.Wait()
}

// doResource acts on one resource. Optional resource failures are logged and
// swallowed.
func (o *Orchestrator) doResource(ctx context.Context, r *run, res *resource.Resource) error {
	if res.Config.Disable {
		return nil
	}
	if r.action == ActionStop && res.Config.Standby {
		return nil
	}

	err := o.call(ctx, r, res)
	if err == nil {
		return nil
	}
	if res.Config.Optional {
		r.logger.Warn().Err(err).Str("rid", res.RID).Msg("Optional resource failed")
		return nil
	}
	return err
}

func (o *Orchestrator) call(ctx context.Context, r *run, res *resource.Resource) error {
	timeout := res.Config.Timeout
	if timeout <= 0 {
		timeout = object.DefaultResourceTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ResourceActionDuration, res.Family, string(r.action))

	acted, err := act(callCtx, r, res)
	if errors.Is(err, resource.ErrNotSupported) || errors.Is(err, resource.ErrNotApplicable) {
		return nil
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = apierrors.Timeout("%s %s timed out after %s", res.RID, r.action, timeout)
		}
		return apierrors.ResourceAction(res.RID, string(r.action), err)
	}
	if acted {
		r.record(res)
		r.logger.Debug().Str("rid", res.RID).Dur("duration", timer.Duration()).Msg("Resource done")
	}
	return nil
}

// act runs the driver call of the action. acted is false when the resource
// was already in the target state.
func act(ctx context.Context, r *run, res *resource.Resource) (acted bool, err error) {
	switch r.action {
	case ActionStart:
		if st, err := res.Driver.Status(ctx); err == nil && st.IsUp() {
			return false, nil
		}
		return true, res.Driver.Start(ctx)

	case ActionStop:
		if st, err := res.Driver.Status(ctx); err == nil && (st == types.StatusDown || st == types.StatusNotApplicable) {
			return false, nil
		}
		return true, res.Driver.Stop(ctx)

	case ActionProvision:
		p, ok := res.Driver.(resource.Provisioner)
		if !ok {
			return false, nil
		}
		if done, err := p.Provisioned(ctx); err == nil && done {
			r.setProvisioned(res.RID, true)
			return false, nil
		}
		if err := p.Provision(ctx); err != nil {
			return true, err
		}
		r.setProvisioned(res.RID, true)
		return true, nil

	case ActionUnprovision:
		if st, err := res.Driver.Status(ctx); err != nil || st.IsUp() || st == types.StatusStandbyUp {
			if err := res.Driver.Stop(ctx); err != nil && !errors.Is(err, resource.ErrNotApplicable) {
				return true, err
			}
		}
		p, ok := res.Driver.(resource.Provisioner)
		if !ok {
			return false, nil
		}
		if err := p.Unprovision(ctx); err != nil {
			return true, err
		}
		r.setProvisioned(res.RID, false)
		return true, nil
	}
	return false, fmt.Errorf("unknown action %s", r.action)
}

// rollback undoes, in reverse order, the start or provision of the resources
// acted on before the failure
func (o *Orchestrator) rollback(ctx context.Context, r *run) {
	if r.action != ActionStart && r.action != ActionProvision {
		return
	}
	for i := len(r.done) - 1; i >= 0; i-- {
		res := r.done[i]
		rb, ok := res.Driver.(resource.Rollbacker)
		if !ok {
			continue
		}

		timeout := res.Config.Timeout
		if timeout <= 0 {
			timeout = object.DefaultResourceTimeout
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		err := rb.Rollback(rbCtx, string(r.action))
		cancel()

		switch {
		case errors.Is(err, resource.ErrNotSupported):
		case err != nil:
			r.logger.Error().Err(err).Str("rid", res.RID).Msg("Rollback failed")
		default:
			if r.action == ActionProvision {
				r.setProvisioned(res.RID, false)
			}
			r.logger.Info().Str("rid", res.RID).Msg("Rolled back")
		}
	}
}
