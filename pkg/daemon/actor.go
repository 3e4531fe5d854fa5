package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/resource"
)

// actor runs the monitor decisions against the store and the drivers
type actor struct {
	d *Daemon
}

func (a *actor) Do(ctx context.Context, path string, action orchestrator.Action) error {
	obj, err := a.d.store.GetObject(path)
	if err != nil {
		return err
	}
	resources, err := a.d.registry.Build(obj.Config, resource.Env{
		Node:    a.d.cfg.Node.Name,
		Path:    path,
		DataDir: a.d.cfg.Node.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to build resources of %s: %w", path, err)
	}

	err = a.d.orch.Do(ctx, action, &orchestrator.Instance{
		Path:      path,
		Config:    obj.Config,
		Resources: resources,
	})

	// the monitor reads the outcome from the published status
	if perr := a.d.evaluator.EvaluatePath(context.Background(), path); perr != nil {
		pathLog := log.WithPath(a.d.logger, path)
		pathLog.Warn().Err(perr).Msg("Failed to refresh status after action")
	}
	return err
}

func (a *actor) SetFrozen(path string, frozen bool) error {
	flags, err := a.d.store.GetInstanceFlags(path)
	if err != nil {
		return err
	}
	switch {
	case frozen && flags.Frozen.IsZero():
		flags.Frozen = time.Now()
	case !frozen:
		flags.Frozen = time.Time{}
	}
	if err := a.d.store.PutInstanceFlags(flags); err != nil {
		return fmt.Errorf("failed to store flags of %s: %w", path, err)
	}
	return a.d.evaluator.EvaluatePath(context.Background(), path)
}

func (a *actor) Purge(path string) error {
	if err := a.d.store.DeleteObject(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if err := a.d.store.DeleteInstanceFlags(path); err != nil {
		return fmt.Errorf("failed to delete flags of %s: %w", path, err)
	}
	a.d.engine.DeleteLocal(path)
	pathLog := log.WithPath(a.d.logger, path)
	pathLog.Info().Msg("Object purged")
	return nil
}
