package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/hive/pkg/api"
	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/monitor"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/types"
	"gopkg.in/yaml.v3"
)

// CreateObject implements api.Objects. The config comes from data when
// given, else from the template. A service or volume is handed to the
// monitor once its first status is published.
func (d *Daemon) CreateObject(ctx context.Context, req *api.CreateRequest) (*object.Object, error) {
	path, cfg, err := d.resolveCreate(req)
	if err != nil {
		return nil, err
	}

	if !path.Kind.IsDataKind() {
		if len(cfg.Nodes) == 0 {
			cfg.Nodes = []string{d.cfg.Node.Name}
		}
		cfg.Normalize()
	}
	if err := object.Validate(path.Kind, cfg); err != nil {
		return nil, err
	}

	key := path.String()
	now := time.Now()
	obj := &object.Object{Path: key, Config: cfg, CreatedAt: now, UpdatedAt: now}

	existing, err := d.store.GetObject(key)
	switch {
	case err == nil:
		if !req.Restore {
			return nil, apierrors.Conflict("object %s already exists", key)
		}
		obj.CreatedAt = existing.CreatedAt
	case !apierrors.Is(err, apierrors.KindNotFound):
		return nil, err
	}

	if err := d.store.PutObject(obj); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", key, err)
	}
	logger := log.WithPath(d.logger, key)
	logger.Info().Bool("restore", req.Restore).Str("template", req.Template).Msg("Object created")

	if path.Kind.IsDataKind() {
		return obj, nil
	}
	if err := d.evaluator.EvaluatePath(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", key, err)
	}
	in := monitor.Intent{Kind: monitor.IntentCreate, Path: key}
	if req.Provision {
		in.GlobalExpect = string(types.ExpectProvisioned)
	}
	if err := d.monitor.Submit(ctx, in); err != nil {
		return nil, err
	}
	return obj, nil
}

func (d *Daemon) resolveCreate(req *api.CreateRequest) (object.Path, *object.Config, error) {
	if req.Template == "" && (req.Path == "" || req.Data == nil) {
		return object.Path{}, nil, apierrors.BadRequest("template", "a template, or a path and data, are required")
	}

	var tmpl *object.Template
	if req.Template != "" {
		t, err := d.catalogs.Template(req.Catalog, req.Template)
		if err != nil {
			return object.Path{}, nil, err
		}
		tmpl = t
	}

	var path object.Path
	if req.Path != "" {
		p, err := object.ParsePath(req.Path)
		if err != nil {
			return object.Path{}, nil, apierrors.BadRequest("path", "%v", err)
		}
		path = p
	} else {
		ns := req.Namespace
		if ns == "" {
			ns = object.DefaultNamespace
		}
		p, err := object.ParsePath(ns + "/" + string(tmpl.Kind) + "/" + tmpl.Name)
		if err != nil {
			return object.Path{}, nil, apierrors.BadRequest("template", "%v", err)
		}
		path = p
	}

	if req.Data != nil {
		cfg, err := object.ConfigFromMap(req.Data)
		if err != nil {
			return object.Path{}, nil, apierrors.BadRequest("data", "%v", err)
		}
		return path, cfg, nil
	}
	if tmpl.Kind != "" && tmpl.Kind != path.Kind {
		return object.Path{}, nil, apierrors.BadRequest("template", "template %s creates %s objects, not %s", tmpl.Name, tmpl.Kind, path.Kind)
	}
	cfg, err := cloneConfig(tmpl.Config)
	if err != nil {
		return object.Path{}, nil, err
	}
	return path, cfg, nil
}

// cloneConfig deep copies a template config so the catalog is never mutated
func cloneConfig(cfg *object.Config) (*object.Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to copy template config: %w", err)
	}
	return object.ParseConfig(data)
}

// SetNodeFrozen implements api.Objects
func (d *Daemon) SetNodeFrozen(frozen bool) error {
	state, err := d.store.GetNodeState()
	if err != nil {
		return err
	}
	switch {
	case frozen && state.Frozen.IsZero():
		state.Frozen = time.Now()
	case !frozen:
		state.Frozen = time.Time{}
	}
	if err := d.store.PutNodeState(state); err != nil {
		return fmt.Errorf("failed to store node state: %w", err)
	}
	d.logger.Info().Bool("frozen", frozen).Msg("Node frozen state changed")
	return d.evaluator.RefreshNode()
}
