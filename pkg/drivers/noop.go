package drivers

import (
	"context"

	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/types"
)

// Noop is the sync.noop driver, a status-only placeholder
type Noop struct {
	schedule string
}

// NewNoop is the sync.noop constructor
func NewNoop(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
	return &Noop{schedule: cfg.Options["schedule"]}, nil
}

func (n *Noop) Status(ctx context.Context) (types.Status, error) {
	return types.StatusNotApplicable, nil
}

func (n *Noop) Start(ctx context.Context) error { return nil }

func (n *Noop) Stop(ctx context.Context) error { return nil }

func (n *Noop) StatusLog() []string {
	if n.schedule == "" {
		return nil
	}
	return []string{"schedule " + n.schedule}
}
