package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/hive/pkg/health"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/types"
)

// Probe is the ip.probe driver. It reports if an address accepts TCP
// connections and has no start nor stop action.
type Probe struct {
	checker *health.TCPChecker

	mu   sync.Mutex
	last string
}

// NewProbe is the ip.probe constructor
func NewProbe(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
	addr := cfg.Options["addr"]
	if addr == "" {
		return nil, fmt.Errorf("addr keyword is required")
	}
	return &Probe{checker: health.NewTCPChecker(addr)}, nil
}

func (p *Probe) Status(ctx context.Context) (types.Status, error) {
	result := p.checker.Check(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = ""
	if !result.Healthy {
		p.last = result.Message
	}
	return result.Status(), nil
}

func (p *Probe) Start(ctx context.Context) error {
	return resource.ErrNotApplicable
}

func (p *Probe) Stop(ctx context.Context) error {
	return resource.ErrNotApplicable
}

func (p *Probe) StatusLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == "" {
		return nil
	}
	return []string{p.last}
}
