package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/types"
)

var (
	// ErrNotSupported is returned by drivers for actions they do not implement
	ErrNotSupported = errors.New("not supported")

	// ErrNotApplicable is returned by drivers when an action makes no sense in
	// the current context, for example stopping a resource on a standby node
	ErrNotApplicable = errors.New("not applicable")
)

// Driver is the contract every resource driver satisfies
type Driver interface {
	Status(ctx context.Context) (types.Status, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Provisioner is implemented by drivers creating and destroying the
// underlying object of the resource
type Provisioner interface {
	Provision(ctx context.Context) error
	Unprovision(ctx context.Context) error
	Provisioned(ctx context.Context) (bool, error)
}

// Rollbacker is implemented by drivers able to undo a start or a provision
// when a later resource of the same action fails
type Rollbacker interface {
	Rollback(ctx context.Context, action string) error
}

// Logger is implemented by drivers reporting free-text status lines
type Logger interface {
	StatusLog() []string
}

// Env is the context a driver is constructed in
type Env struct {
	Node    string
	Path    string
	DataDir string
}

// Constructor builds a driver from a resource config
type Constructor func(rid string, cfg object.ResourceConfig, env Env) (Driver, error)

// Key identifies a driver
type Key struct {
	Family string
	Type   string
}

func (k Key) String() string {
	return k.Family + "." + k.Type
}

// Resource is one configured resource of an instance and its driver
type Resource struct {
	RID    string
	Family string
	Config object.ResourceConfig
	Driver Driver
}

// Registry maps driver keys to constructors
type Registry struct {
	mu    sync.RWMutex
	ctors map[Key]Constructor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[Key]Constructor)}
}

// Register adds a constructor. Registering a key twice replaces the
// constructor.
func (r *Registry) Register(family, typ string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[Key{Family: family, Type: typ}] = ctor
}

// Keys returns the registered keys, sorted
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.ctors))
	for k := range r.ctors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// New builds the resource rid
func (r *Registry) New(rid string, cfg object.ResourceConfig, env Env) (*Resource, error) {
	key := Key{Family: object.Family(rid), Type: cfg.Type}

	r.mu.RLock()
	ctor, ok := r.ctors[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: no driver %s", rid, key)
	}

	drv, err := ctor(rid, cfg, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rid, err)
	}
	return &Resource{RID: rid, Family: key.Family, Config: cfg, Driver: drv}, nil
}

// Build builds every resource of a config, sorted by rid
func (r *Registry) Build(cfg *object.Config, env Env) ([]*Resource, error) {
	var result []*Resource
	for _, rid := range cfg.RIDs() {
		res, err := r.New(rid, cfg.Resources[rid], env)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, nil
}

// IsStatusOnly reports if resources of family are never started nor stopped
// by instance actions
func IsStatusOnly(family string) bool {
	return family == "sync" || family == "task"
}

// Evaluate computes the status of one resource. Driver errors are reported as
// an undef status with the error in the log.
func (res *Resource) Evaluate(ctx context.Context, provisioned types.TriState) types.ResourceStatus {
	rs := types.ResourceStatus{
		RID:         res.RID,
		Type:        res.Family + "." + res.Config.Type,
		Subset:      res.Config.Subset,
		Disabled:    res.Config.Disable,
		Monitor:     res.Config.Monitor,
		Optional:    res.Config.Optional,
		Encap:       res.Config.Encap,
		Standby:     res.Config.Standby,
		Provisioned: provisioned,
		Restart:     res.Config.Restart,
	}
	if res.Config.Disable {
		rs.Status = types.StatusNotApplicable
		return rs
	}

	st, err := res.Driver.Status(ctx)
	switch {
	case errors.Is(err, ErrNotSupported), errors.Is(err, ErrNotApplicable):
		st = types.StatusNotApplicable
	case err != nil:
		st = types.StatusUndef
		rs.Log = append(rs.Log, err.Error())
	}
	if res.Config.Standby {
		switch st {
		case types.StatusUp:
			st = types.StatusStandbyUp
		case types.StatusDown:
			st = types.StatusStandbyDown
		}
	}
	rs.Status = st

	if l, ok := res.Driver.(Logger); ok {
		rs.Log = append(rs.Log, l.StatusLog()...)
	}
	return rs
}
