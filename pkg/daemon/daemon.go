package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/hive/pkg/api"
	"github.com/cuemby/hive/pkg/client"
	"github.com/cuemby/hive/pkg/config"
	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/drivers"
	"github.com/cuemby/hive/pkg/events"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/cuemby/hive/pkg/monitor"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/orchestrator"
	"github.com/cuemby/hive/pkg/placement"
	"github.com/cuemby/hive/pkg/replication"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/runtime"
	"github.com/cuemby/hive/pkg/security"
	"github.com/cuemby/hive/pkg/status"
	"github.com/cuemby/hive/pkg/storage"
	"github.com/cuemby/hive/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// SecretFile is the file of the data directory holding the generated
// cluster secret of a node configured without one
const SecretFile = "secret"

// Options are the dependencies of a daemon that are not part of its
// configuration
type Options struct {
	// Hub receives the log lines served by node_logs. A private hub is
	// created when nil.
	Hub *log.Hub

	// Runtime backs the container.containerd driver. The driver is not
	// registered when nil.
	Runtime *runtime.Runtime

	// DialOptions are appended to the options of the peer clients
	DialOptions []grpc.DialOption
}

// Daemon owns every component of a node
type Daemon struct {
	cfg    *config.Config
	secret string
	hub    *log.Hub
	logger zerolog.Logger

	store     *storage.BoltStore
	registry  *resource.Registry
	runtime   *runtime.Runtime
	broker    *events.Broker
	ds        *dataset.Dataset
	pool      *client.Pool
	engine    *replication.Engine
	orch      *orchestrator.Orchestrator
	evaluator *status.Evaluator
	monitor   *monitor.Monitor
	catalogs  object.Catalogs
	gateway   *api.Gateway
	grpc      *api.Server
	http      *api.HTTPServer
	collector *metrics.Collector

	errCh  chan error
	stopCh chan struct{}
	wg     sync.WaitGroup

	// ctx is canceled on Stop, background work runs under it
	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles a daemon from cfg. Nothing runs before Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	secret, err := LoadSecret(cfg.Node.DataDir, cfg.Cluster.Secret)
	if err != nil {
		return nil, err
	}
	secrets, err := security.NewSecretsManagerFromPassword(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.Node.DataDir, secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	hub := opts.Hub
	if hub == nil {
		hub = log.NewHub(1000)
	}

	d := &Daemon{
		cfg:      cfg,
		secret:   secret,
		hub:      hub,
		logger:   log.WithComponent("daemon"),
		store:    store,
		registry: resource.NewRegistry(),
		runtime:  opts.Runtime,
		broker:   events.NewBroker(),
		errCh:    make(chan error, 2),
		stopCh:   make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	drivers.RegisterBuiltins(d.registry, d.runtime)

	local := cfg.Node.Name
	d.ds = dataset.New(local, d.broker, cfg.Heartbeat.MaxPatches)
	d.pool = client.NewPool(cfg.PeerAddr, secret, opts.DialOptions...)
	d.engine = replication.NewEngine(replication.Config{
		Local:      local,
		Peers:      cfg.Members(),
		Interval:   cfg.Heartbeat.Interval,
		Timeout:    cfg.Heartbeat.Timeout,
		StaleAfter: cfg.Heartbeat.StaleAfter,
		DownAfter:  cfg.Heartbeat.DownAfter,
	}, d.ds, d.pool, d.broker)
	d.orch = orchestrator.New(store)

	stats, err := placement.NewStatsCollector("")
	if err != nil {
		d.logger.Warn().Err(err).Msg("Node capacity figures unavailable")
		stats = nil
	}
	d.evaluator = status.New(status.Config{
		Local:    local,
		DataDir:  cfg.Node.DataDir,
		Interval: cfg.Status.Interval,
		Labels:   cfg.Node.Labels,
		Writer:   d.engine,
	}, store, d.registry, d.ds, d.orch, stats)

	d.monitor = monitor.New(monitor.Config{
		Local:            local,
		Interval:         cfg.Monitor.Interval,
		ReadyPeriod:      cfg.Monitor.ReadyPeriod,
		DefaultPlacement: cfg.Monitor.Placement,
		Writer:           d.engine,
	}, d.ds, d.engine, &actor{d: d}, d.broker)

	builtin, err := object.NewBuiltinCatalog()
	if err != nil {
		store.Close()
		return nil, err
	}
	d.catalogs = object.NewCatalogs(builtin, object.NewLocalCatalog(store))

	auth, err := api.NewAuthenticator(cfg.Users, secret)
	if err != nil {
		store.Close()
		return nil, err
	}
	reg := api.NewRegistry()
	api.RegisterRoutes(reg, &api.Deps{
		Local:      local,
		Dataset:    d.ds,
		Engine:     d.engine,
		Monitor:    d.monitor,
		Store:      store,
		Objects:    d,
		Catalogs:   d.catalogs,
		Hub:        hub,
		Background: d.background,
	})
	d.gateway = api.NewGateway(local, reg, d.pool, d.engine.IsMember)
	d.grpc = api.NewServer(d.gateway, auth)
	d.http = api.NewHTTPServer(cfg.Node.HTTPAddr, d.gateway, auth, api.DefaultRequestTimeout)
	d.collector = metrics.NewCollector(d)

	return d, nil
}

// background runs fn until it returns. Stop cancels its context and waits
// for it before the store is closed.
func (d *Daemon) background(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
}

// LoadSecret returns the configured cluster secret. Without one, the secret
// stored in the data directory is used, and generated on first use.
func LoadSecret(dataDir, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path := filepath.Join(dataDir, SecretFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	secret := uuid.New().String()
	if err := os.WriteFile(path, []byte(secret+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write secret: %w", err)
	}
	return secret, nil
}

// Start starts the components, the servers last
func (d *Daemon) Start() error {
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("replication", false, "starting")
	metrics.RegisterComponent("monitor", false, "starting")
	metrics.RegisterComponent("api", false, "starting")

	d.broker.Start()

	// publish the node data and the instances before the first heartbeat
	if err := d.evaluator.RefreshNode(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to publish node data")
	}
	if err := d.evaluator.EvaluateAll(context.Background()); err != nil {
		d.logger.Warn().Err(err).Msg("Initial status pass failed")
	}

	d.engine.Start()
	metrics.UpdateComponent("replication", true, "")
	d.evaluator.Start()
	d.monitor.Start()
	metrics.UpdateComponent("monitor", true, "")
	d.collector.Start()

	d.wg.Add(1)
	go d.syncLoop()

	d.serve("grpc", func() error { return d.grpc.Start(d.cfg.Node.GRPCAddr) })
	d.serve("http", d.http.Start)
	metrics.UpdateComponent("api", true, "")

	d.logger.Info().
		Str("node", d.cfg.Node.Name).
		Str("grpc", d.cfg.Node.GRPCAddr).
		Str("http", d.cfg.Node.HTTPAddr).
		Int("peers", len(d.cfg.Peers())).
		Msg("Daemon started")
	return nil
}

func (d *Daemon) serve(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			metrics.UpdateComponent("api", false, err.Error())
			d.errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

// Errors reports the failures of the servers
func (d *Daemon) Errors() <-chan error {
	return d.errCh
}

// Run starts the daemon and blocks until ctx is done or a server fails
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	var err error
	select {
	case <-ctx.Done():
	case err = <-d.errCh:
	}
	d.Stop()
	return err
}

// Stop stops the components in the reverse order of Start
func (d *Daemon) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.http.Stop(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("HTTP server shutdown")
	}
	d.grpc.Stop()
	metrics.UpdateComponent("api", false, "stopped")

	close(d.stopCh)
	d.cancel()
	d.wg.Wait()
	d.collector.Stop()
	d.monitor.Stop()
	d.evaluator.Stop()
	d.engine.Stop()
	d.pool.Close()
	d.broker.Stop()

	if d.runtime != nil {
		if err := d.runtime.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close containerd client")
		}
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close store")
	}
	d.logger.Info().Msg("Daemon stopped")
}

// Gateway returns the access gateway
func (d *Daemon) Gateway() *api.Gateway {
	return d.gateway
}

// Dataset returns the cluster dataset
func (d *Daemon) Dataset() *dataset.Dataset {
	return d.ds
}

// PeerStatuses implements metrics.Source
func (d *Daemon) PeerStatuses() map[string]types.PeerStatus {
	return d.engine.PeerStatuses()
}

// LocalInstances implements metrics.Source
func (d *Daemon) LocalInstances() map[string]*types.InstanceData {
	snap, _ := d.ds.LocalSnapshot()
	return snap.Instances
}

// Generations implements metrics.Source
func (d *Daemon) Generations() map[string]types.Generation {
	return d.engine.Generations()
}
