package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace of the containers managed
	// by the daemon
	DefaultNamespace = "hive"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGrace = 10 * time.Second
)

// Runtime is a lazily connected containerd client shared by every
// container.containerd resource of the node
type Runtime struct {
	socketPath string
	namespace  string

	mu     sync.Mutex
	client *containerd.Client
}

// NewRuntime creates a runtime. The socket is dialed on first use so nodes
// without containerd still run the other drivers.
func NewRuntime(socketPath, namespace string) *Runtime {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Runtime{socketPath: socketPath, namespace: namespace}
}

func (r *Runtime) connect(ctx context.Context) (*containerd.Client, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		client, err := containerd.New(r.socketPath)
		if err != nil {
			return nil, ctx, fmt.Errorf("failed to connect to containerd: %w", err)
		}
		r.client = client
	}
	return r.client, namespaces.WithNamespace(ctx, r.namespace), nil
}

// Close closes the containerd client connection
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

// Constructor returns the container.containerd constructor bound to r
func (r *Runtime) Constructor() resource.Constructor {
	return func(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
		image := cfg.Options["image"]
		if image == "" {
			return nil, fmt.Errorf("image keyword is required")
		}

		c := &Container{
			rt:    r,
			rid:   rid,
			id:    ContainerID(env.Path, rid),
			image: image,
		}
		if cmd := cfg.Options["command"]; cmd != "" {
			c.args = strings.Fields(cmd)
		}
		if v := cfg.Options["volume"]; v != "" {
			src, dst, ok := strings.Cut(v, ":")
			if !ok || src == "" || dst == "" {
				return nil, fmt.Errorf("invalid volume %q, expected src:dst", v)
			}
			c.mounts = append(c.mounts, specs.Mount{
				Source:      src,
				Destination: dst,
				Type:        "bind",
				Options:     []string{"rbind", "rw"},
			})
		}
		return c, nil
	}
}

// ContainerID derives the containerd id of the container of rid
func ContainerID(path, rid string) string {
	return strings.NewReplacer("/", ".", "#", "_").Replace(path + "." + rid)
}

// Container is the container.containerd driver: one containerd container and
// its task
type Container struct {
	rt     *Runtime
	rid    string
	id     string
	image  string
	args   []string
	mounts []specs.Mount
}

var (
	_ resource.Driver      = (*Container)(nil)
	_ resource.Provisioner = (*Container)(nil)
	_ resource.Rollbacker  = (*Container)(nil)
)

// ID returns the containerd container id
func (c *Container) ID() string {
	return c.id
}

func (c *Container) load(ctx context.Context) (containerd.Container, context.Context, error) {
	client, ctx, err := c.rt.connect(ctx)
	if err != nil {
		return nil, ctx, err
	}
	container, err := client.LoadContainer(ctx, c.id)
	return container, ctx, err
}

// Status maps the task state: running or paused is up, anything else down
func (c *Container) Status(ctx context.Context) (types.Status, error) {
	container, ctx, err := c.load(ctx)
	if errdefs.IsNotFound(err) {
		return types.StatusDown, nil
	}
	if err != nil {
		return types.StatusUndef, err
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.StatusDown, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return types.StatusUndef, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running:
		return types.StatusUp, nil
	case containerd.Paused, containerd.Pausing:
		return types.StatusWarn, nil
	default:
		return types.StatusDown, nil
	}
}

// Provision pulls the image and creates the container
func (c *Container) Provision(ctx context.Context) error {
	client, ctx, err := c.rt.connect(ctx)
	if err != nil {
		return err
	}
	if _, err := client.LoadContainer(ctx, c.id); err == nil {
		return nil
	}

	image, err := client.Pull(ctx, c.image, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", c.image, err)
	}

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if len(c.args) > 0 {
		opts = append(opts, oci.WithProcessArgs(c.args...))
	}
	if len(c.mounts) > 0 {
		opts = append(opts, oci.WithMounts(c.mounts))
	}

	_, err = client.NewContainer(
		ctx,
		c.id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(c.id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Unprovision stops and removes the container and its snapshot
func (c *Container) Unprovision(ctx context.Context) error {
	container, ctx, err := c.load(ctx)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.stopTask(ctx, container); err != nil {
		return err
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// Provisioned reports if the container exists
func (c *Container) Provisioned(ctx context.Context) (bool, error) {
	_, _, err := c.load(ctx)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Start creates and starts the container task
func (c *Container) Start(ctx context.Context) error {
	container, ctx, err := c.load(ctx)
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("container %s does not exist, provision first", c.id)
	}
	if err != nil {
		return err
	}

	if task, err := container.Task(ctx, nil); err == nil {
		status, err := task.Status(ctx)
		if err == nil && status.Status == containerd.Running {
			return nil
		}
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil {
			return fmt.Errorf("failed to delete stale task: %w", err)
		}
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// Stop stops the container task, SIGTERM then SIGKILL after a grace period
func (c *Container) Stop(ctx context.Context) error {
	container, ctx, err := c.load(ctx)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.stopTask(ctx, container)
}

func (c *Container) stopTask(ctx context.Context, container containerd.Container) error {
	task, err := container.Task(ctx, nil)
	if err != nil {
		// not running
		return nil
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-time.After(stopGrace):
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
		<-statusC
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Rollback undoes a start or a provision
func (c *Container) Rollback(ctx context.Context, action string) error {
	switch action {
	case "start":
		return c.Stop(ctx)
	case "provision":
		return c.Unprovision(ctx)
	}
	return resource.ErrNotSupported
}
