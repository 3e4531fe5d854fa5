package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/types"
)

const defaultPerm = 0755

// Directory is the fs.directory driver: a local directory provisioned on the
// node and marked in use while the instance runs
type Directory struct {
	rid    string
	path   string
	perm   os.FileMode
	marker string
}

var (
	_ resource.Driver      = (*Directory)(nil)
	_ resource.Provisioner = (*Directory)(nil)
	_ resource.Rollbacker  = (*Directory)(nil)
)

// NewDirectory is the fs.directory constructor
func NewDirectory(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
	path := cfg.Options["path"]
	if path == "" {
		return nil, fmt.Errorf("path keyword is required")
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("path %q must be absolute", path)
	}

	perm := os.FileMode(defaultPerm)
	if s := cfg.Options["perm"]; s != "" {
		v, err := strconv.ParseUint(s, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid perm %q: %w", s, err)
		}
		perm = os.FileMode(v)
	}

	return &Directory{
		rid:    rid,
		path:   filepath.Clean(path),
		perm:   perm,
		marker: markerPath(env, rid),
	}, nil
}

// markerPath returns the file recording that rid of the instance is started
func markerPath(env resource.Env, rid string) string {
	name := strings.ReplaceAll(env.Path, "/", "_") + "." + strings.ReplaceAll(rid, "#", "_")
	return filepath.Join(env.DataDir, "run", name)
}

// Path returns the managed directory
func (d *Directory) Path() string {
	return d.path
}

func (d *Directory) exists() bool {
	fi, err := os.Stat(d.path)
	return err == nil && fi.IsDir()
}

// Status is up when the directory exists and the resource is started
func (d *Directory) Status(ctx context.Context) (types.Status, error) {
	if !d.exists() {
		return types.StatusDown, nil
	}
	if _, err := os.Stat(d.marker); err != nil {
		return types.StatusDown, nil
	}
	return types.StatusUp, nil
}

// Start checks the directory and marks the resource started
func (d *Directory) Start(ctx context.Context) error {
	if !d.exists() {
		return fmt.Errorf("directory %s does not exist, provision first", d.path)
	}
	if err := os.MkdirAll(filepath.Dir(d.marker), 0700); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := os.WriteFile(d.marker, []byte(d.path+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to mark %s started: %w", d.rid, err)
	}
	return nil
}

// Stop removes the started mark. The directory content is kept.
func (d *Directory) Stop(ctx context.Context) error {
	if err := os.Remove(d.marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to mark %s stopped: %w", d.rid, err)
	}
	return nil
}

// Provision creates the directory
func (d *Directory) Provision(ctx context.Context) error {
	if err := os.MkdirAll(d.path, d.perm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Unprovision removes the directory and its content
func (d *Directory) Unprovision(ctx context.Context) error {
	if err := d.Stop(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("failed to delete directory: %w", err)
	}
	return nil
}

// Provisioned reports if the directory exists
func (d *Directory) Provisioned(ctx context.Context) (bool, error) {
	return d.exists(), nil
}

// Rollback undoes a start or a provision
func (d *Directory) Rollback(ctx context.Context, action string) error {
	switch action {
	case "start":
		return d.Stop(ctx)
	case "provision":
		return d.Unprovision(ctx)
	}
	return resource.ErrNotSupported
}
