package drivers

import (
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/runtime"
	"github.com/cuemby/hive/pkg/volume"
)

// RegisterBuiltins registers the drivers shipped with the daemon.
// container.containerd is registered only when rt is not nil.
func RegisterBuiltins(reg *resource.Registry, rt *runtime.Runtime) {
	reg.Register("fs", "directory", volume.NewDirectory)
	reg.Register("app", "simple", NewApp)
	reg.Register("ip", "probe", NewProbe)
	reg.Register("sync", "noop", NewNoop)
	if rt != nil {
		reg.Register("container", "containerd", rt.Constructor())
	}
}
