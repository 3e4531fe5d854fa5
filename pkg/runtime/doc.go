/*
Package runtime implements the container.containerd resource driver on top of
the containerd client API.

A single Runtime is shared by every container resource of the node. It dials
the containerd socket on first use and scopes every call to the "hive"
containerd namespace, so nodes without containerd can still run services that
use other drivers.

# Lifecycle

Resource actions map onto containerd operations:

	provision    pull the image (unpacked) and create the container with a
	             fresh snapshot and an OCI spec derived from the image config
	start        create and start the container task with null IO
	stop         SIGTERM the task, SIGKILL after a grace period, delete the task
	unprovision  stop, then delete the container and its snapshot

Status reports up for a running task, warn for a paused one and down when the
container or its task does not exist.

The container id is derived from the object path and the resource id, for
example root/svc/web and container#1 give root.svc.web.container_1.

# Keywords

	image    required image reference
	command  overrides the image entrypoint, split on whitespace
	volume   src:dst bind mount of a host directory
*/
package runtime
