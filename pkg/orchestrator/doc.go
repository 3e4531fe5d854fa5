/*
Package orchestrator runs instance actions on resource drivers.

Resources are grouped by family and subset. start and provision walk the
families in the order disk, fs, share, ip, container, app; stop and
unprovision walk them in reverse. Subsets of a family are ordered by name and
the resources of a subset by resource id. A subset flagged parallel in the
object config acts on its resources concurrently.

Every driver call is bounded by the resource timeout. start skips resources
already up and stop skips resources already down or standby. A failing
optional resource is logged and the walk goes on. Any other failure aborts the
action with a ResourceActionError naming the resource, and the resources
already started or provisioned by the action are rolled back in reverse order.
*/
package orchestrator
