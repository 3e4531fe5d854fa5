/*
Package storage persists the node-local state of the daemon in BoltDB.

The cluster dataset itself lives in memory and is rebuilt from peers after a
restart. What must survive a restart is stored here:

	objects     object configurations, keyed by path
	instances   per-instance flags: frozen timestamp, provisioned resources
	node        the node frozen timestamp
	templates   the local template catalog

Values are JSON encoded. The data of sec objects is sealed with the cluster
secret before it is written and opened when read back.
*/
package storage
