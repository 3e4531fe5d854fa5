/*
Package placement ranks the candidate nodes of an object.

	nodes order  the config node list order
	score        highest node score first, the score weighing the available
	             memory by the cpu headroom read from procfs
	shift        the node list rotated by an xxhash of the object path
	spread       least loaded nodes first

The monitor filters the candidates (alive, not frozen, constraints met, not in
a failed state) before ranking, then promotes the current owner or the
placed@ target with Promote.
*/
package placement
