/*
Package client calls the Hive gateway over gRPC.

A Client talks to the gateway of one node. Requests are (method, action,
params) triples encoded in google.protobuf.Struct messages, the same ones
the gateway routes take over HTTP:

	c, err := client.New("127.0.0.1:1215", token)
	if err != nil {
		return err
	}
	defer c.Close()

	var nodes []api.NodeInfo
	err = c.Call(ctx, "GET", "nodes_info", nil, &nodes)

Errors come back with their apierrors kind, so callers test them with
apierrors.Is whatever the transport.

A Pool keeps one client per peer and serves two daemon components: it is the
replication.Transport carrying heartbeats to the peers' hb_rx action, and the
api.Relayer forwarding requests that name another node. Both authenticate
with the cluster secret.
*/
package client
