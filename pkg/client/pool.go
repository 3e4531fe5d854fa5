package client

import (
	"context"
	"sync"

	"github.com/cuemby/hive/pkg/api"
	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/replication"
	"google.golang.org/grpc"
)

// Resolver returns the gateway address of a node
type Resolver func(node string) (addr string, ok bool)

// Pool keeps one client per peer. It relays gateway requests to peers and
// carries the heartbeats of the replication engine.
type Pool struct {
	resolve Resolver
	token   string
	opts    []grpc.DialOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool authenticating with token, usually the cluster
// secret
func NewPool(resolve Resolver, token string, opts ...grpc.DialOption) *Pool {
	return &Pool{
		resolve: resolve,
		token:   token,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Get returns the client of node
func (p *Pool) Get(node string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[node]; ok {
		return c, nil
	}
	addr, ok := p.resolve(node)
	if !ok {
		return nil, apierrors.NotFound("no gateway address for node %s", node)
	}
	c, err := New(addr, p.token, p.opts...)
	if err != nil {
		return nil, err
	}
	p.clients[node] = c
	return c, nil
}

// Close closes every client
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for node, c := range p.clients {
		_ = c.Close()
		delete(p.clients, node)
	}
}

// Send implements replication.Transport
func (p *Pool) Send(ctx context.Context, peer string, msg *replication.Message) (*replication.Ack, error) {
	c, err := p.Get(peer)
	if err != nil {
		return nil, err
	}
	var ack replication.Ack
	if err := c.Call(ctx, "POST", "hb_rx", map[string]interface{}{"msg": msg}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Call implements api.Relayer. The node parameter is dropped so the peer
// serves the request locally.
func (p *Pool) Call(ctx context.Context, node string, req *api.Request) (interface{}, error) {
	c, err := p.Get(node)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, local(req))
}

// Stream implements api.Relayer
func (p *Pool) Stream(ctx context.Context, node string, req *api.Request, fn func(v interface{}) error) error {
	c, err := p.Get(node)
	if err != nil {
		return err
	}
	return c.Stream(ctx, local(req), fn)
}

func local(req *api.Request) *api.Request {
	params := make(map[string]interface{}, len(req.Params))
	for k, v := range req.Params {
		if k != "node" {
			params[k] = v
		}
	}
	return &api.Request{Method: req.Method, Action: req.Action, Params: params}
}
