package api

import (
	"context"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/rs/zerolog"
)

// Relayer forwards a request to the gateway of another node
type Relayer interface {
	Call(ctx context.Context, node string, req *Request) (interface{}, error)
	Stream(ctx context.Context, node string, req *Request, fn func(v interface{}) error) error
}

// Gateway validates, authorizes and dispatches requests to route handlers.
// Both the gRPC and the HTTP transports call into it.
type Gateway struct {
	local    string
	registry *Registry
	relay    Relayer
	isNode   func(name string) bool
	logger   zerolog.Logger
}

// NewGateway creates a gateway serving the routes of registry. relay and
// isNode may be nil on a single node, requests naming another node then fail.
func NewGateway(local string, registry *Registry, relay Relayer, isNode func(name string) bool) *Gateway {
	return &Gateway{
		local:    local,
		registry: registry,
		relay:    relay,
		isNode:   isNode,
		logger:   log.WithComponent("api"),
	}
}

// Registry returns the route registry
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Call runs a unary request
func (g *Gateway) Call(ctx context.Context, caller *Caller, req *Request) (result interface{}, err error) {
	timer := metrics.NewTimer()
	defer func() {
		g.observe(req, caller, timer, err)
	}()

	route, params, node, err := g.prepare(caller, req)
	if err != nil {
		return nil, err
	}
	if route.Stream {
		return nil, apierrors.BadRequest("action", "%s is a streaming action", route.Action)
	}
	if node != "" {
		return g.relay.Call(ctx, node, req)
	}
	return route.Handler(ctx, caller, params)
}

// Stream runs a streaming request, sending the results to sink
func (g *Gateway) Stream(ctx context.Context, caller *Caller, req *Request, sink Stream) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		g.observe(req, caller, timer, err)
	}()

	route, params, node, err := g.prepare(caller, req)
	if err != nil {
		return err
	}
	if !route.Stream {
		var v interface{}
		if node != "" {
			v, err = g.relay.Call(ctx, node, req)
		} else {
			v, err = route.Handler(ctx, caller, params)
		}
		if err != nil {
			return err
		}
		return sink.Send(v)
	}
	if node != "" {
		return g.relay.Stream(ctx, node, req, sink.Send)
	}
	return route.StreamHandler(ctx, caller, params, sink)
}

// prepare resolves the route, coerces the parameters and checks the access
// policy. node is set when the request must be relayed to another node.
func (g *Gateway) prepare(caller *Caller, req *Request) (route *Route, params Params, node string, err error) {
	route, err = g.registry.Lookup(req.Method, req.Action)
	if err != nil {
		return nil, nil, "", err
	}
	params, err = route.Coerce(req.Params)
	if err != nil {
		return nil, nil, "", err
	}
	if err := route.Access.Authorize(caller, params); err != nil {
		return nil, nil, "", err
	}

	node = params.String("node")
	if node == "" || node == g.local {
		return route, params, "", nil
	}
	if g.relay == nil || g.isNode == nil || !g.isNode(node) {
		return nil, nil, "", apierrors.NotFound("node %s is not a cluster member", node)
	}
	return route, params, node, nil
}

func (g *Gateway) observe(req *Request, caller *Caller, timer *metrics.Timer, err error) {
	status := "ok"
	if err != nil {
		status = string(apierrors.KindOf(err))
	}
	action := req.Action
	if _, lerr := g.registry.Lookup(req.Method, req.Action); lerr != nil {
		// keep the label cardinality bounded
		action = "unknown"
	}
	metrics.APIRequestsTotal.WithLabelValues(action, status).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, action)

	ev := g.logger.Debug()
	if err != nil && apierrors.KindOf(err) == apierrors.KindInternal {
		ev = g.logger.Error()
	}
	name := ""
	if caller != nil {
		name = caller.Name
	}
	ev.Str("method", req.Method).
		Str("action", req.Action).
		Str("caller", name).
		Dur("duration", timer.Duration()).
		Err(err).
		Msg("Request")
}
