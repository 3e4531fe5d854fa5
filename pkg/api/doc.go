/*
Package api implements the Hive access gateway: the route registry, the
parameter prototypes, the access policies and the gRPC and HTTP transports
that carry both the administrative actions and the gossip traffic.

# Architecture

	┌────────── CLIENT (CLI / peer daemon) ──────────┐
	│  gRPC Gateway/Call, Gateway/Stream             │
	│  HTTP GET|POST /api/{action}                   │
	└───────────────────────┬────────────────────────┘
	                        │ bearer token
	┌───────────────────────▼────────────────────────┐
	│  Authenticator  token -> Caller{Name, Grants}  │
	│  Gateway                                       │
	│    1. Registry.Lookup(method, action)          │
	│    2. Route.Coerce(params)                     │
	│    3. Access.Authorize(caller, params)         │
	│    4. relay to params["node"] or run handler   │
	└────────────────────────────────────────────────┘

# Routes

A Route names an action, the prototype of its parameters, its access policy
and a unary Handler or a StreamHandler. RegisterRoutes installs the daemon
actions, for example:

	GET  object_status   guest FROM:path
	POST object_monitor  operator FROM:path  (alias set_smon)
	POST hb_rx           heartbeat ANY
	GET  node_logs       root ANY            (stream)

Parameters are coerced to the Go type of their format before the handler
runs, so handlers read them through Params getters without further checks.
A failed coercion answers BadRequest naming the parameter.

# Access

Callers hold grants: "root", "heartbeat" or "<role>:<namespace>" with role
admin, operator or guest, each implying the next ones. A route scope selects
the namespace checked: ANY, FROM:<param> for the namespace of an object path
parameter, an explicit namespace list, or a custom check function. Peers
authenticate with the cluster secret and hold root and heartbeat.

# Transports

The gRPC service hive.v1.Gateway has no generated stubs: both methods carry
google.protobuf.Struct messages holding {method, action, params} requests and
{data} responses. The HTTP server maps GET query strings and POST JSON bodies
to the same requests and streams as newline delimited JSON. Errors keep their
apierrors kind across both transports.
*/
package api
