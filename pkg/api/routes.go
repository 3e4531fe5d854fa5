package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/monitor"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/replication"
	"github.com/cuemby/hive/pkg/types"
)

// Engine is the part of the replication engine the routes use
type Engine interface {
	Session() string
	Receive(msg *replication.Message) (*replication.Ack, error)
	RequestFull(peer string) error
	Generations() dataset.GenTable
	PeerStatuses() map[string]types.PeerStatus
	PeerState(name string) types.PeerState
}

// Submitter accepts monitor intents
type Submitter interface {
	Submit(ctx context.Context, in monitor.Intent) error
}

// ObjectReader reads object configurations
type ObjectReader interface {
	GetObject(path string) (*object.Object, error)
}

// CreateRequest are the parameters of an object creation
type CreateRequest struct {
	Path      string                 `json:"path"`
	Namespace string                 `json:"namespace,omitempty"`
	Catalog   string                 `json:"catalog,omitempty"`
	Template  string                 `json:"template,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Provision bool                   `json:"provision,omitempty"`
	Restore   bool                   `json:"restore,omitempty"`
}

// Objects performs the node operations that touch the store
type Objects interface {
	CreateObject(ctx context.Context, req *CreateRequest) (*object.Object, error)
	SetNodeFrozen(frozen bool) error
}

// Deps are the components the route handlers use
type Deps struct {
	Local    string
	Dataset  *dataset.Dataset
	Engine   Engine
	Monitor  Submitter
	Store    ObjectReader
	Objects  Objects
	Catalogs object.Catalogs
	Hub      *log.Hub

	// Background runs work that outlives the request, such as asynchronous
	// creates. The daemon tracks it and cancels its context on shutdown.
	// nil runs it on an untracked goroutine.
	Background func(fn func(ctx context.Context))
}

func (d *Deps) background(fn func(ctx context.Context)) {
	if d.Background != nil {
		d.Background(fn)
		return
	}
	go fn(context.Background())
}

// Info is the answer of routes that only acknowledge
type Info struct {
	Status int    `json:"status"`
	Info   string `json:"info"`
}

var (
	pathParam = Param{Name: "path", Format: FormatObjectPath, Required: true, Desc: "object path"}
	nodeParam = Param{Name: "node", Format: FormatNode, Desc: "node to relay the request to"}

	guestAny = Access{Roles: []Role{RoleGuest}, Scope: ScopeAny}
	rootAny  = Access{Roles: []Role{RoleRoot}, Scope: ScopeAny}
)

// RegisterRoutes registers every gateway action on reg
func RegisterRoutes(reg *Registry, d *Deps) {
	reg.Register(&Route{
		Method:  "GET",
		Action:  "catalogs",
		Access:  guestAny,
		Desc:    "list the template catalogs",
		Handler: d.catalogs,
	})
	reg.Register(&Route{
		Method: "GET",
		Action: "keywords",
		Params: []Param{
			{Name: "kind", Format: FormatString, Default: string(object.KindSvc), Candidates: []string{"svc", "vol", "cfg", "sec", "usr"}},
		},
		Access:  guestAny,
		Desc:    "dump the configuration keywords of an object kind",
		Handler: d.keywords,
	})
	reg.Register(&Route{
		Method: "GET",
		Action: "template",
		Params: []Param{
			{Name: "catalog", Format: FormatString},
			{Name: "template", Format: FormatString, Required: true},
		},
		Access:  guestAny,
		Desc:    "show a template",
		Handler: d.template,
	})
	reg.Register(&Route{
		Method: "GET",
		Action: "node_logs",
		Params: []Param{
			{Name: "backlog", Format: FormatInt, Default: 10, Desc: "number of past lines to send first"},
			nodeParam,
		},
		Access:        rootAny,
		Stream:        true,
		Desc:          "stream the daemon logs",
		StreamHandler: d.nodeLogs,
	})
	reg.Register(&Route{
		Method:  "GET",
		Action:  "nodes_info",
		Access:  guestAny,
		Desc:    "node labels, stats, frozen state and liveness",
		Handler: d.nodesInfo,
	})
	reg.Register(&Route{
		Method:  "GET",
		Action:  "daemon_status",
		Params:  []Param{nodeParam},
		Access:  guestAny,
		Desc:    "dataset dump with generations and peer states",
		Handler: d.daemonStatus,
	})
	reg.Register(&Route{
		Method:  "GET",
		Action:  "object_status",
		Params:  []Param{pathParam},
		Access:  Access{Roles: []Role{RoleGuest}, Scope: ScopeFrom, Param: "path"},
		Desc:    "instance data of an object on every node",
		Handler: d.objectStatus,
	})
	reg.Register(&Route{
		Method:  "GET",
		Action:  "object_keys",
		Params:  []Param{pathParam, nodeParam},
		Access:  Access{Roles: []Role{RoleGuest}, Scope: ScopeFrom, Param: "path"},
		Desc:    "keys of a cfg or sec object",
		Handler: d.objectKeys,
	})
	reg.Register(&Route{
		Method:  "GET",
		Action:  "object_config",
		Params:  []Param{pathParam, nodeParam},
		Access:  Access{Roles: []Role{RoleAdmin}, Scope: ScopeFrom, Param: "path"},
		Desc:    "configuration of an object as stored on the node",
		Handler: d.objectConfig,
	})
	reg.Register(&Route{
		Method: "POST",
		Action: "ask_full",
		Params: []Param{
			{Name: "peer", Format: FormatNode, Required: true, Desc: "peer to ask a full resync from"},
			nodeParam,
		},
		Access:  rootAny,
		Desc:    "reset the generation recorded for a peer",
		Handler: d.askFull,
	})
	reg.Register(&Route{
		Method: "POST",
		Action: "hb_rx",
		Params: []Param{
			{Name: "msg", Format: FormatDict, Required: true},
		},
		Access:  Access{Roles: []Role{RoleHeartbeat}, Scope: ScopeAny},
		Desc:    "receive a heartbeat message",
		Handler: d.hbRx,
	})
	reg.Register(&Route{
		Method:  "POST",
		Action:  "object_create",
		Aliases: []string{"create"},
		Params: []Param{
			{Name: "path", Format: FormatObjectPath},
			{Name: "namespace", Format: FormatString},
			{Name: "catalog", Format: FormatString},
			{Name: "template", Format: FormatString},
			{Name: "data", Format: FormatDict, Desc: "object configuration"},
			{Name: "provision", Format: FormatBool, Default: false},
			{Name: "restore", Format: FormatBool, Default: false, Desc: "replace an existing object"},
			{Name: "sync", Format: FormatBool, Default: true},
			nodeParam,
		},
		Access: Access{
			Roles: []Role{RoleAdmin},
			Scope: ScopeCustom,
			Check: checkCreate,
		},
		Desc:    "create an object from a template or a configuration",
		Handler: d.objectCreate,
	})
	reg.Register(&Route{
		Method:  "POST",
		Action:  "object_monitor",
		Aliases: []string{"set_smon"},
		Params: []Param{
			pathParam,
			{Name: "global_expect", Format: FormatString},
			{Name: "local_expect", Format: FormatString, Candidates: []string{"started", "shutdown", "none", "unset"}},
			nodeParam,
		},
		Access:  Access{Roles: []Role{RoleOperator}, Scope: ScopeFrom, Param: "path"},
		Desc:    "set the global or local expect of an object",
		Handler: d.objectMonitor,
	})
	reg.Register(&Route{
		Method:  "POST",
		Action:  "object_clear",
		Params:  []Param{pathParam, nodeParam},
		Access:  Access{Roles: []Role{RoleOperator}, Scope: ScopeFrom, Param: "path"},
		Desc:    "reset the failed state and restart budget of an instance",
		Handler: d.objectClear,
	})
	reg.Register(&Route{
		Method:  "POST",
		Action:  "object_delete",
		Params:  []Param{pathParam, nodeParam},
		Access:  Access{Roles: []Role{RoleAdmin}, Scope: ScopeFrom, Param: "path"},
		Desc:    "delete an object from the node",
		Handler: d.objectDelete,
	})
	reg.Register(&Route{
		Method:  "POST",
		Action:  "node_freeze",
		Params:  []Param{nodeParam},
		Access:  rootAny,
		Desc:    "freeze the node",
		Handler: d.nodeFrozen(true),
	})
	reg.Register(&Route{
		Method:  "POST",
		Action:  "node_thaw",
		Params:  []Param{nodeParam},
		Access:  rootAny,
		Desc:    "thaw the node",
		Handler: d.nodeFrozen(false),
	})
}

// checkCreate requires admin on the namespace of the created object
func checkCreate(caller *Caller, params Params) error {
	ns := params.String("namespace")
	if p := params.String("path"); p != "" {
		ns = object.NamespaceOf(p)
	}
	if ns == "" {
		ns = "root"
	}
	if caller.Allowed(RoleAdmin, ns) {
		return nil
	}
	return apierrors.Forbidden("%s has no admin grant on namespace %s", caller.Name, ns)
}

type catalogInfo struct {
	Name      string   `json:"name"`
	Templates []string `json:"templates"`
}

func (d *Deps) catalogs(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	result := make([]catalogInfo, 0, len(d.Catalogs))
	for _, name := range d.Catalogs.Names() {
		templates, err := d.Catalogs[name].List()
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", name, err)
		}
		info := catalogInfo{Name: name, Templates: make([]string, 0, len(templates))}
		for _, t := range templates {
			info.Templates = append(info.Templates, t.Name)
		}
		result = append(result, info)
	}
	return result, nil
}

func (d *Deps) keywords(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	return object.Keywords(object.Kind(params.String("kind"))), nil
}

func (d *Deps) template(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	return d.Catalogs.Template(params.String("catalog"), params.String("template"))
}

func (d *Deps) nodeLogs(ctx context.Context, caller *Caller, params Params, stream Stream) error {
	// subscribe first so no line falls between the backlog and the live tail
	lines, cancel := d.Hub.Subscribe()
	defer cancel()

	for _, line := range d.Hub.Backlog(params.Int("backlog")) {
		if err := sendLine(stream, line); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(stream, line); err != nil {
				return err
			}
		}
	}
}

func sendLine(stream Stream, line []byte) error {
	var entry map[string]interface{}
	if err := json.Unmarshal(line, &entry); err != nil {
		entry = map[string]interface{}{"message": string(line)}
	}
	return stream.Send(entry)
}

// NodeInfo is one entry of nodes_info
type NodeInfo struct {
	Node  string          `json:"node"`
	State types.PeerState `json:"state"`
	Data  *types.NodeData `json:"data,omitempty"`
}

func (d *Deps) nodesInfo(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	nodes := d.Dataset.Nodes()
	result := make([]NodeInfo, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, NodeInfo{
			Node:  node,
			State: d.Engine.PeerState(node),
			Data:  d.Dataset.NodeData(node),
		})
	}
	return result, nil
}

// DaemonStatus is the answer of daemon_status
type DaemonStatus struct {
	Node     string                      `json:"node"`
	Session  string                      `json:"session"`
	Gen      dataset.GenTable            `json:"gen"`
	Peers    map[string]types.PeerStatus `json:"peers"`
	Nodes    map[string]dataset.Snapshot `json:"nodes"`
}

func (d *Deps) daemonStatus(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	status := &DaemonStatus{
		Node:     d.Local,
		Session:  d.Engine.Session(),
		Gen:      d.Engine.Generations(),
		Peers:    d.Engine.PeerStatuses(),
		Nodes:    make(map[string]dataset.Snapshot),
	}
	for _, node := range d.Dataset.Nodes() {
		snap := d.Dataset.Snapshot(node)
		// hide the instances the caller has no grant on
		for path := range snap.Instances {
			if !caller.Allowed(RoleGuest, object.NamespaceOf(path)) {
				delete(snap.Instances, path)
			}
		}
		status.Nodes[node] = snap
	}
	return status, nil
}

func (d *Deps) objectStatus(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	path := params.String("path")
	instances := d.Dataset.Instances(path)
	if len(instances) == 0 {
		return nil, apierrors.NotFound("object %s not found", path)
	}
	return instances, nil
}

func (d *Deps) objectKeys(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	path := params.String("path")
	p, _ := object.ParsePath(path)
	if !p.Kind.IsDataKind() {
		return nil, apierrors.BadRequest("path", "%s objects have no keys", p.Kind)
	}
	obj, err := d.Store.GetObject(path)
	if err != nil {
		return nil, err
	}
	return obj.Config.Keys(), nil
}

func (d *Deps) objectConfig(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	return d.Store.GetObject(params.String("path"))
}

func (d *Deps) askFull(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	peer := params.String("peer")
	if err := d.Engine.RequestFull(peer); err != nil {
		return nil, err
	}
	return Info{Info: fmt.Sprintf("remote generation of %s reset", peer)}, nil
}

func (d *Deps) hbRx(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	data, err := json.Marshal(params.Dict("msg"))
	if err != nil {
		return nil, apierrors.BadRequest("msg", "%v", err)
	}
	var msg replication.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apierrors.BadRequest("msg", "%v", err)
	}
	if msg.Node == "" {
		return nil, apierrors.BadRequest("msg", "missing sender node")
	}
	return d.Engine.Receive(&msg)
}

func (d *Deps) objectCreate(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	req := &CreateRequest{
		Path:      params.String("path"),
		Namespace: params.String("namespace"),
		Catalog:   params.String("catalog"),
		Template:  params.String("template"),
		Data:      params.Dict("data"),
		Provision: params.Bool("provision"),
		Restore:   params.Bool("restore"),
	}
	if req.Template == "" && req.Data == nil {
		return nil, apierrors.BadRequest("data", "either template or data is required")
	}
	if req.Template == "" && req.Path == "" {
		return nil, apierrors.BadRequest("path", "required without template")
	}

	if !params.Bool("sync") {
		logger := log.WithComponent("api")
		// the request context ends with the response
		d.background(func(ctx context.Context) {
			if _, err := d.Objects.CreateObject(ctx, req); err != nil {
				logger.Error().Err(err).Str("path", req.Path).Str("template", req.Template).Msg("Create failed")
			}
		})
		return Info{Info: fmt.Sprintf("started %s creation", createTarget(req))}, nil
	}
	return d.Objects.CreateObject(ctx, req)
}

func createTarget(req *CreateRequest) string {
	if req.Path != "" {
		return req.Path
	}
	return "template " + req.Template
}

func (d *Deps) objectMonitor(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	in := monitor.Intent{
		Kind:         monitor.IntentSetMonitor,
		Path:         params.String("path"),
		GlobalExpect: params.String("global_expect"),
		LocalExpect:  params.String("local_expect"),
	}
	if in.GlobalExpect == "" && in.LocalExpect == "" {
		return nil, apierrors.BadRequest("global_expect", "global_expect or local_expect is required")
	}
	if err := d.Monitor.Submit(ctx, in); err != nil {
		return nil, err
	}
	return Info{Info: fmt.Sprintf("%s monitor updated", in.Path)}, nil
}

func (d *Deps) objectClear(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	path := params.String("path")
	if err := d.Monitor.Submit(ctx, monitor.Intent{Kind: monitor.IntentClear, Path: path}); err != nil {
		return nil, err
	}
	return Info{Info: fmt.Sprintf("%s cleared on %s", path, d.Local)}, nil
}

func (d *Deps) objectDelete(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
	path := params.String("path")
	if err := d.Monitor.Submit(ctx, monitor.Intent{Kind: monitor.IntentDelete, Path: path}); err != nil {
		return nil, err
	}
	return Info{Info: fmt.Sprintf("%s deleted on %s", path, d.Local)}, nil
}

func (d *Deps) nodeFrozen(frozen bool) Handler {
	return func(ctx context.Context, caller *Caller, params Params) (interface{}, error) {
		if err := d.Objects.SetNodeFrozen(frozen); err != nil {
			return nil, err
		}
		state := "thawed"
		if frozen {
			state = "frozen"
		}
		return Info{Info: fmt.Sprintf("%s %s", d.Local, state)}, nil
	}
}
