package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/object"
)

// Parameter formats
const (
	FormatString     = "string"
	FormatBool       = "boolean"
	FormatInt        = "integer"
	FormatDuration   = "duration"
	FormatDict       = "dict"
	FormatList       = "list"
	FormatObjectPath = "object_path"
	FormatNode       = "node"
)

var nodeNameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]*[a-zA-Z0-9])?$`)

// Param is one entry of a route parameter prototype
type Param struct {
	Name       string      `json:"name"`
	Format     string      `json:"format"`
	Required   bool        `json:"required,omitempty"`
	Default    interface{} `json:"default,omitempty"`
	Candidates []string    `json:"candidates,omitempty"`
	Desc       string      `json:"desc,omitempty"`
}

// Params are the coerced parameters of a request. Values have the Go type of
// their format: string, bool, int, time.Duration, map[string]interface{} or
// []string. object_path values are normalized path strings.
type Params map[string]interface{}

// String returns a string parameter, "" when unset
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Bool returns a boolean parameter, false when unset
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Int returns an integer parameter, 0 when unset
func (p Params) Int(name string) int {
	i, _ := p[name].(int)
	return i
}

// Duration returns a duration parameter, 0 when unset
func (p Params) Duration(name string) time.Duration {
	d, _ := p[name].(time.Duration)
	return d
}

// Dict returns a dict parameter, nil when unset
func (p Params) Dict(name string) map[string]interface{} {
	m, _ := p[name].(map[string]interface{})
	return m
}

// List returns a list parameter, nil when unset
func (p Params) List(name string) []string {
	l, _ := p[name].([]string)
	return l
}

// Has reports if a parameter is set
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Stream is the sink of a streaming handler
type Stream interface {
	Send(v interface{}) error
}

// Handler serves a unary route
type Handler func(ctx context.Context, caller *Caller, params Params) (interface{}, error)

// StreamHandler serves a streaming route until the context is done or the
// stream fails
type StreamHandler func(ctx context.Context, caller *Caller, params Params, stream Stream) error

// Route describes one gateway action
type Route struct {
	Method  string   `json:"method"`
	Action  string   `json:"action"`
	Params  []Param  `json:"params"`
	Access  Access   `json:"access"`
	Stream  bool     `json:"stream,omitempty"`
	Desc    string   `json:"desc,omitempty"`
	Aliases []string `json:"aliases,omitempty"`

	Handler       Handler       `json:"-"`
	StreamHandler StreamHandler `json:"-"`
}

type routeKey struct {
	method string
	action string
}

// Registry maps (method, action) to routes
type Registry struct {
	mu     sync.RWMutex
	routes map[routeKey]*Route
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{routes: make(map[routeKey]*Route)}
}

// Register adds a route under its action and its aliases. It panics on a
// malformed route since routes are registered at startup.
func (r *Registry) Register(route *Route) {
	if route.Stream != (route.StreamHandler != nil) || (!route.Stream && route.Handler == nil) {
		panic(fmt.Sprintf("route %s %s: handler does not match the stream flag", route.Method, route.Action))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, action := range append([]string{route.Action}, route.Aliases...) {
		r.routes[routeKey{method: route.Method, action: action}] = route
	}
}

// Lookup returns the route serving (method, action)
func (r *Registry) Lookup(method, action string) (*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[routeKey{method: strings.ToUpper(method), action: action}]
	if !ok {
		return nil, apierrors.NotFound("no route %s %s", method, action)
	}
	return route, nil
}

// Routes returns the registered routes, without alias duplicates, sorted by
// action then method
func (r *Registry) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Route]bool)
	var routes []*Route
	for _, route := range r.routes {
		if !seen[route] {
			seen[route] = true
			routes = append(routes, route)
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Action != routes[j].Action {
			return routes[i].Action < routes[j].Action
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// Coerce validates raw against the route prototype and converts every value
// to the Go type of its format. Unknown parameters are rejected.
func (route *Route) Coerce(raw map[string]interface{}) (Params, error) {
	params := make(Params, len(route.Params))
	known := make(map[string]bool, len(route.Params))

	for _, p := range route.Params {
		known[p.Name] = true
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, apierrors.BadRequest(p.Name, "required parameter")
			}
			if p.Default == nil {
				continue
			}
			v = p.Default
		}
		cv, err := p.Coerce(v)
		if err != nil {
			return nil, apierrors.BadRequest(p.Name, "%v", err)
		}
		params[p.Name] = cv
	}

	for name := range raw {
		if !known[name] {
			return nil, apierrors.BadRequest(name, "unknown parameter for %s", route.Action)
		}
	}
	return params, nil
}

// Coerce converts one value to the Go type of the parameter format
func (p Param) Coerce(v interface{}) (interface{}, error) {
	var (
		result interface{}
		err    error
	)
	switch p.Format {
	case FormatString, "":
		result, err = toString(v)
	case FormatBool:
		result, err = toBool(v)
	case FormatInt:
		result, err = toInt(v)
	case FormatDuration:
		result, err = toDuration(v)
	case FormatDict:
		result, err = toDict(v)
	case FormatList:
		result, err = toList(v)
	case FormatObjectPath:
		var s string
		if s, err = toString(v); err == nil {
			var path object.Path
			if path, err = object.ParsePath(s); err == nil {
				result = path.String()
			}
		}
	case FormatNode:
		var s string
		if s, err = toString(v); err == nil {
			if !nodeNameRe.MatchString(s) {
				err = fmt.Errorf("invalid node name %q", s)
			}
			result = s
		}
	default:
		err = fmt.Errorf("unknown format %q", p.Format)
	}
	if err != nil {
		return nil, err
	}

	if len(p.Candidates) > 0 {
		s := fmt.Sprint(result)
		for _, c := range p.Candidates {
			if c == s {
				return result, nil
			}
		}
		return nil, fmt.Errorf("invalid value %q, expected one of %v", s, p.Candidates)
	}
	return result, nil
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []string:
		if len(t) == 1 {
			return t[0], nil
		}
	case bool, float64, int:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string, []string:
		s, _ := toString(t)
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", s)
		}
		return b, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("invalid integer %v", t)
		}
		return int(t), nil
	case string, []string:
		s, _ := toString(t)
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", s)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func toDuration(v interface{}) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case float64:
		// bare numbers are seconds
		return time.Duration(t * float64(time.Second)), nil
	case string, []string:
		s, _ := toString(t)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return d, nil
	}
	return 0, fmt.Errorf("expected a duration, got %T", v)
}

func toDict(v interface{}) (map[string]interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	case string, []string:
		// query strings carry dicts as JSON documents
		s, _ := toString(t)
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("invalid dict: %v", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("expected a dict, got %T", v)
}

func toList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 1 {
			return splitList(t[0]), nil
		}
		return t, nil
	case string:
		return splitList(t), nil
	case []interface{}:
		result := make([]string, 0, len(t))
		for _, e := range t {
			s, err := toString(e)
			if err != nil {
				return nil, err
			}
			result = append(result, s)
		}
		return result, nil
	}
	return nil, fmt.Errorf("expected a list, got %T", v)
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
