package api

import (
	"fmt"
	"strings"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/object"
)

// Role is an access role
type Role string

const (
	// RoleRoot grants everything on every namespace
	RoleRoot Role = "root"
	// RoleHeartbeat is held by peers sending gossip messages
	RoleHeartbeat Role = "heartbeat"

	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleGuest    Role = "guest"
)

// namespaced roles, each implying the next ones
var roleRank = map[Role]int{
	RoleAdmin:    3,
	RoleOperator: 2,
	RoleGuest:    1,
}

// AnyNamespace in a grant matches every namespace
const AnyNamespace = "*"

// Grant is one role held by a caller, on a namespace for namespaced roles
type Grant struct {
	Role      Role   `json:"role"`
	Namespace string `json:"namespace,omitempty"`
}

func (g Grant) String() string {
	if g.Namespace == "" {
		return string(g.Role)
	}
	return string(g.Role) + ":" + g.Namespace
}

// ParseGrant parses "root", "heartbeat" or "<role>:<namespace>"
func ParseGrant(s string) (Grant, error) {
	role, ns, namespaced := strings.Cut(strings.TrimSpace(s), ":")
	switch Role(role) {
	case RoleRoot, RoleHeartbeat:
		if namespaced {
			return Grant{}, fmt.Errorf("invalid grant %q: %s is not namespaced", s, role)
		}
		return Grant{Role: Role(role)}, nil
	case RoleAdmin, RoleOperator, RoleGuest:
		if ns == "" {
			return Grant{}, fmt.Errorf("invalid grant %q: namespace required", s)
		}
		return Grant{Role: Role(role), Namespace: ns}, nil
	}
	return Grant{}, fmt.Errorf("invalid grant %q: unknown role %q", s, role)
}

// ParseGrants parses a list of grants
func ParseGrants(list []string) ([]Grant, error) {
	grants := make([]Grant, 0, len(list))
	for _, s := range list {
		g, err := ParseGrant(s)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// Caller is an authenticated API client
type Caller struct {
	Name   string  `json:"name"`
	Grants []Grant `json:"grants"`
}

// Has reports if the caller holds a non-namespaced role
func (c *Caller) Has(role Role) bool {
	for _, g := range c.Grants {
		if g.Role == role && g.Namespace == "" {
			return true
		}
	}
	return false
}

// IsRoot reports if the caller holds the root role
func (c *Caller) IsRoot() bool {
	return c.Has(RoleRoot)
}

// Allowed reports if the caller holds role, or a higher one, on namespace.
// An empty namespace matches a grant on any namespace.
func (c *Caller) Allowed(role Role, namespace string) bool {
	if c.IsRoot() {
		return true
	}
	want, namespaced := roleRank[role]
	if !namespaced {
		return c.Has(role)
	}
	for _, g := range c.Grants {
		if roleRank[g.Role] < want {
			continue
		}
		if namespace == "" || g.Namespace == AnyNamespace || g.Namespace == namespace {
			return true
		}
	}
	return false
}

// Scope tells which namespace an access check applies to
type Scope string

const (
	// ScopeAny accepts the role on any namespace
	ScopeAny Scope = "ANY"
	// ScopeFrom takes the namespace from the object path parameter Param
	ScopeFrom Scope = "FROM"
	// ScopeList requires the role on one of Namespaces
	ScopeList Scope = "LIST"
	// ScopeCustom delegates the decision to Check
	ScopeCustom Scope = "custom"
)

// Access is the access policy of a route
type Access struct {
	Roles      []Role   `json:"roles"`
	Scope      Scope    `json:"scope"`
	Param      string   `json:"param,omitempty"`
	Namespaces []string `json:"namespaces,omitempty"`

	Check func(caller *Caller, params Params) error `json:"-"`
}

// String renders the policy the way route listings show it, for example
// "operator FROM:path"
func (a Access) String() string {
	roles := make([]string, len(a.Roles))
	for i, r := range a.Roles {
		roles[i] = string(r)
	}
	scope := string(a.Scope)
	switch a.Scope {
	case ScopeFrom:
		scope += ":" + a.Param
	case ScopeList:
		scope = strings.Join(a.Namespaces, ",")
	}
	return strings.Join(roles, ",") + " " + scope
}

// Authorize evaluates the policy for caller and the coerced params
func (a Access) Authorize(caller *Caller, params Params) error {
	if caller == nil {
		return apierrors.Forbidden("not authenticated")
	}

	switch a.Scope {
	case ScopeCustom:
		if a.Check == nil {
			return apierrors.Forbidden("no access policy")
		}
		return a.Check(caller, params)

	case ScopeFrom:
		p, err := object.ParsePath(params.String(a.Param))
		if err != nil {
			return apierrors.BadRequest(a.Param, "%v", err)
		}
		if a.allowedOn(caller, p.Namespace) {
			return nil
		}
		return apierrors.Forbidden("%s has no %s grant on namespace %s", caller.Name, a.rolesString(), p.Namespace)

	case ScopeList:
		for _, ns := range a.Namespaces {
			if a.allowedOn(caller, ns) {
				return nil
			}
		}
		return apierrors.Forbidden("%s has no %s grant on namespaces %v", caller.Name, a.rolesString(), a.Namespaces)

	default:
		if a.allowedOn(caller, "") {
			return nil
		}
		return apierrors.Forbidden("%s has no %s grant", caller.Name, a.rolesString())
	}
}

func (a Access) allowedOn(caller *Caller, namespace string) bool {
	for _, role := range a.Roles {
		if caller.Allowed(role, namespace) {
			return true
		}
	}
	return false
}

func (a Access) rolesString() string {
	roles := make([]string, len(a.Roles))
	for i, r := range a.Roles {
		roles[i] = string(r)
	}
	return strings.Join(roles, "|")
}
