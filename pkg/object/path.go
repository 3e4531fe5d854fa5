package object

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the kind of a managed object
type Kind string

const (
	KindSvc Kind = "svc"
	KindVol Kind = "vol"
	KindCfg Kind = "cfg"
	KindSec Kind = "sec"
	KindUsr Kind = "usr"
)

// DefaultNamespace is the namespace of paths given without one
const DefaultNamespace = "root"

// Kinds lists the object kinds, in display order
var Kinds = []Kind{KindSvc, KindVol, KindCfg, KindSec, KindUsr}

var nameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9_.-]*[a-z0-9])?$`)

// IsValid reports if k is a known object kind
func (k Kind) IsValid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsDataKind reports if objects of kind k carry key/value data instead of
// resources
func (k Kind) IsDataKind() bool {
	return k == KindCfg || k == KindSec || k == KindUsr
}

// Path identifies an object cluster-wide
type Path struct {
	Namespace string
	Kind      Kind
	Name      string
}

// ParsePath parses "name", "kind/name" or "namespace/kind/name". The
// namespace defaults to root and the kind to svc.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "/")

	p := Path{Namespace: DefaultNamespace, Kind: KindSvc}
	switch len(parts) {
	case 1:
		p.Name = parts[0]
	case 2:
		p.Kind, p.Name = Kind(parts[0]), parts[1]
	case 3:
		p.Namespace, p.Kind, p.Name = parts[0], Kind(parts[1]), parts[2]
	default:
		return Path{}, fmt.Errorf("invalid object path %q", s)
	}

	if !p.Kind.IsValid() {
		return Path{}, fmt.Errorf("invalid object path %q: unknown kind %q", s, p.Kind)
	}
	if !nameRe.MatchString(p.Name) {
		return Path{}, fmt.Errorf("invalid object path %q: bad name %q", s, p.Name)
	}
	if !nameRe.MatchString(p.Namespace) {
		return Path{}, fmt.Errorf("invalid object path %q: bad namespace %q", s, p.Namespace)
	}
	return p, nil
}

// MustParsePath is ParsePath panicking on error, for tests and constants
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical "namespace/kind/name" form
func (p Path) String() string {
	return p.Namespace + "/" + string(p.Kind) + "/" + p.Name
}

// IsZero reports if p is the zero path
func (p Path) IsZero() bool {
	return p.Name == ""
}

// NamespaceOf returns the namespace of the path s, or "" when s does not
// parse
func NamespaceOf(s string) string {
	p, err := ParsePath(s)
	if err != nil {
		return ""
	}
	return p.Namespace
}
