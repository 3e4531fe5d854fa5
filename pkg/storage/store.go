package storage

import (
	"time"

	"github.com/cuemby/hive/pkg/object"
)

// InstanceFlags are the node-local instance flags surviving daemon restarts
type InstanceFlags struct {
	Path   string    `json:"path"`
	Frozen time.Time `json:"frozen,omitempty"`

	// Provisioned maps a resource id to its provisioned state
	Provisioned map[string]bool `json:"provisioned,omitempty"`
}

// NodeState is the node-level state surviving daemon restarts
type NodeState struct {
	Frozen time.Time `json:"frozen,omitempty"`
}

// Store defines the interface for the node store
type Store interface {
	// Objects
	PutObject(obj *object.Object) error
	GetObject(path string) (*object.Object, error)
	ListObjects() ([]*object.Object, error)
	DeleteObject(path string) error

	// Instance flags
	PutInstanceFlags(flags *InstanceFlags) error
	GetInstanceFlags(path string) (*InstanceFlags, error)
	DeleteInstanceFlags(path string) error

	// Node
	GetNodeState() (*NodeState, error)
	PutNodeState(state *NodeState) error

	// Templates
	PutTemplate(t *object.Template) error
	GetTemplate(name string) (*object.Template, error)
	ListTemplates() ([]*object.Template, error)
	DeleteTemplate(name string) error

	// Utility
	Close() error
}
