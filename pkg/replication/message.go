package replication

import (
	"context"

	"github.com/cuemby/hive/pkg/dataset"
	"github.com/cuemby/hive/pkg/types"
)

// Kind is the kind of a heartbeat message
type Kind string

const (
	KindFull  Kind = "full"
	KindPatch Kind = "patch"
	KindPing  Kind = "ping"
)

// Message is one heartbeat sent from a node to a peer. Gen is the sender's
// local generation, Known is the sender's table of the generations it has
// applied for every other node.
type Message struct {
	Node    string            `json:"node"`
	Session string            `json:"session"`
	Gen     types.Generation  `json:"gen"`
	Known   dataset.GenTable  `json:"known"`
	Kind    Kind              `json:"kind"`
	Full    *dataset.Snapshot `json:"full,omitempty"`
	Patches []dataset.Patch   `json:"patches,omitempty"`
}

// Ack is the receiver's answer to a heartbeat: the generation of the sender
// it has applied after processing the message.
type Ack struct {
	Node  string           `json:"node"`
	Known types.Generation `json:"known"`
}

// Transport delivers heartbeat messages to peers
type Transport interface {
	Send(ctx context.Context, peer string, msg *Message) (*Ack, error)
}
