// Package admission decides whether an inbound or outbound peer connection
// may proceed and under which bandwidth regime.
//
// Roles are data: each role carries a capability set, and authorization is a
// table keyed by (local role, remote role). There is no per-role type.
package admission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

var ErrUnknownRole = errors.New("admission: unknown role")

// Role is what a node is in the network.
type Role int

const (
	RoleClient Role = iota + 1
	RoleReplicator
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleReplicator:
		return "replicator"
	default:
		return "unknown"
	}
}

// ParseRole parses "client" or "replicator".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return RoleClient, nil
	case "replicator":
		return RoleReplicator, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Capabilities describe what a role may do on an admitted connection.
type Capabilities struct {
	CanServe         bool `json:"canServe"`
	CanConsume       bool `json:"canConsume"`
	CanRelayReceipts bool `json:"canRelayReceipts"`
}

var roleCapabilities = map[Role]Capabilities{
	RoleClient:     {CanConsume: true},
	RoleReplicator: {CanServe: true, CanConsume: true, CanRelayReceipts: true},
}

// CapabilitiesOf returns the capability set of a role.
func CapabilitiesOf(r Role) Capabilities {
	return roleCapabilities[r]
}

// Outcome is the admission verdict.
type Outcome int

const (
	Rejected Outcome = iota
	Limited
	Unlimited
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case Limited:
		return "limited"
	case Unlimited:
		return "unlimited"
	default:
		return "unknown"
	}
}

// Code explains a rejection. It is returned to the connecting peer.
type Code string

const (
	CodeNone           Code = ""
	CodeBadHandshake   Code = "bad_handshake"
	CodeUnknownChannel Code = "unknown_channel"
	CodeNotAuthorized  Code = "not_authorized"
	CodeShuttingDown   Code = "shutting_down"
)

// Decision is computed fresh per attempt and never persisted.
type Decision struct {
	Outcome Outcome
	Code    Code
	// Remote is what the admitted peer may do. Zero when rejected.
	Remote Capabilities
}

// Admitted reports whether the connection may proceed.
func (d Decision) Admitted() bool { return d.Outcome != Rejected }

func (d Decision) String() string {
	if d.Code != CodeNone {
		return d.Outcome.String() + "(" + string(d.Code) + ")"
	}
	return d.Outcome.String()
}

// Reject builds a rejected decision.
func Reject(code Code) Decision {
	return Decision{Outcome: Rejected, Code: code}
}

// Attempt is one connection attempt as seen by the local node.
type Attempt struct {
	Local   Role
	Remote  Role
	Peer    identity.PeerKey
	Channel channels.ChannelID
	// ClaimedDrive is the drive a connecting replicator says it serves.
	ClaimedDrive   identity.PeerKey
	HandshakeValid bool
}
