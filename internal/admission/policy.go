package admission

import (
	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

// Policy grades an authorized attempt as Limited or Unlimited. Any other
// return value is treated as Limited.
type Policy interface {
	Grade(a Attempt, ch channels.Channel) Outcome
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(a Attempt, ch channels.Channel) Outcome

func (f PolicyFunc) Grade(a Attempt, ch channels.Channel) Outcome { return f(a, ch) }

// History reports whether a peer has a clean violation record.
type History interface {
	Clean(peer identity.PeerKey) bool
}

// TrustedReplicators grants Unlimited to replicators of the channel's drive
// whose history is clean. Everyone else is Limited.
type TrustedReplicators struct {
	History History
}

func (p TrustedReplicators) Grade(a Attempt, ch channels.Channel) Outcome {
	if a.Remote != RoleReplicator || a.ClaimedDrive != ch.Drive {
		return Limited
	}
	if p.History != nil && !p.History.Clean(a.Peer) {
		return Limited
	}
	return Unlimited
}

// AlwaysLimited grades every attempt Limited.
var AlwaysLimited = PolicyFunc(func(Attempt, channels.Channel) Outcome { return Limited })
