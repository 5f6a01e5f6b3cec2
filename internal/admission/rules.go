package admission

import (
	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

type link struct {
	local, remote Role
}

// rule returns CodeNone when the attempt is authorized for ch.
type rule func(reg Registry, ch channels.Channel, a Attempt) Code

// rules is the whole authorization policy. Links missing from the table
// are never authorized.
var rules = map[link]rule{
	// A client pulling from us must own the channel or be one of its
	// accepted receivers.
	{local: RoleReplicator, remote: RoleClient}: func(_ Registry, ch channels.Channel, a Attempt) Code {
		if a.Peer == ch.Owner || containsKey(ch.Receivers, a.Peer) {
			return CodeNone
		}
		return CodeNotAuthorized
	},
	// Another replicator must name this channel's drive and be registered
	// for it.
	{local: RoleReplicator, remote: RoleReplicator}: func(reg Registry, ch channels.Channel, a Attempt) Code {
		if a.ClaimedDrive != ch.Drive || !reg.IsDriveReplicator(ch.Drive, a.Peer) {
			return CodeNotAuthorized
		}
		return CodeNone
	},
	// A client only talks to replicators of the drive behind its channel.
	{local: RoleClient, remote: RoleReplicator}: func(reg Registry, ch channels.Channel, a Attempt) Code {
		if !reg.IsDriveReplicator(ch.Drive, a.Peer) {
			return CodeNotAuthorized
		}
		return CodeNone
	},
}

func containsKey(keys []identity.PeerKey, k identity.PeerKey) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
