package realtime

import (
	"github.com/mbd888/driveledger/internal/channels"
)

// ChannelEvents publishes channel lifecycle changes to the hub.
type ChannelEvents struct {
	Hub *Hub
}

func (e ChannelEvents) ChannelCreated(ch channels.Channel) {
	e.Hub.Publish(EventChannelCreated, map[string]interface{}{
		"channel": ch.ID.String(),
		"owner":   ch.Owner.String(),
		"drive":   ch.Drive.String(),
	})
}

func (e ChannelEvents) ChannelClosed(id channels.ChannelID) {
	e.Hub.Publish(EventChannelClosed, map[string]interface{}{"channel": id.String()})
}

var _ channels.Listener = ChannelEvents{}
