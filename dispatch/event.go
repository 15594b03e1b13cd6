package dispatch

import "github.com/pgnotifyhub/hub/values"

// ChanID is the integer position of a logical channel binding within the
// dispatcher's array — the routing key shared with the broadcaster.
type ChanID int

// ChannelBinding is the runtime binding between a configured logical
// channel and the listener session (by dispatch id) it was assigned to.
type ChannelBinding struct {
	ID            ChanID
	LogicalID     string
	DispatchID    int32
	AllowedEvents []string
}

// allows reports whether eventName passes this binding's filter. An
// empty AllowedEvents means "accept any event on this session".
func (b ChannelBinding) allows(eventName string) bool {
	if len(b.AllowedEvents) == 0 {
		return true
	}
	for _, e := range b.AllowedEvents {
		if e == eventName {
			return true
		}
	}
	return false
}

// Event is published on the fan-out bus for every notification that
// matched at least one logical channel.
type Event struct {
	ID         string
	EventName  string
	BackendPID int32
	Payload    string
	Channels   values.Values[ChanID]
}
