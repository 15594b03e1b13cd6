// Package dispatch builds the routing table between logical channels and
// the Postgres listener sessions backing them, and runs the dispatch
// loop that turns tagged notifications into Events for the fan-out bus.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pgnotifyhub/hub/logging"
	"github.com/pgnotifyhub/hub/pgpool"
	"github.com/pgnotifyhub/hub/settings"
	"github.com/pgnotifyhub/hub/values"
)

// Dispatcher owns the pool's shared outbound channel and the parallel
// array of channel bindings indexed by ChanID.
type Dispatcher struct {
	pool     *pgpool.Pool
	bindings []ChannelBinding
	in       <-chan pgpool.TaggedNotification
}

// BuildBindings walks the configured logical channels in order, calling
// pool.AddConnection for each. The returned session dispatch id becomes
// that channel's ChannelBinding.DispatchID; the binding's position in
// the returned slice is its ChanID.
func BuildBindings(ctx context.Context, pool *pgpool.Pool, channels []settings.LogicalChannel) ([]ChannelBinding, error) {
	bindings := make([]ChannelBinding, 0, len(channels))
	for _, ch := range channels {
		dispatchID, err := pool.AddConnection(ctx, ch.ConnectionString, ch.AllowedEvents)
		if err != nil {
			return nil, fmt.Errorf("dispatch: add connection for channel %q: %w", ch.ID, err)
		}
		bindings = append(bindings, ChannelBinding{
			ID:            ChanID(len(bindings)),
			LogicalID:     ch.ID,
			DispatchID:    dispatchID,
			AllowedEvents: ch.AllowedEvents,
		})
	}
	return bindings, nil
}

// New creates a Dispatcher over an already-built binding table, reading
// tagged notifications from in (the pool's shared outbound channel).
func New(pool *pgpool.Pool, bindings []ChannelBinding, in <-chan pgpool.TaggedNotification) *Dispatcher {
	return &Dispatcher{pool: pool, bindings: bindings, in: in}
}

// Bindings returns the channel binding table, in ChanID order.
func (d *Dispatcher) Bindings() []ChannelBinding {
	return d.bindings
}

// Match computes the set of ChanIds interested in an event_name
// originating from dispatchID, per spec:
//
//	matches = { i | channels[i].dispatch_id == dispatch_id
//	             AND (channels[i].allowed_events is empty
//	                  OR channel_name in channels[i].allowed_events) }
func Match(bindings []ChannelBinding, dispatchID int32, channelName string) values.Values[ChanID] {
	var matched values.Values[ChanID]
	for _, b := range bindings {
		if b.DispatchID == dispatchID && b.allows(channelName) {
			matched.Append(b.ID)
		}
	}
	return matched
}

// Run starts the periodic pool-reconnect task and then blocks, turning
// tagged notifications into Events delivered to publish, until ctx is
// done or the inbound channel closes (process shutdown).
func (d *Dispatcher) Run(ctx context.Context, reconnectDelay time.Duration, publish func(Event)) {
	go d.reconnectLoop(ctx, reconnectDelay)

	for {
		select {
		case <-ctx.Done():
			return
		case tn, ok := <-d.in:
			if !ok {
				return
			}
			d.handle(tn, publish)
		}
	}
}

func (d *Dispatcher) handle(tn pgpool.TaggedNotification, publish func(Event)) {
	matched := Match(d.bindings, tn.DispatchID, tn.ChannelName)
	if matched.Len() == 0 {
		logging.L().Errorw("unprocessed event",
			"event", tn.ChannelName, "dispatch_id", tn.DispatchID)
		return
	}

	event := Event{
		ID:         uuid.NewString(),
		EventName:  tn.ChannelName,
		BackendPID: tn.BackendPID,
		Payload:    tn.Payload,
		Channels:   matched,
	}
	logging.L().Infow("event dispatched",
		"id", event.ID, "event", event.EventName, "dispatch_id", tn.DispatchID, "channels", matched.Len())
	publish(event)
}

func (d *Dispatcher) reconnectLoop(ctx context.Context, delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pool.Reconnect(ctx)
		}
	}
}
