// Package broadcast owns one HTTP worker's live SSE client set. Each
// worker runs its own Broadcaster: a new subscriber is added to the
// subscription table, and every Event read from the fan-out bus is
// delivered to the clients in its listed channels, reaping any client
// whose send fails.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pgnotifyhub/hub/dispatch"
	"github.com/pgnotifyhub/hub/logging"
)

// Frame is one SSE payload handed to a client's sender.
type Frame struct {
	ID      string
	Event   string
	Payload string
}

// Client is one subscribed SSE connection.
type Client struct {
	ChanID          dispatch.ChanID
	Ident           string
	Path            string
	ClientID        string
	RealIP          string
	PeerAddr        string
	send            chan Frame
	closeOnce       sync.Once
}

// Send enqueues a frame for this client's stream, non-blocking. It
// reports false if the client's buffer is full, which marks the client
// for reaping on this broadcast cycle. It must not be called once the
// client has been closed: a send on a closed channel panics.
func (c *Client) Send(f Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Frames returns the channel an HTTP handler should range over to
// write SSE frames to the response.
func (c *Client) Frames() <-chan Frame { return c.send }

// close closes the client's send channel, once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Broadcaster is a single worker's subscription table. It is designed
// to be used from one goroutine at a time for its hot path (Broadcast
// runs on the worker's bus-consuming goroutine); Subscribe may be
// called concurrently from HTTP handler goroutines and is separately
// locked.
type Broadcaster struct {
	bufferSize int

	mu      sync.RWMutex
	subs    map[dispatch.ChanID][]*Client
	pending []*Client
}

// New creates a Broadcaster whose per-client SSE channel has capacity
// bufferSize.
func New(bufferSize int) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster{
		bufferSize: bufferSize,
		subs:       make(map[dispatch.ChanID][]*Client),
	}
}

// Subscribe registers a new client under chanID and returns it; the
// caller reads Frames() to stream the SSE response body.
func (b *Broadcaster) Subscribe(chanID dispatch.ChanID, path, clientID, realIP, peerAddr string) *Client {
	c := &Client{
		ChanID:   chanID,
		Ident:    uuid.NewString(),
		Path:     path,
		ClientID: clientID,
		RealIP:   realIP,
		PeerAddr: peerAddr,
		send:     make(chan Frame, b.bufferSize),
	}

	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()

	logging.L().Infow("subscribe",
		"path", path, "ident", c.Ident, "client_id", clientID, "real_ip", realIP, "peer_addr", peerAddr)

	return c
}

// Unsubscribe removes a client immediately, outside of a broadcast
// cycle — used when an HTTP handler detects its own request context
// was cancelled rather than waiting for the next failed send.
func (b *Broadcaster) Unsubscribe(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket := b.subs[c.ChanID]
	for i, existing := range bucket {
		if existing == c {
			b.subs[c.ChanID] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	for i, existing := range b.pending {
		if existing == c {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	c.close()
}

// Broadcast first drains clients accepted since the last cycle into
// the table, delivers event to every client subscribed to one of
// event.Channels, then reaps clients whose send failed, then drains
// any subscriptions that arrived during this cycle into the table.
//
// The read lock is held across the whole send phase, not just the
// snapshot: Unsubscribe takes the write lock to close a client's send
// channel, and a send racing a concurrent close panics regardless of
// the select/default in Client.Send. Holding the RLock here blocks
// Unsubscribe until every send for this cycle has happened, matching
// the grounding example's discipline of not releasing the read side
// until sends are done. Client.Send is itself non-blocking
// (select/default on a buffered channel), so the sends are plain
// sequential calls rather than one goroutine per client — there is no
// blocking work here to parallelize. Reaping and draining pending
// then happen under the write lock afterward.
func (b *Broadcaster) Broadcast(event dispatch.Event) {
	chanIDs := event.Channels.Slice()
	frame := Frame{ID: event.ID, Event: event.EventName, Payload: event.Payload}

	var failed map[string]struct{}
	var targetCount int

	b.drainPending()

	b.mu.RLock()
	for _, id := range chanIDs {
		for _, c := range b.subs[id] {
			targetCount++
			if !c.Send(frame) {
				if failed == nil {
					failed = make(map[string]struct{})
				}
				failed[c.Ident] = struct{}{}
				logging.L().Infow("connection closed", "ident", c.Ident, "client_id", c.ClientID)
			} else {
				logging.L().Debugw("send", "path", c.Path, "event", event.EventName, "id", event.ID)
			}
		}
	}
	b.mu.RUnlock()

	if targetCount == 0 {
		b.drainPending()
		return
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, id := range chanIDs {
			bucket := b.subs[id]
			kept := bucket[:0]
			for _, c := range bucket {
				if _, dead := failed[c.Ident]; dead {
					c.close()
					continue
				}
				kept = append(kept, c)
			}
			b.subs[id] = kept
		}
		b.mu.Unlock()
	}

	b.drainPending()
}

// drainPending moves every client accepted since the last cycle into
// the hot table.
func (b *Broadcaster) drainPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return
	}
	for _, c := range b.pending {
		b.subs[c.ChanID] = append(b.subs[c.ChanID], c)
	}
	b.pending = nil
}

// Count returns the number of live clients subscribed to chanID,
// including any still in the pending list.
func (b *Broadcaster) Count(chanID dispatch.ChanID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.subs[chanID])
	for _, c := range b.pending {
		if c.ChanID == chanID {
			n++
		}
	}
	return n
}
