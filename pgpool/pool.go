// Package pgpool deduplicates listener sessions by (hosts, dbname,
// user), runs a periodic reconnect sweep over closed sessions, and owns
// the forwarding goroutines that tag each notification with the
// originating session's dispatch id before handing it to the
// dispatcher.
package pgpool

import (
	"context"
	"sync"

	"github.com/pgnotifyhub/hub/connresolve"
	"github.com/pgnotifyhub/hub/logging"
	"github.com/pgnotifyhub/hub/pglisten"
	"github.com/pgnotifyhub/hub/pgtls"
)

// TaggedNotification is a raw Postgres notification tagged with the id
// of the pool entry (and therefore listener session) that produced it.
type TaggedNotification struct {
	ChannelName string
	Payload     string
	BackendPID  int32
	DispatchID  int32
}

// entry is one pool slot: a live (or currently-closed) listener session
// plus the dispatch id assigned to it when it was first created. The
// dispatch id is deliberately never updated on Respawn: it is the
// logical identity of the pool slot used for routing, independent of
// whatever backend pid Postgres happens to assign on reconnect.
type entry struct {
	session    *pglisten.Session
	dispatchID int32
	inbound    chan pglisten.Notification
}

// Pool holds every listener session in use by the hub.
type Pool struct {
	mu        sync.Mutex
	entries   []*entry
	out       chan<- TaggedNotification
	connector *pgtls.Connector
}

// New creates a Pool that forwards tagged notifications onto out. The
// connector, if non-nil, overrides the TLS configuration resolved from
// each channel's connection string.
func New(out chan<- TaggedNotification, connector *pgtls.Connector) *Pool {
	return &Pool{out: out, connector: connector}
}

// AddConnection resolves connString, reuses a matching
// session if one already exists in the pool, or creates a new one. It
// returns the session's dispatch id, becoming the channel's DispatchID.
func (p *Pool) AddConnection(ctx context.Context, connString string, allowedEvents []string) (int32, error) {
	cfg, err := connresolve.Resolve(connString)
	if err != nil {
		return 0, err
	}
	if tlsCfg := p.connector.TLSConfig(); tlsCfg != nil {
		cfg.TLSConfig = tlsCfg
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if connresolve.SameConnection(e.session.Config(), cfg) {
			if err := e.session.BatchListen(ctx, allowedEvents); err != nil {
				return 0, err
			}
			return e.dispatchID, nil
		}
	}

	inbound := make(chan pglisten.Notification, 64)
	session, err := pglisten.Connect(ctx, cfg, inbound)
	if err != nil {
		return 0, err
	}
	if err := session.BatchListen(ctx, allowedEvents); err != nil {
		return 0, err
	}

	e := &entry{session: session, dispatchID: session.SessionPID, inbound: inbound}
	p.entries = append(p.entries, e)

	logging.L().Infow("pool: added listener session",
		"dispatch_id", e.dispatchID, "connection", connresolve.Describe(cfg))

	go p.forward(e)

	return e.dispatchID, nil
}

// forward tags every notification read from e's inbound channel with
// e's fixed dispatch id and relays it to the pool's shared outbound
// channel. It exits when the inbound channel closes (the session was
// dropped for good), which is not expected during normal operation
// since sessions are reconnected in place by Reconnect.
func (p *Pool) forward(e *entry) {
	for n := range e.inbound {
		p.out <- TaggedNotification{
			ChannelName: n.Channel,
			Payload:     n.Payload,
			BackendPID:  n.BackendPID,
			DispatchID:  e.dispatchID,
		}
	}
	logging.L().Debugw("pool: forwarder terminated", "dispatch_id", e.dispatchID)
}

// Reconnect sweeps the pool for closed sessions and attempts to respawn
// each one in parallel. It returns immediately if no session is closed.
// Pool ordering (and therefore every ChanId assigned by the dispatcher)
// is never altered.
func (p *Pool) Reconnect(ctx context.Context) {
	p.mu.Lock()
	entries := append([]*entry(nil), p.entries...)
	p.mu.Unlock()

	var anyClosed bool
	for _, e := range entries {
		if e.session.IsClosed() {
			anyClosed = true
			break
		}
	}
	if !anyClosed {
		return
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		if !e.session.IsClosed() {
			continue
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := e.session.Respawn(ctx); err != nil {
				logging.L().Errorw("pool: reconnect failed",
					"dispatch_id", e.dispatchID, "error", err)
				return
			}
			logging.L().Infow("pool: reconnect succeeded",
				"dispatch_id", e.dispatchID, "session_pid", e.session.SessionPID)
		}(e)
	}
	wg.Wait()
}

// Len reports the number of distinct listener sessions in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
