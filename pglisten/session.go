// Package pglisten owns a single long-lived Postgres connection running
// in LISTEN mode. A Session is created by the pool, forwards
// notifications onto an outbound channel until the connection drops, and
// is then eligible for Respawn on the next reconnect sweep.
package pglisten

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgnotifyhub/hub/logging"
)

// Notification is one asynchronous message forwarded from a session's
// background polling goroutine.
type Notification struct {
	Channel   string
	Payload   string
	BackendPID int32
}

// Session is one live LISTEN connection. Its SessionPID is the backend
// process id assigned by Postgres to the current connection; Respawn
// replaces it with the new connection's pid. The pool keeps the pid
// from the first Connect as the session's dispatch id.
type Session struct {
	cfg        *pgconn.Config
	SessionPID int32

	mu       sync.Mutex
	conn     *pgx.Conn
	listened map[string]struct{}

	// generation is bumped on every Respawn. A poll goroutine only gets
	// to mark the session closed if it is still the current generation
	// when it returns, so a slow-to-unblock goroutine from a connection
	// Respawn already replaced can't stomp on the new one's closed state.
	generation atomic.Uint64
	closed     atomic.Bool
	out        chan<- Notification
}

// Connect establishes a connection, resolves the session's backend pid,
// and spawns the background polling goroutine that forwards
// notifications onto out until the connection fails or is closed. ctx
// bounds only the connect and pid query; the polling goroutine does not
// observe it.
func Connect(ctx context.Context, cfg *pgconn.Config, out chan<- Notification) (*Session, error) {
	connCfg := &pgx.ConnConfig{Config: *cfg}
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("pglisten: connect: %w", err)
	}

	var pid int32
	if err := conn.QueryRow(ctx, "select pg_backend_pid()").Scan(&pid); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("pglisten: query pg_backend_pid: %w", err)
	}

	s := &Session{
		cfg:        cfg,
		SessionPID: pid,
		conn:       conn,
		listened:   make(map[string]struct{}),
		out:        out,
	}

	go s.poll(context.Background(), s.generation.Load())

	return s, nil
}

// Config returns the descriptor this session was connected with.
func (s *Session) Config() *pgconn.Config { return s.cfg }

// poll waits for asynchronous messages and forwards notifications. It
// runs until the connection is closed or a protocol error occurs, at
// which point the session is marked closed — but only if gen is still
// the session's current generation, so a goroutine left over from a
// connection Respawn already replaced can't mark the new one closed.
func (s *Session) poll(ctx context.Context, gen uint64) {
	defer func() {
		if s.generation.Load() == gen {
			s.closed.Store(true)
		}
	}()

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			logging.L().Debugw("listener session closed", "session_pid", s.SessionPID, "error", err)
			return
		}

		// Backpressure is intentional: a full outbound channel blocks the
		// next WaitForNotification read rather than dropping events.
		s.out <- Notification{Channel: n.Channel, Payload: n.Payload, BackendPID: s.SessionPID}
	}
}

// Listen issues LISTEN <event> and records it in the listened set.
// Returns true iff the set changed.
func (s *Session) Listen(ctx context.Context, event string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listened[event]; ok {
		return false, nil
	}

	if _, err := s.conn.Exec(ctx, "LISTEN "+pgx.Identifier{event}.Sanitize()); err != nil {
		return false, fmt.Errorf("pglisten: listen %q: %w", event, err)
	}
	s.listened[event] = struct{}{}
	return true, nil
}

// Unlisten issues UNLISTEN <event> and removes it from the listened set.
// Returns true iff the set changed.
func (s *Session) Unlisten(ctx context.Context, event string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listened[event]; !ok {
		return false, nil
	}

	if _, err := s.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{event}.Sanitize()); err != nil {
		return false, fmt.Errorf("pglisten: unlisten %q: %w", event, err)
	}
	delete(s.listened, event)
	return true, nil
}

// BatchListen issues one concatenated LISTEN per event not already
// listened, in a single round-trip batch.
func (s *Session) BatchListen(ctx context.Context, events []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := &pgx.Batch{}
	pending := make([]string, 0, len(events))
	for _, event := range events {
		if _, ok := s.listened[event]; ok {
			continue
		}
		batch.Queue("LISTEN " + pgx.Identifier{event}.Sanitize())
		pending = append(pending, event)
	}
	if len(pending) == 0 {
		return nil
	}

	br := s.conn.SendBatch(ctx, batch)
	defer br.Close()
	for range pending {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pglisten: batch listen: %w", err)
		}
	}
	for _, event := range pending {
		s.listened[event] = struct{}{}
	}
	return nil
}

// ListenedEvents returns a snapshot of the currently listened event set.
func (s *Session) ListenedEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.listened))
	for e := range s.listened {
		out = append(out, e)
	}
	return out
}

// IsClosed reports whether the background polling goroutine has exited.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Respawn discards the current connection and reconnects with the same
// descriptor (including any TLS override applied when the session was
// first created), re-subscribing to every previously listened event.
func (s *Session) Respawn(ctx context.Context) error {
	s.mu.Lock()
	events := make([]string, 0, len(s.listened))
	for e := range s.listened {
		events = append(events, e)
	}
	oldConn := s.conn
	s.mu.Unlock()

	_ = oldConn.Close(ctx)

	connCfg := &pgx.ConnConfig{Config: *s.cfg}
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("pglisten: respawn connect: %w", err)
	}

	var pid int32
	if err := conn.QueryRow(ctx, "select pg_backend_pid()").Scan(&pid); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("pglisten: respawn query pg_backend_pid: %w", err)
	}

	gen := s.generation.Add(1)

	s.mu.Lock()
	s.conn = conn
	s.SessionPID = pid
	s.listened = make(map[string]struct{})
	s.mu.Unlock()
	s.closed.Store(false)

	if err := s.BatchListen(ctx, events); err != nil {
		return fmt.Errorf("pglisten: respawn re-listen: %w", err)
	}

	go s.poll(context.Background(), gen)

	return nil
}

// Close releases the underlying connection without respawning.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.closed.Store(true)
	return conn.Close(ctx)
}
