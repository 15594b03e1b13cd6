// Package httpapi exposes the hub's two HTTP routes: a landing page
// and the SSE subscribe endpoint, wired onto a per-worker Broadcaster.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	"github.com/pgnotifyhub/hub/broadcast"
	"github.com/pgnotifyhub/hub/dispatch"
	"github.com/pgnotifyhub/hub/errs"
	"github.com/pgnotifyhub/hub/logging"
)

// Server is the hub's single HTTP listener: a landing page and the SSE
// subscribe route. Go's net/http already dispatches each request onto
// its own goroutine, so unlike the source's one-broadcaster-per-OS-thread
// model there is exactly one accept loop; what the source called
// "workers" become replicated Broadcasters behind this one listener,
// each independently fed by its own bus subscription and selected
// round-robin per new SSE subscriber. This preserves the spec's
// per-worker broadcaster replication (and the bus's job of fanning a
// single Event out to all of them) without contending for one global
// lock on every inbound notification.
type Server struct {
	title        string
	allowed      map[string]dispatch.ChanID
	broadcasters []*broadcast.Broadcaster
	next         atomic.Uint64
	httpServer   *http.Server
	landingPage  http.Handler
}

// New builds a Server bound to addr, serving title on the landing page
// and Server header, subscribing clients against allowed (logical
// channel id -> ChanID) through one of broadcasters, chosen round-robin
// per subscriber.
func New(addr, title string, allowed map[string]dispatch.ChanID, broadcasters []*broadcast.Broadcaster, tlsConfig *tls.Config) *Server {
	s := &Server{title: title, allowed: allowed, broadcasters: broadcasters}
	s.landingPage = s.buildLandingPage()

	router := mux.NewRouter()
	router.HandleFunc("/", s.serverHeader(s.serveLandingPage)).Methods(http.MethodGet).Name("landing_page")
	router.HandleFunc("/events/subscribe/{id:.*}", s.serverHeader(s.subscribe)).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:      addr,
		Handler:   router,
		TLSConfig: tlsConfig,
	}
	return s
}

// pickBroadcaster returns the next broadcaster in round-robin order.
func (s *Server) pickBroadcaster() *broadcast.Broadcaster {
	n := s.next.Add(1)
	return s.broadcasters[int(n-1)%len(s.broadcasters)]
}

// Handler returns the underlying http.Handler, exposed for tests that
// want to drive the routes with httptest rather than a real listener.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// serverHeader wraps h to set the Server header on every response
// before the inner handler writes to the response writer.
func (s *Server) serverHeader(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.title)
		h(w, r)
	}
}

// buildLandingPage builds the gzip-wrapped landing page handler once,
// at construction time: the configured subscription list is static for
// the server's lifetime, so there's no reason to rebuild the handler
// (and its gzhttp wrapper) on every request. The SSE route is never
// wrapped this way, since gzhttp's buffering would break streaming.
func (s *Server) buildLandingPage() http.Handler {
	return gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><html><head><title>%s</title></head><body><h1>%s</h1><ul>", s.title, s.title)
		for id := range s.allowed {
			fmt.Fprintf(w, "<li><a href=\"/events/subscribe/%s\">%s</a></li>", id, id)
		}
		fmt.Fprint(w, "</ul></body></html>")
	}))
}

func (s *Server) serveLandingPage(w http.ResponseWriter, r *http.Request) {
	s.landingPage.ServeHTTP(w, r)
}

// subscribe implements GET /events/subscribe/{id}: 404 if id is not
// configured, otherwise an SSE stream of every frame the broadcaster
// sends this client until the request's context is cancelled.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	chanID, ok := s.allowed[id]
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	clientID := r.Header.Get("X-Identity")
	realIP, peerAddr := remoteAddrs(r)

	broadcaster := s.pickBroadcaster()
	client := broadcaster.Subscribe(chanID, id, clientID, realIP, peerAddr)
	defer broadcaster.Unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-client.Frames():
			if !ok {
				return
			}
			if err := writeFrame(w, frame.ID, frame.Event, frame.Payload); err != nil {
				logging.L().Debugw("subscribe: write failed", "id", id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes one SSE frame in the exact id:/event:/data: shape
// named by the spec.
func writeFrame(w http.ResponseWriter, id, event, payload string) error {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, payload)
	return err
}

func remoteAddrs(r *http.Request) (realIP, peerAddr string) {
	peerAddr = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peerAddr = host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		realIP = strings.TrimSpace(parts[0])
	} else {
		realIP = peerAddr
	}
	return realIP, peerAddr
}

// ListenAndServe starts the server, blocking until ctx is cancelled or
// an unrecoverable listener error occurs. TLS is used automatically
// when the Server was built with a non-nil tls.Config.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.httpServer.TLSConfig != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errs.Wrap(errs.KindServerTLS, "httpapi: listen", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
