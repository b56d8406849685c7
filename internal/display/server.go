package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/beakylabs/beaky/internal/health"
)

const (
	// clientSendBuf is the per-client outgoing queue depth. A client that
	// falls further behind than this starts losing events rather than
	// holding up the broadcaster.
	clientSendBuf = 64

	writeTimeout = 5 * time.Second
)

// Server drains a Channel and broadcasts its events as JSON text frames to
// every connected WebSocket client. It also hosts the /metrics endpoint so
// the kiosk exposes a single HTTP listener.
type Server struct {
	ch   *Channel
	addr string

	metrics    http.Handler
	health     *health.Handler
	middleware func(http.Handler) http.Handler

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMiddleware wraps the whole HTTP handler chain, e.g. with request
// tracing and latency metrics.
func WithMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.middleware = mw }
}

// WithHealth mounts the given probe handler at /healthz and /readyz instead
// of the default always-OK liveness route.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// NewServer creates a display server for the given listen address. metrics
// may be nil; when set it is mounted at /metrics.
func NewServer(addr string, ch *Channel, metrics http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		ch:      ch,
		addr:    addr,
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves HTTP until ctx is cancelled, broadcasting display events to all
// connected clients. It always returns a non-nil error; on clean shutdown the
// error is ctx.Err().
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if s.health != nil {
		s.health.Register(mux)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	handler := http.Handler(mux)
	if s.middleware != nil {
		handler = s.middleware(mux)
	}

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	go s.broadcastLoop(ctx)

	slog.Info("display server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("display: serve: %w", err)
	}
}

// broadcastLoop moves events from the channel to every connected client.
func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		ev, err := s.ch.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrChannelClosed) {
				slog.Error("display broadcast loop stopped", "error", err)
			}
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("display event marshal failed", "type", ev.Type, "error", err)
			continue
		}

		s.mu.Lock()
		for c := range s.clients {
			select {
			case c.send <- data:
			default:
				// Client queue full: drop this event for that client.
			}
		}
		s.mu.Unlock()
	}
}

// handleWS upgrades the connection and streams events until the client goes
// away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The render surface runs on the kiosk itself or the local network.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendBuf),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	slog.Info("render client connected", "clients", n)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("render client disconnected")
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// ClientCount reports the number of connected render clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
