package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klineKit/internal/ports"
)

const (
	DefaultAddr    = ":8765"
	MaxMessageSize = 1 << 20

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr   string
	Logger ports.Logger
}

type metrics struct {
	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	bytes       prometheus.Counter
}

// Server echoes every WebSocket message back to its sender.
type Server struct {
	addr     string
	logger   ports.Logger
	upgrader websocket.Upgrader
	http     *http.Server
	registry *prometheus.Registry
	metrics  metrics

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server with its own metrics registry.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for echo server")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	m := metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "klinekit",
			Subsystem: "echo",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klinekit",
			Subsystem: "echo",
			Name:      "messages_total",
			Help:      "Messages received for echo by type.",
		}, []string{"type"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "klinekit",
			Subsystem: "echo",
			Name:      "bytes_total",
			Help:      "Echoed payload bytes.",
		}),
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.connections, m.messages, m.bytes)

	s := &Server{
		addr:   addr,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry: reg,
		metrics:  m,
		conns:    make(map[*websocket.Conn]struct{}),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the routes: /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Echo server listening", map[string]interface{}{"addr": s.addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("echo server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, sends a close frame to every open
// socket and waits for their handlers until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	err := s.http.Shutdown(ctx)

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range open {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		for _, c := range open {
			_ = c.Close()
		}
		err = errors.Join(err, ctx.Err())
	}
	s.logger.Info(context.Background(), "Echo server stopped", map[string]interface{}{"closed": len(open)})
	return err
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.metrics.connections.Inc()
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.metrics.connections.Dec()
	s.wg.Done()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.Connections(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(ctx, "WebSocket upgrade failed", map[string]interface{}{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}
	if !s.track(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	fields := map[string]interface{}{"remote": r.RemoteAddr}
	s.logger.Debug(ctx, "WebSocket client connected", fields)

	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(conn, stop)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn(ctx, "WebSocket read failed", fields, map[string]interface{}{"error": err.Error()})
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.metrics.messages.WithLabelValues(messageType(mt)).Inc()
		s.metrics.bytes.Add(float64(len(data)))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(mt, data); err != nil {
			s.logger.Warn(ctx, "WebSocket write failed", fields, map[string]interface{}{"error": err.Error()})
			break
		}
	}
	s.logger.Debug(ctx, "WebSocket client disconnected", fields)
}

func (s *Server) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func messageType(mt int) string {
	switch mt {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	}
	return "other"
}
