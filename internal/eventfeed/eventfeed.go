// Package eventfeed broadcasts local cache change events (issue upserts,
// tombstones, pending-op outcomes) to connected WebSocket clients, so a
// terminal dashboard or editor extension can show live activity without
// polling the store.
//
// Grounded closely on internal/turso/dashboard/server.go's connection-
// management, broadcast-channel, and graceful-shutdown pattern — kept as
// an HTTP+WebSocket server (unlike internal/ipc, which redesigns the
// transport entirely for the control channel) because this is genuinely
// a one-to-many broadcast, the exact problem that file solves. Adapted
// from task/dependency/sync-cache message types to issue-tracker ones.
package eventfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// EventType enumerates the change events this feed broadcasts.
type EventType string

const (
	EventIssueUpserted EventType = "issue_upserted"
	EventIssueClosed   EventType = "issue_closed"
	EventOpEnqueued    EventType = "op_enqueued"
	EventOpSucceeded   EventType = "op_succeeded"
	EventOpSuperseded  EventType = "op_superseded"
	EventSyncComplete  EventType = "sync_complete"
)

// Event is one broadcast message.
type Event struct {
	Type      EventType       `json:"type"`
	GitDir    string          `json:"git_dir"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IssueEventData accompanies EventIssueUpserted/EventIssueClosed.
type IssueEventData struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// OpEventData accompanies the op_* events.
type OpEventData struct {
	OpID int64  `json:"op_id"`
	Kind string `json:"kind"`
}

// SyncCompleteData accompanies EventSyncComplete.
type SyncCompleteData struct {
	OpenIssues int           `json:"open_issues"`
	Duration   time.Duration `json:"duration"`
}

// Config configures a Server. Addr defaults to ":8080" and Logger to
// log.Default() when zero.
type Config struct {
	Addr   string
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Server manages WebSocket connections and broadcasts Events to all of
// them.
type Server struct {
	addr     string
	listener net.Listener
	httpSrv  *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New constructs a Server. Call Start to begin listening.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      cfg.Addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// Start begins listening and serving WebSocket connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("eventfeed: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("eventfeed listening on %s", s.addr)
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("eventfeed server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully closes every connection and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("eventfeed: shutdown: %w", err)
		}
	}

	s.wg.Wait()
	return nil
}

// Publish enqueues ev for broadcast to every connected client. Non-
// blocking: a full buffer drops the event rather than stalling the
// caller, since this feed is advisory, not authoritative — the store
// itself is.
func (s *Server) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case s.broadcast <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Println("eventfeed: broadcast buffer full, dropping event")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Printf("eventfeed: marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("eventfeed: write to client failed: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("eventfeed: upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	go s.readLoop(conn)
}

// readLoop only keeps the connection alive and detects disconnects; this
// feed is one-directional, clients never send meaningful frames.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": n})
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Addr returns the server's actual listening address once Start has run.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
