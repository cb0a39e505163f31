package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Reply is sent to a WebSocket client in answer to one of its commands.
type Reply struct {
	Type  string      `json:"type"` // "ack" or "error"
	Cmd   bus.Command `json:"command"`
	Error string      `json:"error,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub fans bus events out to every connected client. Slow clients are
// dropped rather than allowed to block the bus.
type hub struct {
	logger  *logging.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *logging.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// remove closes the client's send channel once.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(e bus.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("server", "Cannot encode event", map[string]interface{}{"type": string(e.Type), "error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("server", "Dropped slow client", map[string]interface{}{"client": c.id})
		}
	}
}

// sendTo queues data for one client, false when the client is gone or full.
func (h *hub) sendTo(c *client, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.allowedOrigins()
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origins, origin)
		},
	}
}

// originAllowed matches origin against patterns with at most one '*'.
func originAllowed(patterns []string, origin string) bool {
	for _, p := range patterns {
		if p == "*" || p == origin {
			return true
		}
		for i := 0; i < len(p); i++ {
			if p[i] != '*' {
				continue
			}
			prefix, suffix := p[:i], p[i+1:]
			if len(origin) >= len(prefix)+len(suffix) &&
				origin[:len(prefix)] == prefix &&
				origin[len(origin)-len(suffix):] == suffix {
				return true
			}
			break
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server", "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	s.hub.add(c)
	s.logger.Info("server", "WebSocket client connected", map[string]interface{}{"client": c.id, "clients": s.hub.count()})

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		c.conn.Close()
		s.logger.Info("server", "WebSocket client disconnected", map[string]interface{}{"client": c.id})
	}()

	c.conn.SetReadLimit(maxBodySize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("server", "WebSocket read failed", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		reply := Reply{Type: "ack"}
		if err := json.Unmarshal(data, &reply.Cmd); err != nil {
			reply.Type, reply.Error = "error", err.Error()
		} else if err := s.ctrl.Commands().Post(reply.Cmd); err != nil {
			reply.Type, reply.Error = "error", err.Error()
		} else {
			metrics.CommandsReceived.WithLabelValues("ws", string(reply.Cmd.Type)).Inc()
		}

		out, _ := json.Marshal(reply)
		s.hub.sendTo(c, out)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
