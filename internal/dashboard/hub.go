package dashboard

import (
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"airquality-node/internal/history"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans live snapshot messages out to every connected observer.
type Hub struct {
	logger   *slog.Logger
	history  func() iter.Seq[history.Entry]
	status   func() Status
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub builds a hub. history and status are consulted on connect and on
// observer requests.
func NewHub(logger *slog.Logger, history func() iter.Seq[history.Entry], status func() Status) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		history: history,
		status:  status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard pages are served from the node itself or opened from a LAN file.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and serves the observer until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("observer connected", "client_id", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)

	h.sendHistory(c)
	h.sendStatus(c)

	h.readPump(c)
}

// Broadcast queues msg for every observer. Observers whose queue is full miss it.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueueLocked(c, msg)
	}
}

// PublishCurrent broadcasts a freshly accepted sample.
func (h *Hub) PublishCurrent(e history.Entry) {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := EncodeCurrent(e)
	if err != nil {
		h.logger.Error("encode current", "error", err)
		return
	}
	h.Broadcast(msg)
}

// PublishStatus broadcasts the current node status.
func (h *Hub) PublishStatus() {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := EncodeStatus(h.status())
	if err != nil {
		h.logger.Error("encode status", "error", err)
		return
	}
	h.Broadcast(msg)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("observer disconnected", "client_id", c.id)
}

func (h *Hub) enqueue(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueueLocked(c, msg)
	}
}

// enqueueLocked requires h.mu held; send is only closed under the write lock.
func (h *Hub) enqueueLocked(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Debug("observer queue full, dropping message", "client_id", c.id)
	}
}

func (h *Hub) sendHistory(c *client) {
	msg, err := EncodeHistory(h.history())
	if err != nil {
		h.logger.Error("encode history", "error", err)
		return
	}
	h.enqueue(c, msg)
}

func (h *Hub) sendStatus(c *client) {
	msg, err := EncodeStatus(h.status())
	if err != nil {
		h.logger.Error("encode status", "error", err)
		return
	}
	h.enqueue(c, msg)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("observer read failed", "client_id", c.id, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		switch string(data) {
		case requestHistory:
			h.sendHistory(c)
		case requestStatus:
			h.sendStatus(c)
		default:
			h.logger.Debug("unknown observer request", "client_id", c.id, "request", string(data))
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("observer write failed", "client_id", c.id, "error", err)
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
