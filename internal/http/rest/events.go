package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

const (
	eventTypeTransfer = "transfer"
	eventTypeStatus   = "status"

	clientSendBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type eventMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// EventsHandler streams transfer and status changes over websocket. Every
// connected client is registered as a transfer and status listener.
type EventsHandler struct {
	transfers Transfers
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[*eventClient]struct{}
	closed  bool
}

func NewEventsHandler(transfers Transfers, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventsHandler{
		transfers: transfers,
		logger:    logger,
		clients:   make(map[*eventClient]struct{}),
	}
}

type eventClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// OnTransferChanged runs on the scheduler's dispatch path and must not
// block; messages for a slow client are dropped.
func (c *eventClient) OnTransferChanged(t transfer.Transfer) {
	c.enqueue(eventTypeTransfer, t)
}

func (c *eventClient) OnStatusChanged(s transfer.Status) {
	c.enqueue(eventTypeStatus, s)
}

func (c *eventClient) enqueue(msgType string, data any) {
	payload, err := json.Marshal(eventMessage{Type: msgType, Data: data})
	if err != nil {
		c.logger.Error("failed to marshal event", "type", msgType, "err", err)

		return
	}

	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.logger.Warn("event client too slow, dropping event", "type", msgType)
	}
}

func (c *eventClient) stop() {
	c.once.Do(func() { close(c.done) })
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)

		return
	}

	client := &eventClient{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		done:   make(chan struct{}),
		logger: h.logger,
	}

	if !h.add(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()

		return
	}

	h.transfers.RegisterTransferListener(client)
	h.transfers.RegisterStatusListener(client)

	// Snapshot taken after registration so no change falls in between.
	client.OnStatusChanged(h.transfers.Status())

	go client.writePump()

	client.readPump()

	h.transfers.RemoveTransferListener(client)
	h.transfers.RemoveStatusListener(client)
	h.remove(client)
}

// Close disconnects every client and refuses new ones.
func (h *EventsHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.stop()
		c.conn.Close()
	}

	h.logger.Debug("event stream stopped, all clients disconnected")
}

// ClientCount reports the number of connected clients.
func (h *EventsHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *EventsHandler) add(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	h.clients[c] = struct{}{}
	h.logger.Debug("event client connected", "total", len(h.clients))

	return true
}

func (h *EventsHandler) remove(c *eventClient) {
	c.stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	h.logger.Debug("event client disconnected", "total", len(h.clients))
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.stop()

				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()

				return
			}
		}
	}
}

// readPump only serves control frames; it returns once the peer goes away.
func (c *eventClient) readPump() {
	defer c.stop()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
