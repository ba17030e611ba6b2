// Package stream pushes market events to WebSocket clients. Events are
// produced in-process by the matching engine and the expiry sweep;
// clients can narrow the feed to specific items after connecting.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pondbot/market/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Event types carried in the envelope's "type" field.
const (
	EventTradeExecuted  = "trade.executed"
	EventOrderCancelled = "order.cancelled"
	EventOrderExpired   = "order.expired"
	EventStatsUpdated   = "stats.updated"
)

// allItems is the wildcard subscription every client starts with.
const allItems = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // item ids, or allItems
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow or widen
// its item subscriptions.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Items  []string `json:"items"`
}

// envelope is the wire format for every event pushed to clients.
type envelope struct {
	Type    string `json:"type"`
	ItemID  string `json:"item_id"`
	Payload any    `json:"payload"`
}

// broadcastMsg carries a marshalled event along with its item so the
// hub can route it only to clients subscribed to that item.
type broadcastMsg struct {
	itemID string
	data   []byte
}

// Hub manages the set of connected WebSocket clients and fans market
// events out to them. Publish methods never block the matching path:
// when the broadcast buffer or a client's send buffer is full, the
// event is dropped for that consumer.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

// Run starts the hub's main event loop. It should be called in a
// goroutine. The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("stream: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("stream: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.itemID) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("stream: dropping event for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishTradeExecuted broadcasts a settled execution.
func (h *Hub) PublishTradeExecuted(exec *domain.TradeExecution) {
	h.publish(EventTradeExecuted, exec.ItemID, exec)
}

// PublishOrderCancelled broadcasts a cancellation performed by the owner.
func (h *Hub) PublishOrderCancelled(order *domain.Order) {
	h.publish(EventOrderCancelled, order.ItemID, order)
}

// PublishOrderExpired broadcasts an order retired by the expiry sweep.
func (h *Hub) PublishOrderExpired(order *domain.Order) {
	h.publish(EventOrderExpired, order.ItemID, order)
}

// PublishStats broadcasts a refreshed statistics snapshot.
func (h *Hub) PublishStats(stats *domain.MarketStatistics) {
	h.publish(EventStatsUpdated, stats.ItemID, stats)
}

func (h *Hub) publish(eventType, itemID string, payload any) {
	data, err := json.Marshal(envelope{
		Type:    eventType,
		ItemID:  itemID,
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("stream: failed to marshal event",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case h.broadcast <- broadcastMsg{itemID: itemID, data: data}:
	default:
		h.logger.Warn("stream: broadcast buffer full, dropping event",
			slog.String("type", eventType),
		)
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and
// registers the client with the hub.
// GET /stream
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("stream: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allItems: true},
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests. A client
// that subscribes to specific items drops the wildcard subscription it
// started with.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		if len(msg.Items) > 0 {
			delete(c.subs, allItems)
		}
		for _, item := range msg.Items {
			c.subs[item] = true
		}
	case "unsubscribe":
		for _, item := range msg.Items {
			delete(c.subs, item)
		}
	}
}

// isSubscribed checks whether the client should receive events for the
// given item.
func (c *client) isSubscribed(itemID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allItems] || c.subs[itemID]
}

// writePump pumps messages from the hub to the WebSocket connection
// and sends periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
