package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"knoweasy/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// AttemptLookup loads the current state of an attempt for state_sync.
type AttemptLookup interface {
	GetAttempt(ctx context.Context, attemptID uint) (*models.Attempt, error)
}

// AttemptLookupFunc adapts a function to AttemptLookup.
type AttemptLookupFunc func(ctx context.Context, attemptID uint) (*models.Attempt, error)

func (f AttemptLookupFunc) GetAttempt(ctx context.Context, attemptID uint) (*models.Attempt, error) {
	return f(ctx, attemptID)
}

// Hub fans attempt events out to the websocket clients watching that
// attempt. It implements EventPublisher.
type Hub struct {
	clients    map[*Client]bool
	unregister chan *Client
	done       chan struct{}
	stopped    bool
	mutex      sync.RWMutex
	attempts   AttemptLookup
	log        *logrus.Entry
}

type Client struct {
	hub       *Hub
	id        string
	socket    *websocket.Conn
	send      chan []byte
	attemptID uint
	userID    uint
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(attempts AttemptLookup, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		attempts:   attempts,
		log:        log.WithField("component", "hub"),
	}
}

// Run serves unregistrations until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.unregister:
			h.mutex.Lock()
			h.remove(client)
			total := len(h.clients)
			h.mutex.Unlock()
			h.clientLog(client).WithField("clients", total).Debug("Client unregistered")

		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			h.stopped = true
			for client := range h.clients {
				h.remove(client)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// remove must be called with the write lock held.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Publish sends an event to every client watching attemptID. Clients whose
// buffer is full are dropped.
func (h *Hub) Publish(attemptID uint, eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		h.log.WithError(err).WithField("type", eventType).Error("Failed to encode event")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	delivered := 0
	for client := range h.clients {
		if client.attemptID != attemptID {
			continue
		}
		select {
		case client.send <- data:
			delivered++
		default:
			h.clientLog(client).Warn("Send buffer full, dropping client")
			h.remove(client)
		}
	}
	h.log.WithFields(logrus.Fields{"attempt_id": attemptID, "type": eventType, "delivered": delivered}).Debug("Event published")
}

// Watchers returns how many clients are watching attemptID.
func (h *Hub) Watchers(attemptID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for client := range h.clients {
		if client.attemptID == attemptID {
			n++
		}
	}
	return n
}

// RegisterClient attaches an upgraded connection to attemptID and sends it
// the current attempt state. The client is in the hub before anything is
// sent to it.
func (h *Hub) RegisterClient(conn *websocket.Conn, attemptID, userID uint) *Client {
	client := &Client{
		hub:       h,
		id:        uuid.NewString(),
		socket:    conn,
		send:      make(chan []byte, sendBuffer),
		attemptID: attemptID,
		userID:    userID,
	}

	h.mutex.Lock()
	if h.stopped {
		h.mutex.Unlock()
		conn.Close()
		return client
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.clientLog(client).WithField("clients", total).Debug("Client registered")

	go client.writePump()
	go client.readPump()

	h.sendStateSync(client)
	return client
}

func (h *Hub) sendStateSync(client *Client) {
	if h.attempts == nil {
		return
	}
	attempt, err := h.attempts.GetAttempt(context.Background(), client.attemptID)
	if err != nil {
		h.clientLog(client).WithError(err).Warn("Failed to load attempt state")
		return
	}
	h.sendTo(client, Message{Type: "state_sync", Payload: attempt})
}

func (h *Hub) sendTo(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.clientLog(client).WithError(err).Error("Failed to encode message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
		h.remove(client)
	}
}

func (h *Hub) clientLog(client *Client) *logrus.Entry {
	return h.log.WithFields(logrus.Fields{
		"client_id":  client.id,
		"attempt_id": client.attemptID,
		"user_id":    client.userID,
	})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.clientLog(c).WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.clientLog(c).WithError(err).Debug("Ignoring malformed message")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		c.hub.sendTo(c, Message{Type: "pong", Payload: "pong"})
	case "request_state":
		c.hub.sendStateSync(c)
	default:
		c.hub.clientLog(c).WithField("type", msg.Type).Debug("Unknown message type")
	}
}
