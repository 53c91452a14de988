package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	writeWait       = 10 * time.Second
	maxMessageSize  = 64 * 1024
	writeBufferSize = 256
	sendTimeout     = 10 * time.Second
)

// MessageSender persists a payload received over the socket. The chat use case
// implements it, so live sends and REST sends share one code path.
type MessageSender interface {
	SendMessage(ctx context.Context, payload entity.MessagePayload) (*entity.Message, error)
}

// Client is one server-side socket.
type Client struct {
	ID   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Hub tracks sockets and their topic subscriptions.
type Hub struct {
	clients map[uuid.UUID]*Client
	topics  map[string]map[uuid.UUID]*Client
	mutex   sync.RWMutex
	sender  MessageSender

	sendTimeout time.Duration
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		topics:  make(map[string]map[uuid.UUID]*Client),

		sendTimeout: sendTimeout,
	}
}

// SetSender wires the use case that handles send_message frames.
func (h *Hub) SetSender(sender MessageSender) {
	h.mutex.Lock()
	h.sender = sender
	h.mutex.Unlock()
}

// SetSendTimeout bounds how long a send_message frame may wait on the sender.
func (h *Hub) SetSendTimeout(d time.Duration) {
	h.mutex.Lock()
	h.sendTimeout = d
	h.mutex.Unlock()
}

// ServeClient registers conn and starts its pumps. It returns immediately.
func (h *Hub) ServeClient(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, writeBufferSize),
	}

	h.mutex.Lock()
	h.clients[client.ID] = client
	h.mutex.Unlock()
	logger.Info("WebSocket client %s connected", client.ID)

	go client.readPump()
	go client.writePump()
	return client
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client.ID]
	if ok {
		delete(h.clients, client.ID)
		for topic, subscribers := range h.topics {
			delete(subscribers, client.ID)
			if len(subscribers) == 0 {
				delete(h.topics, topic)
			}
		}
		client.close()
	}
	h.mutex.Unlock()

	if ok {
		logger.Info("WebSocket client %s disconnected", client.ID)
	}
}

func (h *Hub) subscribe(client *Client, topic string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	subscribers, ok := h.topics[topic]
	if !ok {
		subscribers = make(map[uuid.UUID]*Client)
		h.topics[topic] = subscribers
	}
	subscribers[client.ID] = client
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, client.ID)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers returns how many sockets listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.topics[topic])
}

// BroadcastMessage delivers message to every subscriber of topic. Clients with
// a full send buffer are dropped.
func (h *Hub) BroadcastMessage(topic string, message *entity.Message) {
	frame, err := newFrame(MessageTypeMessage, topic, message)
	if err != nil {
		logger.Error("WebSocket: failed to marshal broadcast: %v", err)
		return
	}

	var slow []*Client
	h.mutex.RLock()
	for _, client := range h.topics[topic] {
		if !client.trySend(frame) {
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		logger.Warn("WebSocket: client %s send buffer full, dropping", client.ID)
		h.removeClient(client)
	}
}

// Shutdown closes every socket.
func (h *Hub) Shutdown() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, client := range h.clients {
		client.close()
	}
	h.clients = make(map[uuid.UUID]*Client)
	h.topics = make(map[string]map[uuid.UUID]*Client)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// trySend queues frame without blocking. Callers hold the hub lock so send
// cannot be closed underneath them.
func (c *Client) trySend(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: unexpected close from %s: %v", c.ID, err)
			}
			return
		}
		c.hub.handleClientMessage(c, message)
	}
}

func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write to %s failed: %v", c.ID, err)
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

func (h *Hub) handleClientMessage(client *Client, raw []byte) {
	var frame WSMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.Warn("WebSocket: bad frame from %s: %v", client.ID, err)
		h.sendError(client, ErrorData{Code: "BAD_REQUEST", Error: "Invalid message format"})
		return
	}

	logger.Debug("WebSocket: %s frame from %s", frame.Type, client.ID)

	switch frame.Type {
	case MessageTypePing:
		h.sendTo(client, MessageTypePong, "", map[string]string{"status": "alive"})

	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var data SubscribeData
		if len(frame.Data) > 0 {
			json.Unmarshal(frame.Data, &data)
		}
		topic := data.Topic
		if topic == "" {
			topic = frame.Topic
		}
		if topic == "" {
			h.sendError(client, ErrorData{Code: "BAD_REQUEST", Error: "Missing topic"})
			return
		}
		if frame.Type == MessageTypeSubscribe {
			h.subscribe(client, topic)
			h.sendTo(client, MessageTypeSubscribed, topic, SubscribeData{Topic: topic})
		} else {
			h.unsubscribe(client, topic)
		}

	case MessageTypeSendMessage:
		h.handleSendMessage(client, frame)

	default:
		h.sendError(client, ErrorData{Code: "BAD_REQUEST", Error: "Unknown message type"})
	}
}

func (h *Hub) handleSendMessage(client *Client, frame WSMessage) {
	var payload entity.MessagePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.sendError(client, ErrorData{Code: "BAD_REQUEST", Error: "Invalid send message format"})
		return
	}

	h.mutex.RLock()
	sender, timeout := h.sender, h.sendTimeout
	h.mutex.RUnlock()
	if sender == nil {
		h.sendError(client, ErrorData{Code: "INTERNAL_ERROR", Error: "Sending is not available", TempID: payload.TempID})
		return
	}

	// The sender broadcasts the persisted message itself. The read pump waits
	// on it, so a stuck store must not hold the socket forever.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := sender.SendMessage(ctx, payload); err != nil {
		if ctx.Err() != nil && !errors.Is(err, "TIMEOUT") {
			err = errors.Timeout("send_message", err)
		}
		logger.Warn("WebSocket: send from %s rejected: %v", client.ID, err)
		h.sendError(client, ErrorData{Code: errors.CodeOf(err), Error: err.Error(), TempID: payload.TempID})
	}
}

func (h *Hub) sendTo(client *Client, msgType, topic string, data interface{}) {
	frame, err := newFrame(msgType, topic, data)
	if err != nil {
		logger.Error("WebSocket: failed to marshal %s for %s: %v", msgType, client.ID, err)
		return
	}

	h.mutex.RLock()
	_, live := h.clients[client.ID]
	queued := live && client.trySend(frame)
	h.mutex.RUnlock()

	if live && !queued {
		logger.Warn("WebSocket: client %s send buffer full, dropping", client.ID)
		h.removeClient(client)
	}
}

func (h *Hub) sendError(client *Client, data ErrorData) {
	h.sendTo(client, MessageTypeError, "", data)
}
