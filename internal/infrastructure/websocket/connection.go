package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// SendRejection is a broker-side refusal of a live send.
type SendRejection struct {
	TempID string
	Err    error
}

// Connection is the client half: one socket to the broker, subscribed to the
// shared topic, redialled with bounded exponential backoff when it drops.
type Connection struct {
	url        string
	topic      string
	header     http.Header
	dialer     *websocket.Dialer
	maxElapsed time.Duration
	pingEvery  time.Duration
	pongWait   time.Duration

	connected atomic.Bool

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	writeMu  sync.Mutex
	handlers handlerSet
}

type handlerSet struct {
	nextID    int
	messages  map[int]func(*entity.Message)
	states    map[int]func(bool)
	rejection map[int]func(SendRejection)
}

type ConnectionOption func(*Connection)

// WithReconnectMaxElapsed bounds how long redialling is attempted before giving up.
func WithReconnectMaxElapsed(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.maxElapsed = d }
}

func WithHeader(header http.Header) ConnectionOption {
	return func(c *Connection) { c.header = header }
}

func WithDialer(dialer *websocket.Dialer) ConnectionOption {
	return func(c *Connection) { c.dialer = dialer }
}

func WithPingInterval(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.pingEvery = d }
}

// WithPongWait bounds how long the socket may stay silent, pongs included,
// before it is treated as dead and redialled.
func WithPongWait(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.pongWait = d }
}

func NewConnection(url, topic string, opts ...ConnectionOption) *Connection {
	if topic == "" {
		topic = DefaultTopic
	}
	c := &Connection{
		url:        url,
		topic:      topic,
		dialer:     websocket.DefaultDialer,
		maxElapsed: time.Minute,
		pingEvery:  pingPeriod,
		pongWait:   pongWait,
		handlers: handlerSet{
			messages:  make(map[int]func(*entity.Message)),
			states:    make(map[int]func(bool)),
			rejection: make(map[int]func(SendRejection)),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the socket is up and subscribed.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// OnMessage registers a handler for every inbound message on the topic.
// Handlers run on the read goroutine and must not block.
func (c *Connection) OnMessage(fn func(*entity.Message)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.handlers.nextID
	c.handlers.nextID++
	c.handlers.messages[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers.messages, id)
		c.mu.Unlock()
	}
}

// OnStateChange registers a handler for connected/disconnected transitions.
func (c *Connection) OnStateChange(fn func(connected bool)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.handlers.nextID
	c.handlers.nextID++
	c.handlers.states[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers.states, id)
		c.mu.Unlock()
	}
}

// OnSendRejected registers a handler for live sends the broker refused.
func (c *Connection) OnSendRejected(fn func(SendRejection)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.handlers.nextID
	c.handlers.nextID++
	c.handlers.rejection[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers.rejection, id)
		c.mu.Unlock()
	}
}

// Connect starts dialling in the background. Failures never surface here:
// callers watch Connected and fall back to request-based sends.
// Calling Connect while already running is a no-op.
func (c *Connection) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go c.run(runCtx, done)
}

// Disconnect closes the socket and waits for the background loop to exit.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-done
}

// Publish sends payload over the live socket. It returns errors.ErrNotConnected
// when no socket is up so the caller can take the fallback path.
func (c *Connection) Publish(ctx context.Context, payload entity.MessagePayload) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.Connected() {
		return errors.ErrNotConnected
	}

	frame, err := newFrame(MessageTypeSendMessage, c.topic, payload)
	if err != nil {
		return errors.BadRequest("Invalid message payload", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logger.Warn("Live publish failed, dropping connection: %v", err)
		conn.Close()
		return errors.New("NOT_CONNECTED", "live publish failed", http.StatusServiceUnavailable, err)
	}
	return nil
}

func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Live connection to %s gave up: %v", c.url, err)
			}
			c.finish(done)
			return
		}

		c.setConn(conn)
		c.readLoop(ctx, conn)
		c.setConn(nil)

		if ctx.Err() != nil {
			c.finish(done)
			return
		}
		logger.Info("Live connection to %s lost, reconnecting", c.url)
	}
}

// finish clears the running state so a later Connect can start again. A loop
// that was already superseded by Disconnect/Connect leaves the new state alone.
func (c *Connection) finish(done chan struct{}) {
	c.mu.Lock()
	c.conn = nil
	if c.done == done {
		c.cancel = nil
		c.done = nil
	}
	c.mu.Unlock()
	c.setConnected(false)
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = c.maxElapsed

	var conn *websocket.Conn
	operation := func() error {
		dialed, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			return err
		}
		if err := c.subscribe(dialed); err != nil {
			dialed.Close()
			return err
		}
		conn = dialed
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("Live connection dial failed (%v), retrying in %s", err, wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Connection) subscribe(conn *websocket.Conn) error {
	frame, err := newFrame(MessageTypeSubscribe, c.topic, SubscribeData{Topic: c.topic})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setConnected(conn != nil)
}

func (c *Connection) setConnected(connected bool) {
	if c.connected.Swap(connected) == connected {
		return
	}

	c.mu.Lock()
	handlers := make([]func(bool), 0, len(c.handlers.states))
	for _, fn := range c.handlers.states {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(connected)
	}
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(ctx, conn, stopPing)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Live connection read failed: %v", err)
			}
			conn.Close()
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var frame WSMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("Live connection: bad frame: %v", err)
			continue
		}

		switch frame.Type {
		case MessageTypeMessage:
			var message entity.Message
			if err := json.Unmarshal(frame.Data, &message); err != nil {
				logger.Warn("Live connection: bad message payload: %v", err)
				continue
			}
			c.dispatchMessage(&message)

		case MessageTypeError:
			var data ErrorData
			json.Unmarshal(frame.Data, &data)
			logger.Warn("Live connection: broker error %s: %s", data.Code, data.Error)
			if data.TempID != "" {
				c.dispatchRejection(SendRejection{
					TempID: data.TempID,
					Err:    errors.New(data.Code, data.Error, http.StatusBadRequest, nil),
				})
			}
			if data.Fatal {
				conn.Close()
				return
			}

		case MessageTypeSubscribed, MessageTypePong:
			logger.Debug("Live connection: %s", frame.Type)
		}
	}
}

// pingLoop keeps the socket alive. It closes the socket when ctx ends or a
// ping cannot be written, which unblocks the pending ReadMessage.
func (c *Connection) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				logger.Warn("Live connection ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Connection) dispatchMessage(message *entity.Message) {
	c.mu.Lock()
	handlers := make([]func(*entity.Message), 0, len(c.handlers.messages))
	for _, fn := range c.handlers.messages {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		copied := *message
		fn(&copied)
	}
}

func (c *Connection) dispatchRejection(rejection SendRejection) {
	c.mu.Lock()
	handlers := make([]func(SendRejection), 0, len(c.handlers.rejection))
	for _, fn := range c.handlers.rejection {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(rejection)
	}
}
