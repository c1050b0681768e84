// Package stream implements the resilient client for the blockchain
// connector's websocket event stream: topic subscription, keepalive,
// reconnection, and batch-level ack/nack flow control.
package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("event stream not connected")

// Config holds stream connection settings.
type Config struct {
	// URL of the connector's websocket endpoint.
	URL string

	// Topic to subscribe with the listen control frame.
	Topic string

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration

	// PingInterval is the keepalive ping period; PingTimeout is how long a
	// pong may be outstanding before the socket is forcibly torn down.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// DefaultConfig returns stream defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		PingInterval:   30 * time.Second,
		PingTimeout:    60 * time.Second,
	}
}

// Callbacks are invoked for inbound traffic. Both run on the client's read
// goroutine; a slow handler delays subsequent frames on this socket.
type Callbacks struct {
	OnBatch   func(Batch)
	OnReceipt func(Receipt)

	// OnConnect fires after each successful (re)subscribe; restored is true
	// when the connection recovered from an unexpected disconnect.
	OnConnect func(restored bool)
}

// Client owns one persistent websocket subscribed to one topic. Connection
// errors are logged, never returned: losing the feed is not fatal, the
// client reconnects until Close is called.
type Client struct {
	cfg    Config
	cb     Callbacks
	logger *slog.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	started         bool
	closeRequested  bool
	wasDisconnected bool

	writeMu sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func New(cfg Config, cb Callbacks, logger *slog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		cb:      cb,
		logger:  logger.With("component", "event-stream", "topic", cfg.Topic),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the connect/reconnect loop. Subsequent calls are no-ops.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.closeRequested {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Close performs a clean shutdown, suppressing reconnect. Safe to call
// whether or not Start ever ran.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closeRequested {
		c.mu.Unlock()
		return
	}
	c.closeRequested = true
	started := c.started
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	if started {
		<-c.stopped
	}
}

// Ack acknowledges a fully-processed upstream batch.
func (c *Client) Ack(batchNumber int64) error {
	return c.sendControl(controlFrame{Type: "ack", Topic: c.cfg.Topic, BatchNumber: &batchNumber})
}

// Nack asks the connector to redeliver a batch.
func (c *Client) Nack(batchNumber int64) error {
	return c.sendControl(controlFrame{Type: "nack", Topic: c.cfg.Topic, BatchNumber: &batchNumber})
}

func (c *Client) run() {
	defer close(c.stopped)

	for {
		if c.isCloseRequested() {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.logger.Error("event stream connect failed", "error", err)
			if !c.sleepReconnect() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		restored := c.wasDisconnected
		closeRequested := c.closeRequested
		c.mu.Unlock()

		if closeRequested {
			conn.Close()
			return
		}

		if restored {
			c.logger.Info("event stream restored")
		} else {
			c.logger.Info("event stream connected")
		}

		if err := c.subscribe(); err != nil {
			c.logger.Error("event stream subscribe failed", "error", err)
		} else if c.cb.OnConnect != nil {
			c.cb.OnConnect(restored)
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		closeRequested = c.closeRequested
		c.wasDisconnected = true
		c.mu.Unlock()

		if closeRequested {
			return
		}

		c.logger.Warn("event stream disconnected", "reconnect_in", c.cfg.ReconnectDelay)
		if !c.sleepReconnect() {
			return
		}
	}
}

// subscribe re-sends the listen frames; required after every (re)connect.
func (c *Client) subscribe() error {
	if err := c.sendControl(controlFrame{Type: "listen", Topic: c.cfg.Topic}); err != nil {
		return err
	}
	return c.sendControl(controlFrame{Type: "listenreplies"})
}

// readLoop blocks until the socket drops. A pong resets the read deadline;
// without one inside PingTimeout the pending read fails and the socket is
// terminated, which feeds the reconnect path.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !c.isCloseRequested() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("event stream read error", "error", err)
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

// handleFrame classifies an inbound frame as a batch or a receipt. Malformed
// frames are logged and dropped without tearing down the connection.
func (c *Client) handleFrame(message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Error("malformed event stream frame", "error", err)
		return
	}

	switch {
	case frame.BatchNumber != nil && len(frame.Events) > 0:
		if c.cb.OnBatch != nil {
			c.cb.OnBatch(Batch{BatchNumber: *frame.BatchNumber, Events: frame.Events})
		}
	case frame.Headers != nil && frame.Headers.RequestID != "":
		var receipt Receipt
		if err := json.Unmarshal(message, &receipt); err != nil {
			c.logger.Error("malformed receipt frame", "error", err)
			return
		}
		if c.cb.OnReceipt != nil {
			c.cb.OnReceipt(receipt)
		}
	default:
		c.logger.Error("unrecognized event stream frame", "frame", string(message))
	}
}

func (c *Client) sendControl(frame controlFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Client) isCloseRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeRequested
}

func (c *Client) sleepReconnect() bool {
	select {
	case <-c.done:
		return false
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	}
}
