package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client wraps one downstream websocket connection. A client joins exactly
// one namespace via the start frame and from then on receives that
// namespace's batches and receipts.
type Client struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	namespace string
}

func newClient(gw *Gateway, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuidString(),
		gw:   gw,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Namespace returns the namespace the client started, or "".
func (c *Client) Namespace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.namespace
}

func (c *Client) setNamespace(ns string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.namespace != "" {
		return false
	}
	c.namespace = ns
	return true
}

// deliver queues a serialized frame, dropping it if the buffer is full. The
// in-flight protocol recovers dropped batches: an unacked message is
// redelivered or nacked upstream.
func (c *Client) deliver(payload []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()
	c.gw.handleDisconnect(c)
}

// run starts the write pump and blocks on the read pump.
func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer c.close()

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
				c.gw.logger.Warn("client read error", "client_id", c.id, "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
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

// handleMessage parses one inbound client frame. A malformed frame is
// logged and dropped; the connection continues.
func (c *Client) handleMessage(message []byte) {
	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.gw.logger.Warn("malformed client frame", "client_id", c.id, "error", err)
		return
	}

	switch {
	case frame.Type == "start":
		c.gw.handleStart(c, frame.Namespace)
	case frame.Event == "ack" || frame.Type == "ack":
		c.gw.handleAck(c, frame.Data.ID)
	default:
		c.gw.logger.Warn("unrecognized client frame", "client_id", c.id, "frame", string(message))
	}
}

func (c *Client) sendFrame(logger *slog.Logger, frame serverFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("marshal frame", "error", err)
		return
	}
	if !c.deliver(payload) {
		logger.Warn("client send buffer full", "client_id", c.id, "event", frame.Event)
	}
}
