package realtime

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket connection settings
const (
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
	MaxMessageSize        = 512
	SendBufferSize        = 256
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
	clientSeq         atomic.Uint64
)

// Client is one WebSocket connection. Writes happen on writePump only, so Send
// just enqueues and never blocks.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
	logger logrus.FieldLogger
}

func newClient(conn *websocket.Conn, logger logrus.FieldLogger) *Client {
	id := "ws-" + strconv.FormatUint(clientSeq.Add(1), 10)
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, SendBufferSize),
		logger: logger.WithField("conn", id),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Send queues a text message. A full buffer means the peer is not reading;
// the client is closed and the error reported.
func (c *Client) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		c.closeLocked()
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which then closes the socket
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump writes queued messages and keep-alive pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands every text frame to onMessage until the peer goes away
func (c *Client) readPump(onMessage func(string)) {
	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("websocket read error")
			}
			return
		}
		onMessage(string(message))
	}
}
