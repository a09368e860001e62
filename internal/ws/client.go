package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relief-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 256
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Client is one websocket connection. Writes go through a buffered channel
// drained by writePump, so Send never blocks the caller.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan models.Envelope

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan models.Envelope, sendBuffer),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Send(env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
