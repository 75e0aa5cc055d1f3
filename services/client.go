package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize  = 64 * 1024
	sendQueueSize = 128
)

var errClientClosed = errors.New("client connection closed")

// Client wraps one authenticated websocket and serializes outbound writes
// through a buffered channel. Safe for concurrent Send from the relay while
// the owning handler runs the read loop.
type Client struct {
	SessionID string
	UserID    int64
	Role      string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewClient constructs a Client for a user whose credential has already
// been verified.
func NewClient(userID int64, role string, ws *websocket.Conn) *Client {
	return &Client{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Role:      role,
		ws:        ws,
		send:      make(chan []byte, sendQueueSize),
		closed:    make(chan struct{}),
	}
}

// Start launches the write pump. Call exactly once per client.
func (c *Client) Start() {
	go c.writePump()
}

// Send enqueues payload for delivery. A full buffer closes the connection
// so a stalled client cannot pin server memory.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("send buffer exceeded")
	}
}

// Close terminates the connection with the given close code and stops the
// write pump. Safe to call multiple times.
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// ReadFrame blocks for the next inbound frame. The read deadline set up
// in configureRead acts as the idle timeout: a client that stops ponging
// gets disconnected.
func (c *Client) ReadFrame() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	return payload, err
}

func (c *Client) configureRead() {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func deadlineFromNow() time.Time {
	return time.Now().Add(writeWait)
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
