package websocket

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// ErrClientClosed is returned when sending to a stopped client
var ErrClientClosed = errors.New("feed client closed")

// Client is one feed connection
type Client struct {
	ID string
	// Actor is the authenticated identity, or ""
	Actor string

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	heartbeat atomic.Int64
}

// NewClient creates a client bound to hub; it stops with the hub
func NewClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	c := &Client{
		ID:     id,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.heartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat is the time of the last frame or pong from the peer
func (c *Client) LastHeartbeat() time.Time {
	return time.Unix(0, c.heartbeat.Load())
}

func (c *Client) stop() {
	c.cancel()
}

// enqueue hands a frame to the write pump without blocking
func (c *Client) enqueue(data []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump reads control frames until the connection fails, then unregisters
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.stop()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("feed connection error", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}
		c.touch()
		if err := c.hub.HandleMessage(c.ctx, c, data); err != nil {
			c.SendError(err.Error())
		}
	}
}

// WritePump writes queued frames and keepalive pings until the client stops
func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}
	for {
		select {
		case <-c.ctx.Done():
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues a frame; it fails when the client stopped or its buffer is full
func (c *Client) Send(message *Message) error {
	data, err := marshalMessage(message)
	if err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	if !c.enqueue(data) {
		return errors.New("feed client send buffer full")
	}
	return nil
}

// SendJSON sends a typed frame with payload as data
func (c *Client) SendJSON(messageType string, payload interface{}) error {
	return c.Send(&Message{Type: messageType, Payload: payload})
}

// SendError sends an error frame, ignoring failures
func (c *Client) SendError(msg string) {
	_ = c.SendJSON("error", map[string]string{"message": msg})
}
