// Package websocket streams record change events to subscribed clients.
//
// Clients subscribe to model names; the wildcard "*" receives every event.
// The hub's Run loop owns the client and subscription sets: every change to
// them, and every delivery, happens on that goroutine. Events for a client
// whose send buffer is full are dropped.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Wildcard subscribes to every model
const Wildcard = "*"

const (
	sweepInterval = 30 * time.Second
	staleAfter    = 90 * time.Second
)

// Hub fans events out to feed clients
type Hub struct {
	logger *zap.Logger

	ops    chan func()
	events chan *Event

	// owned by Run
	clients map[*Client]map[string]struct{}
	rooms   map[string]map[*Client]struct{}

	handlers   map[string]MessageHandler
	handlersMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Message is a frame exchanged with a client
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload interface{}     `json:"-"`
}

// MessageHandler handles one incoming message type
type MessageHandler func(ctx context.Context, client *Client, message *Message) error

// NewHub creates a hub; it stops when ctx is cancelled or Shutdown is called
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Hub{
		logger:   logger,
		ops:      make(chan func()),
		events:   make(chan *Event, 1024),
		clients:  make(map[*Client]map[string]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	h.RegisterHandler("ping", PingHandler)
	h.RegisterHandler("subscribe", SubscribeHandler)
	h.RegisterHandler("unsubscribe", UnsubscribeHandler)
	return h
}

// RegisterHandler sets the handler for a message type
func (h *Hub) RegisterHandler(messageType string, handler MessageHandler) {
	h.handlersMu.Lock()
	h.handlers[messageType] = handler
	h.handlersMu.Unlock()
}

// Run processes hub operations and events until the hub stops
func (h *Hub) Run() {
	defer close(h.done)
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case op := <-h.ops:
			op()
		case ev := <-h.events:
			h.deliver(ev)
		case now := <-sweep.C:
			for c := range h.clients {
				if now.Sub(c.LastHeartbeat()) > staleAfter {
					h.logger.Debug("removing stale feed client", zap.String("client", c.ID))
					h.drop(c)
				}
			}
		}
	}
}

// exec runs fn on the Run goroutine and reports whether it ran
func (h *Hub) exec(fn func()) bool {
	ran := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(ran) }:
	case <-h.ctx.Done():
		return false
	}
	<-ran
	return true
}

// Register adds a client subscribed to models
func (h *Hub) Register(c *Client, models ...string) {
	h.exec(func() {
		if _, ok := h.clients[c]; !ok {
			h.clients[c] = make(map[string]struct{})
		}
		for _, m := range models {
			h.join(c, m)
		}
		h.logger.Debug("feed client registered",
			zap.String("client", c.ID),
			zap.Strings("models", models),
			zap.Int("clients", len(h.clients)))
	})
}

// Unregister removes a client and its subscriptions
func (h *Hub) Unregister(c *Client) {
	h.exec(func() { h.drop(c) })
}

// Subscribe adds a registered client to a model's room
func (h *Hub) Subscribe(c *Client, model string) {
	h.exec(func() {
		if _, ok := h.clients[c]; ok {
			h.join(c, model)
		}
	})
}

// Unsubscribe removes a client from a model's room
func (h *Hub) Unsubscribe(c *Client, model string) {
	h.exec(func() { h.leave(c, model) })
}

// Subscribers returns the number of clients subscribed to model
func (h *Hub) Subscribers(model string) (n int) {
	h.exec(func() { n = len(h.rooms[model]) })
	return n
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() (n int) {
	h.exec(func() { n = len(h.clients) })
	return n
}

// Publish queues an event for delivery. It never blocks; events published
// while the queue is full are dropped.
func (h *Hub) Publish(event *Event) {
	select {
	case h.events <- event:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("feed queue full, event dropped",
			zap.String("model", event.Model),
			zap.Int64("id", event.ID))
	}
}

// HandleMessage dispatches a client frame to its handler; unknown types are ignored
func (h *Hub) HandleMessage(ctx context.Context, c *Client, data []byte) error {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return err
	}
	h.handlersMu.RLock()
	handler, ok := h.handlers[message.Type]
	h.handlersMu.RUnlock()
	if !ok {
		h.logger.Debug("no handler for message type", zap.String("type", message.Type))
		return nil
	}
	return handler(ctx, c, &message)
}

// Shutdown stops the hub, disconnects every client and waits for Run to return
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *Hub) join(c *Client, model string) {
	room, ok := h.rooms[model]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[model] = room
	}
	room[c] = struct{}{}
	h.clients[c][model] = struct{}{}
}

func (h *Hub) leave(c *Client, model string) {
	if room, ok := h.rooms[model]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, model)
		}
	}
	if subs, ok := h.clients[c]; ok {
		delete(subs, model)
	}
}

func (h *Hub) drop(c *Client) {
	subs, ok := h.clients[c]
	if !ok {
		return
	}
	for model := range subs {
		h.leave(c, model)
	}
	delete(h.clients, c)
	c.stop()
	h.logger.Debug("feed client unregistered",
		zap.String("client", c.ID),
		zap.Int("clients", len(h.clients)))
}

func (h *Hub) deliver(event *Event) {
	data, err := marshalMessage(&Message{Type: event.Type, Payload: event})
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	sent := make(map[*Client]struct{})
	for _, model := range []string{event.Model, Wildcard} {
		for c := range h.rooms[model] {
			if _, dup := sent[c]; dup {
				continue
			}
			sent[c] = struct{}{}
			if !c.enqueue(data) {
				h.logger.Warn("feed client too slow, event dropped",
					zap.String("client", c.ID),
					zap.String("model", event.Model),
					zap.Int64("id", event.ID))
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.logger.Info("feed shutting down", zap.Int("clients", len(h.clients)))
	for c := range h.clients {
		c.stop()
	}
	h.clients = make(map[*Client]map[string]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
}
