package service

import (
	"context"
	"time"

	"featuregate/internal/metrics"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	"go.uber.org/zap"
)

// Client is one change-feed subscriber.
type Client struct {
	Send chan v1.Message
	// Scopes maps scope type to the subscriber's id in it. A nil map receives
	// every message; otherwise scoped messages must match.
	Scopes map[string]string
}

func (c *Client) Accepts(msg v1.Message) bool {
	if c.Scopes == nil || msg.ScopeType == "" || msg.Type == constraints.MessagePing {
		return true
	}
	return c.Scopes[msg.ScopeType] == msg.ScopeID
}

// Hub fans change messages out to registered clients. All client state is
// owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	Broadcast  chan v1.Message
	Register   chan *Client
	Unregister chan *Client

	observer  metrics.HubObserver
	heartbeat time.Duration
	done      chan struct{}
}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration, bufferSize int) *Hub {
	if observer == nil {
		observer = metrics.Nop{}
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		Broadcast:  make(chan v1.Message, bufferSize),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		observer:   observer,
		heartbeat:  heartbeat,
		done:       make(chan struct{}),
	}
}

// Join registers c unless the hub has stopped.
func (h *Hub) Join(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Publish(msg v1.Message) {
	select {
	case h.Broadcast <- msg:
	case <-h.done:
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			logger.Info("hub stopped")
			return
		case c := <-h.Register:
			h.clients[c] = struct{}{}
			h.observer.IncOnline()
		case c := <-h.Unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case msg := <-h.Broadcast:
			start := time.Now()
			for c := range h.clients {
				if !c.Accepts(msg) {
					continue
				}
				select {
				case c.Send <- msg:
					h.observer.RecordPush()
				default:
					logger.Warn("slow client dropped", zap.String("key", msg.Key), zap.Int64("revision", msg.Revision))
					h.drop(c)
				}
			}
			h.observer.ObservePushLatency(time.Since(start).Seconds())
			h.observer.UpdateEventLag(len(h.Broadcast))
		case <-ticker.C:
			ping := v1.Message{Type: constraints.MessagePing}
			for c := range h.clients {
				select {
				case c.Send <- ping:
				default:
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.Send)
	h.observer.DecOnline()
}
