package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

// Hub fans messages out to every connected client. It implements
// upload.Notifier and review.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	// last holds the newest payload per stream for clients that connect later.
	last map[string][]byte

	register   chan *Client
	unregister chan *Client

	logger *slog.Logger
}

var (
	_ upload.Notifier = (*Hub)(nil)
	_ review.Notifier = (*Hub)(nil)
)

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		last:       make(map[string][]byte),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		logger:     logger,
	}
}

// Run processes registrations until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.Send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) Register(c *Client) {
	h.register <- c
}

func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	for _, key := range []string{"upload", "review"} {
		if payload, ok := h.last[key]; ok {
			c.SendMessage(payload)
		}
	}
	h.logger.Debug("event client connected", "client_id", c.ID, "clients", len(h.clients))
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	close(c.Send)
	h.logger.Debug("event client disconnected", "client_id", c.ID, "clients", len(h.clients))
}

// Broadcast sends payload to all clients. Slow clients lose messages
// rather than stalling the sender.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.SendMessage(payload) {
			h.logger.Debug("event dropped for slow client", "client_id", c.ID)
		}
	}
}

func (h *Hub) Publish(m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("failed to encode event", "type", m.Type, "error", err)
		return
	}
	h.mu.Lock()
	h.last[stream(m.Type)] = payload
	h.mu.Unlock()
	h.Broadcast(payload)
}

func (h *Hub) Notify(e upload.Event) {
	h.Publish(FromUpload(e))
}

func (h *Hub) NotifyReview(s review.Snapshot) {
	h.Publish(FromReview(s))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
