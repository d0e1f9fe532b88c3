package sse

import (
	"sync"

	"github.com/google/uuid"

	"github.com/verify-hub/verify-hub/internal/domain/feed"
)

// Hub manages SSE feed clients: a fan-out set of operator consoles plus at
// most one customer connection per order.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*feed.Client
	byOrder map[uuid.UUID]string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*feed.Client),
		byOrder: make(map[uuid.UUID]string),
	}
}

func (h *Hub) Register(client *feed.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
	if client.Role == feed.RoleCustomer && client.OrderID != nil {
		// A reconnecting tab replaces the previous channel for its order.
		if prev, ok := h.byOrder[*client.OrderID]; ok && prev != client.ClientID {
			if c, ok := h.clients[prev]; ok {
				c.Close()
				delete(h.clients, prev)
			}
		}
		h.byOrder[*client.OrderID] = client.ClientID
	}
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	c.Close()
	delete(h.clients, clientID)
	if c.Role == feed.RoleCustomer && c.OrderID != nil && h.byOrder[*c.OrderID] == clientID {
		delete(h.byOrder, *c.OrderID)
	}
}

func (h *Hub) GetClient(clientID string) *feed.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

func (h *Hub) OperatorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.Role == feed.RoleOperator {
			n++
		}
	}
	return n
}

func (h *Hub) BroadcastToOperators(message *feed.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.Role == feed.RoleOperator {
			trySend(c, message)
		}
	}
}

func (h *Hub) SendToOrder(orderID uuid.UUID, message *feed.Message) error {
	h.mu.RLock()
	clientID, ok := h.byOrder[orderID]
	var c *feed.Client
	if ok {
		c = h.clients[clientID]
	}
	h.mu.RUnlock()
	if c == nil {
		return feed.ErrClientNotFound
	}
	if !trySend(c, message) {
		return feed.ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
	for id := range h.byOrder {
		delete(h.byOrder, id)
	}
}

func trySend(c *feed.Client, msg *feed.Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
