package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role distinguishes the two feed audiences.
type Role string

const (
	RoleOperator Role = "OPERATOR"
	RoleCustomer Role = "CUSTOMER"
)

var (
	ErrClientNotFound = errors.New("feed client not found")
	ErrChannelFull    = errors.New("feed message channel full")
)

// Client is an active feed connection. Operators observe every order;
// a customer client is bound to exactly one order.
type Client struct {
	ClientID    string
	Role        Role
	OrderID     *uuid.UUID
	ConnectedAt time.Time
	MessageChan chan *Message
}

// NewOperatorClient creates a client subscribed to all active orders.
func NewOperatorClient(clientID string) *Client {
	return &Client{
		ClientID:    clientID,
		Role:        RoleOperator,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

// NewCustomerClient creates a client bound to a single order.
func NewCustomerClient(clientID string, orderID uuid.UUID) *Client {
	return &Client{
		ClientID:    clientID,
		Role:        RoleCustomer,
		OrderID:     &orderID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

// Close closes the client's message channel.
func (c *Client) Close() {
	close(c.MessageChan)
}

// Message is a single feed push.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a feed message.
func NewMessage(event string, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Hub routes feed messages to connected clients. Delivery is at-most-once
// per connection: a disconnected or slow recipient misses the push and
// recovers by rehydrating on reconnect.
type Hub interface {
	Register(client *Client)
	Unregister(clientID string)
	GetClient(clientID string) *Client
	OperatorCount() int

	BroadcastToOperators(message *Message)
	SendToOrder(orderID uuid.UUID, message *Message) error

	Stop()
}
