package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verify-hub/verify-hub/internal/domain/feed"
	"github.com/verify-hub/verify-hub/internal/domain/order"
)

// Service relays in-progress form input from the customer to operator
// consoles. Patches merge last-write-wins per field into the shipping
// snapshot and are persisted through the store, so rehydration always sees
// the latest input. Broadcasts are throttled per order: the first patch in
// a window goes out immediately, later ones coalesce into one trailing
// push carrying the newest snapshot.
type Service struct {
	repo   order.Repository
	hub    feed.Hub
	window time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*throttleState
}

type throttleState struct {
	scheduled bool
	latest    *order.Session
	sent      *order.Session
}

// FieldUpdate is the operator feed payload for a live field patch.
type FieldUpdate struct {
	OrderID   uuid.UUID      `json:"order_id"`
	Status    order.Status   `json:"status"`
	Shipping  order.Snapshot `json:"shipping"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewService creates the relay. A zero window disables throttling.
func NewService(repo order.Repository, hub feed.Hub, window time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		hub:     hub,
		window:  window,
		logger:  logger.With().Str("service", "relay").Logger(),
		pending: make(map[uuid.UUID]*throttleState),
	}
}

// Publish merges a field patch and notifies operators. Independent of
// status transitions: it never advances the state machine.
func (s *Service) Publish(ctx context.Context, orderID uuid.UUID, patch order.Snapshot) error {
	if len(patch) == 0 {
		return nil
	}
	sess, err := s.repo.Apply(ctx, orderID, func(cur *order.Session) error {
		if cur.IsTerminal() {
			return order.ErrSessionCompleted
		}
		if cur.Shipping == nil {
			cur.Shipping = order.Snapshot{}
		}
		if cur.Shipping.Merge(patch) {
			cur.Touch(time.Now().UTC())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.window <= 0 {
		s.broadcast(sess)
		return nil
	}
	s.enqueue(sess)
	return nil
}

func (s *Service) enqueue(sess *order.Session) {
	s.mu.Lock()
	st, ok := s.pending[sess.OrderID]
	if !ok {
		st = &throttleState{}
		s.pending[sess.OrderID] = st
	}
	st.latest = sess
	if st.scheduled {
		s.mu.Unlock()
		return
	}
	st.scheduled = true
	st.sent = sess
	s.mu.Unlock()

	s.broadcast(sess)
	orderID := sess.OrderID
	time.AfterFunc(s.window, func() { s.flushTrailing(orderID) })
}

func (s *Service) flushTrailing(orderID uuid.UUID) {
	s.mu.Lock()
	st, ok := s.pending[orderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.scheduled = false
	latest := st.latest
	changed := latest != st.sent
	if changed {
		st.sent = latest
	}
	s.mu.Unlock()
	if changed {
		s.broadcast(latest)
	}
}

func (s *Service) broadcast(sess *order.Session) {
	data, err := json.Marshal(FieldUpdate{
		OrderID:   sess.OrderID,
		Status:    sess.Status,
		Shipping:  sess.Shipping,
		UpdatedAt: sess.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("marshal field update failed")
		return
	}
	s.hub.BroadcastToOperators(feed.NewMessage("fields", data))
}
