package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verify-hub/verify-hub/internal/domain/order"
)

type entry struct {
	mu   sync.Mutex
	sess *order.Session
}

type archived struct {
	sess       *order.Session
	reason     string
	archivedAt time.Time
}

// OrderStore is an in-memory order.Repository used when no database is
// configured. Each order has its own mutex, so Apply serializes writers
// per order while leaving other orders fully parallel.
type OrderStore struct {
	mu      sync.RWMutex
	active  map[uuid.UUID]*entry
	archive []archived
	nextID  int64
}

func NewOrderStore() *OrderStore {
	return &OrderStore{active: make(map[uuid.UUID]*entry)}
}

func (s *OrderStore) Create(_ context.Context, sess *order.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess.ID = s.nextID
	s.active[sess.OrderID] = &entry{sess: sess.Clone()}
	return nil
}

func (s *OrderStore) GetByID(_ context.Context, orderID uuid.UUID) (*order.Session, error) {
	s.mu.RLock()
	e, ok := s.active[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

func (s *OrderStore) GetByTokenHash(_ context.Context, tokenHash string) (*order.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.active {
		e.mu.Lock()
		match := e.sess.TokenHash == tokenHash
		var cp *order.Session
		if match {
			cp = e.sess.Clone()
		}
		e.mu.Unlock()
		if match {
			return cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (s *OrderStore) ListActive(_ context.Context) ([]*order.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*order.Session, 0, len(s.active))
	for _, e := range s.active {
		e.mu.Lock()
		out = append(out, e.sess.Clone())
		e.mu.Unlock()
	}
	return out, nil
}

func (s *OrderStore) Apply(_ context.Context, orderID uuid.UUID, mutate func(*order.Session) error) (*order.Session, error) {
	s.mu.RLock()
	e, ok := s.active[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	work := e.sess.Clone()
	if err := mutate(work); err != nil {
		return nil, err
	}
	e.sess = work
	return work.Clone(), nil
}

func (s *OrderStore) Archive(_ context.Context, orderID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[orderID]
	if !ok {
		return order.ErrNotFound
	}
	e.mu.Lock()
	sess := e.sess.Clone()
	e.mu.Unlock()
	s.archive = append(s.archive, archived{sess: sess, reason: reason, archivedAt: time.Now().UTC()})
	delete(s.active, orderID)
	return nil
}

// ArchivedCount reports how many sessions were retired.
func (s *OrderStore) ArchivedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archive)
}
