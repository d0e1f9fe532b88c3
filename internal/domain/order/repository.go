package order

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for order verification sessions.
//
// Apply is the only mutation path for an existing session: it runs mutate
// under single-writer-per-order serialization, so concurrent customer and
// operator writes to the same order can never interleave into a torn state.
// If mutate returns an error nothing is persisted and the error is returned
// unchanged.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	ListActive(ctx context.Context) ([]*Session, error)
	Apply(ctx context.Context, orderID uuid.UUID, mutate func(*Session) error) (*Session, error)

	// Archive moves a session out of the active set into the archive bucket.
	// Archived sessions are retained, not deleted.
	Archive(ctx context.Context, orderID uuid.UUID, reason string) error
}
