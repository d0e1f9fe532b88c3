package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verify-hub/verify-hub/internal/domain/feed"
	"github.com/verify-hub/verify-hub/internal/domain/order"
	"github.com/verify-hub/verify-hub/internal/infrastructure/memory"
	"github.com/verify-hub/verify-hub/internal/infrastructure/sse"
)

func newTestRelay(t *testing.T, window time.Duration) (*Service, *memory.OrderStore, *sse.Hub, *feed.Client) {
	t.Helper()
	store := memory.NewOrderStore()
	hub := sse.NewHub()
	t.Cleanup(hub.Stop)
	op := feed.NewOperatorClient("op-1")
	hub.Register(op)
	return NewService(store, hub, window, zerolog.Nop()), store, hub, op
}

func fieldUpdates(t *testing.T, c *feed.Client) []FieldUpdate {
	t.Helper()
	var updates []FieldUpdate
	for {
		select {
		case msg := <-c.MessageChan:
			var u FieldUpdate
			require.NoError(t, json.Unmarshal(msg.Data, &u))
			updates = append(updates, u)
		default:
			return updates
		}
	}
}

func TestService_PublishMergesAndBroadcasts(t *testing.T) {
	svc, store, _, op := newTestRelay(t, 0)
	ctx := context.Background()

	sess := order.NewSession("hash", nil, nil, 10)
	require.NoError(t, store.Create(ctx, sess))

	now := time.Now().UTC()
	err := svc.Publish(ctx, sess.OrderID, order.Snapshot{
		"city": {Value: "Berlin", UpdatedAt: now},
	})
	require.NoError(t, err)

	updates := fieldUpdates(t, op)
	require.Len(t, updates, 1)
	assert.Equal(t, sess.OrderID, updates[0].OrderID)
	assert.Equal(t, "Berlin", updates[0].Shipping["city"].Value)

	// Snapshot is persisted for rehydration.
	stored, err := store.GetByID(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Berlin", stored.Shipping["city"].Value)
}

func TestService_LastWriteWinsPerField(t *testing.T) {
	svc, store, _, _ := newTestRelay(t, 0)
	ctx := context.Background()

	sess := order.NewSession("hash", nil, nil, 10)
	require.NoError(t, store.Create(ctx, sess))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Publish(ctx, sess.OrderID, order.Snapshot{
		"city": {Value: "newer", UpdatedAt: base.Add(time.Second)},
	}))
	// An out-of-order patch with an older timestamp loses.
	require.NoError(t, svc.Publish(ctx, sess.OrderID, order.Snapshot{
		"city": {Value: "older", UpdatedAt: base},
	}))

	stored, err := store.GetByID(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "newer", stored.Shipping["city"].Value)
}

func TestService_ThrottleCoalescesBursts(t *testing.T) {
	svc, store, _, op := newTestRelay(t, 40*time.Millisecond)
	ctx := context.Background()

	sess := order.NewSession("hash", nil, nil, 10)
	require.NoError(t, store.Create(ctx, sess))

	base := time.Now().UTC()
	for i, v := range []string{"B", "Be", "Ber", "Berl"} {
		require.NoError(t, svc.Publish(ctx, sess.OrderID, order.Snapshot{
			"city": {Value: v, UpdatedAt: base.Add(time.Duration(i) * time.Millisecond)},
		}))
	}

	time.Sleep(100 * time.Millisecond)

	updates := fieldUpdates(t, op)
	// Leading push plus one trailing push with the final value.
	require.Len(t, updates, 2)
	assert.Equal(t, "B", updates[0].Shipping["city"].Value)
	assert.Equal(t, "Berl", updates[1].Shipping["city"].Value)
}

func TestService_PublishValidation(t *testing.T) {
	svc, store, _, op := newTestRelay(t, 0)
	ctx := context.Background()

	// Unknown order.
	err := svc.Publish(ctx, uuid.New(), order.Snapshot{"a": {Value: "x"}})
	assert.ErrorIs(t, err, order.ErrNotFound)

	// Empty patch is a no-op.
	sess := order.NewSession("hash", nil, nil, 10)
	require.NoError(t, store.Create(ctx, sess))
	require.NoError(t, svc.Publish(ctx, sess.OrderID, nil))
	assert.Empty(t, fieldUpdates(t, op))
}

func TestService_PublishRejectedAfterCompletion(t *testing.T) {
	svc, store, _, _ := newTestRelay(t, 0)
	ctx := context.Background()

	sess := order.NewSession("hash", nil, nil, 10)
	sess.Status = order.StatusCompleted
	require.NoError(t, store.Create(ctx, sess))

	err := svc.Publish(ctx, sess.OrderID, order.Snapshot{"a": {Value: "x", UpdatedAt: time.Now().UTC()}})
	assert.ErrorIs(t, err, order.ErrSessionCompleted)
}
