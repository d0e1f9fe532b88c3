package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/verify-hub/verify-hub/internal/domain/feed"
	"github.com/verify-hub/verify-hub/internal/domain/order"
	"github.com/verify-hub/verify-hub/internal/domain/order/mocks"
	"github.com/verify-hub/verify-hub/internal/infrastructure/memory"
	"github.com/verify-hub/verify-hub/internal/infrastructure/sse"
)

func newTestEngine(t *testing.T) (*Service, *memory.OrderStore, *sse.Hub) {
	t.Helper()
	store := memory.NewOrderStore()
	hub := sse.NewHub()
	t.Cleanup(hub.Stop)
	return NewService(store, hub, nil, zerolog.Nop()), store, hub
}

func submission(code string) CouponSubmission {
	return CouponSubmission{
		Shipping: order.Snapshot{
			"name":  {Value: "Jane Doe", UpdatedAt: time.Now().UTC()},
			"phone": {Value: "+15550100", UpdatedAt: time.Now().UTC()},
		},
		Coupon:    order.CouponSnapshot{Code: code, Expiry: "12/27", Security: "123"},
		CartTotal: 149.90,
	}
}

func drainOperator(t *testing.T, c *feed.Client) []OperatorView {
	t.Helper()
	var views []OperatorView
	for {
		select {
		case msg := <-c.MessageChan:
			if msg.Event != "session" {
				continue
			}
			var v OperatorView
			require.NoError(t, json.Unmarshal(msg.Data, &v))
			views = append(views, v)
		default:
			return views
		}
	}
}

func drainCustomer(t *testing.T, c *feed.Client) []CustomerView {
	t.Helper()
	var views []CustomerView
	for {
		select {
		case msg := <-c.MessageChan:
			var v CustomerView
			require.NoError(t, json.Unmarshal(msg.Data, &v))
			views = append(views, v)
		default:
			return views
		}
	}
}

func TestService_FullVerificationFlow(t *testing.T) {
	svc, store, hub := newTestEngine(t)
	ctx := context.Background()
	op := feed.NewOperatorClient("op-1")
	hub.Register(op)

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCouponSubmitting, sess.Status)

	cust := feed.NewCustomerClient("cust-1", sess.OrderID)
	hub.Register(cust)

	sess, err = svc.Command(ctx, sess.OrderID, "op", "approve")
	require.NoError(t, err)
	assert.Equal(t, order.StatusWaitingSMS, sess.Status)

	sess, err = svc.SubmitSMS(ctx, sess.OrderID, "482913")
	require.NoError(t, err)
	assert.Equal(t, order.StatusSMSSubmitted, sess.Status)
	require.NotNil(t, sess.SMSCode)
	assert.Equal(t, "482913", *sess.SMSCode)

	sess, err = svc.Command(ctx, sess.OrderID, "op", "request_pin")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRequestPIN, sess.Status)

	sess, err = svc.SubmitPIN(ctx, sess.OrderID, "7788")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPINSubmitted, sess.Status)

	sess, err = svc.Command(ctx, sess.OrderID, "op", "approve")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, sess.Status)

	// Completed sessions are retired, not deleted.
	_, err = store.GetByID(ctx, sess.OrderID)
	assert.ErrorIs(t, err, order.ErrNotFound)
	assert.Equal(t, 1, store.ArchivedCount())

	// The approve out of the coupon stage is observed once as APPROVED
	// before the settled WAITING_SMS.
	statuses := make([]order.Status, 0)
	for _, v := range drainOperator(t, op) {
		statuses = append(statuses, v.Status)
	}
	assert.Equal(t, []order.Status{
		order.StatusCouponSubmitting,
		order.StatusApproved,
		order.StatusWaitingSMS,
		order.StatusSMSSubmitted,
		order.StatusRequestPIN,
		order.StatusPINSubmitted,
		order.StatusCompleted,
	}, statuses)
}

func TestService_RejectObservedOnceThenReset(t *testing.T) {
	svc, store, hub := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)

	op := feed.NewOperatorClient("op-1")
	hub.Register(op)
	cust := feed.NewCustomerClient("cust-1", sess.OrderID)
	hub.Register(cust)

	sess, err = svc.Command(ctx, sess.OrderID, "op", "reject")
	require.NoError(t, err)

	// The stored status never sticks in REJECTED and the coupon is cleared.
	assert.Equal(t, order.StatusCouponSubmitting, sess.Status)
	assert.Nil(t, sess.Coupon)
	stored, err := store.GetByID(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCouponSubmitting, stored.Status)
	assert.Nil(t, stored.Coupon)

	opViews := drainOperator(t, op)
	require.Len(t, opViews, 2)
	assert.Equal(t, order.StatusRejected, opViews[0].Status)
	assert.Equal(t, order.StatusCouponSubmitting, opViews[1].Status)
	assert.Nil(t, opViews[0].Snapshot.Coupon)

	custViews := drainCustomer(t, cust)
	require.Len(t, custViews, 2)
	assert.Equal(t, order.StatusRejected, custViews[0].Status)
	assert.Equal(t, "verification failed, please retry", custViews[0].Message)
	assert.Equal(t, order.StatusCouponSubmitting, custViews[1].Status)
	assert.Empty(t, custViews[1].Message)
}

func TestService_RejectFromSMSClearsCodeAndReturnsToWaiting(t *testing.T) {
	svc, store, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)
	_, err = svc.Command(ctx, sess.OrderID, "op", "approve")
	require.NoError(t, err)
	_, err = svc.SubmitSMS(ctx, sess.OrderID, "000000")
	require.NoError(t, err)

	after, err := svc.Command(ctx, sess.OrderID, "op", "reject")
	require.NoError(t, err)
	assert.Equal(t, order.StatusWaitingSMS, after.Status)
	assert.Nil(t, after.SMSCode)
	// Coupon survives an SMS-stage reject.
	assert.NotNil(t, after.Coupon)

	stored, err := store.GetByID(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.Nil(t, stored.SMSCode)
}

func TestService_ReturnCouponFromSMS(t *testing.T) {
	svc, _, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)
	_, err = svc.Command(ctx, sess.OrderID, "op", "approve")
	require.NoError(t, err)
	_, err = svc.SubmitSMS(ctx, sess.OrderID, "482913")
	require.NoError(t, err)

	after, err := svc.Command(ctx, sess.OrderID, "op", "return_coupon")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCouponSubmitting, after.Status)
	assert.Nil(t, after.Coupon)
	assert.Nil(t, after.SMSCode)

	// The customer can now resubmit corrected coupon data.
	after, err = svc.ResubmitCoupon(ctx, sess.OrderID, submission("5500000000000004"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCouponSubmitting, after.Status)
	require.NotNil(t, after.Coupon)
	assert.Equal(t, "5500000000000004", after.Coupon.Code)
}

func TestService_ResubmitSameStageDoesNotAdvance(t *testing.T) {
	svc, _, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)

	again, err := svc.ResubmitCoupon(ctx, sess.OrderID, submission("4111111111111111"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCouponSubmitting, again.Status)
	assert.Equal(t, sess.CartTotal, again.CartTotal)
}

func TestService_IllegalEventLeavesStateUntouched(t *testing.T) {
	svc, store, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)

	_, err = svc.SubmitSMS(ctx, sess.OrderID, "482913")
	assert.ErrorIs(t, err, order.ErrIllegalTransition)

	_, err = svc.SubmitPIN(ctx, sess.OrderID, "7788")
	assert.ErrorIs(t, err, order.ErrIllegalTransition)

	stored, err := store.GetByID(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCouponSubmitting, stored.Status)
	assert.Nil(t, stored.SMSCode)
	assert.Nil(t, stored.PINCode)
}

func TestService_CommandValidation(t *testing.T) {
	svc, _, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)

	_, err = svc.Command(ctx, sess.OrderID, "op", "escalate")
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = svc.Command(ctx, uuid.New(), "op", "approve")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestService_Terminate(t *testing.T) {
	svc, store, hub := newTestEngine(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "hash-1", submission("4111111111111111"))
	require.NoError(t, err)

	op := feed.NewOperatorClient("op-1")
	hub.Register(op)

	_, err = svc.Command(ctx, sess.OrderID, "op", "terminate")
	require.NoError(t, err)

	_, err = store.GetByID(ctx, sess.OrderID)
	assert.ErrorIs(t, err, order.ErrNotFound)
	assert.Equal(t, 1, store.ArchivedCount())

	msg := <-op.MessageChan
	assert.Equal(t, "archived", msg.Event)
}

func TestService_ExpireIdle(t *testing.T) {
	store := memory.NewOrderStore()
	hub := sse.NewHub()
	defer hub.Stop()
	svc := NewService(store, hub, nil, zerolog.Nop())
	ctx := context.Background()

	stale := order.NewSession("hash-stale", nil, nil, 10)
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	stale.UpdatedAt = stale.CreatedAt
	require.NoError(t, store.Create(ctx, stale))

	fresh, err := svc.CreateSession(ctx, "hash-fresh", submission("4111111111111111"))
	require.NoError(t, err)

	n, err := svc.ExpireIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetByID(ctx, stale.OrderID)
	assert.ErrorIs(t, err, order.ErrNotFound)
	_, err = store.GetByID(ctx, fresh.OrderID)
	assert.NoError(t, err)

	// Disabled threshold sweeps nothing.
	n, err = svc.ExpireIdle(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_RepositoryErrorsPropagate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	hub := sse.NewHub()
	defer hub.Stop()
	svc := NewService(repo, hub, nil, zerolog.Nop())
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		repo.EXPECT().Create(ctx, gomock.Any()).Return(errors.New("db down"))
		_, err := svc.CreateSession(ctx, "hash", submission("4111111111111111"))
		assert.ErrorContains(t, err, "db down")
	})

	t.Run("apply", func(t *testing.T) {
		orderID := uuid.New()
		repo.EXPECT().Apply(ctx, orderID, gomock.Any()).Return(nil, errors.New("db down"))
		_, err := svc.SubmitSMS(ctx, orderID, "482913")
		assert.ErrorContains(t, err, "db down")
	})

	t.Run("list active", func(t *testing.T) {
		repo.EXPECT().ListActive(ctx).Return(nil, errors.New("db down"))
		_, err := svc.ExpireIdle(ctx, time.Hour)
		assert.ErrorContains(t, err, "db down")
	})
}
