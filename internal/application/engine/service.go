package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verify-hub/verify-hub/internal/application/alert"
	"github.com/verify-hub/verify-hub/internal/domain/feed"
	"github.com/verify-hub/verify-hub/internal/domain/order"
)

// ErrUnknownAction marks an operator command outside the command surface.
var ErrUnknownAction = errors.New("unknown operator action")

const (
	// ArchiveReasonCompleted marks sessions retired by final approval.
	ArchiveReasonCompleted = "completed"
	// ArchiveReasonTerminated marks operator-initiated termination.
	ArchiveReasonTerminated = "operator terminated"
	// ArchiveReasonIdle marks sessions retired by the idle sweeper.
	ArchiveReasonIdle = "idle timeout"
)

// Service is the state machine engine: the only component that mutates
// session state. Every customer submission and operator command goes through
// applyEvent, which resolves the transition table under the store's
// per-order lock and then pushes the result to the feeds.
type Service struct {
	repo   order.Repository
	hub    feed.Hub
	alerts *alert.Service
	logger zerolog.Logger
}

// NewService creates the engine.
func NewService(repo order.Repository, hub feed.Hub, alerts *alert.Service, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		hub:    hub,
		alerts: alerts,
		logger: logger.With().Str("service", "engine").Logger(),
	}
}

// CouponSubmission is the customer's coupon-stage payload.
type CouponSubmission struct {
	Shipping  order.Snapshot
	Coupon    order.CouponSnapshot
	CartTotal float64
}

// OperatorView is the feed payload pushed to operator consoles.
type OperatorView struct {
	OrderID   uuid.UUID    `json:"order_id"`
	Status    order.Status `json:"status"`
	Snapshot  SnapshotView `json:"snapshot"`
	Flags     []string     `json:"flags,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SnapshotView is the operator-visible session snapshot.
type SnapshotView struct {
	Shipping  order.Snapshot        `json:"shipping"`
	Coupon    *order.CouponSnapshot `json:"coupon,omitempty"`
	SMSCode   *string               `json:"sms_code,omitempty"`
	PINCode   *string               `json:"pin_code,omitempty"`
	CartTotal float64               `json:"cart_total"`
}

// CustomerView is the feed payload pushed to the owning customer.
type CustomerView struct {
	Status  order.Status `json:"status"`
	Message string       `json:"message,omitempty"`
}

// CreateSession creates a session from the first coupon-stage submission.
// cart_total is captured here and never changes afterwards.
func (s *Service) CreateSession(ctx context.Context, tokenHash string, in CouponSubmission) (*order.Session, error) {
	coupon := in.Coupon
	sess := order.NewSession(tokenHash, in.Shipping, &coupon, in.CartTotal)
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info().Str("order_id", sess.OrderID.String()).Float64("cart_total", sess.CartTotal).Msg("session created")
	s.push(sess, order.Edge{To: sess.Status})
	return sess, nil
}

// ResubmitCoupon handles coupon-stage resubmission after a reject or return.
func (s *Service) ResubmitCoupon(ctx context.Context, orderID uuid.UUID, in CouponSubmission) (*order.Session, error) {
	return s.applyEvent(ctx, orderID, order.ActorCustomer, order.EventSubmitCoupon, func(sess *order.Session) {
		coupon := in.Coupon
		sess.Coupon = &coupon
		if sess.Shipping == nil {
			sess.Shipping = order.Snapshot{}
		}
		sess.Shipping.Merge(in.Shipping)
	})
}

// SubmitSMS records the one-time SMS code.
func (s *Service) SubmitSMS(ctx context.Context, orderID uuid.UUID, code string) (*order.Session, error) {
	return s.applyEvent(ctx, orderID, order.ActorCustomer, order.EventSubmitSMS, func(sess *order.Session) {
		sess.SMSCode = &code
	})
}

// SubmitPIN records the secondary PIN.
func (s *Service) SubmitPIN(ctx context.Context, orderID uuid.UUID, code string) (*order.Session, error) {
	return s.applyEvent(ctx, orderID, order.ActorCustomer, order.EventSubmitPIN, func(sess *order.Session) {
		sess.PINCode = &code
	})
}

// Command executes an operator action against a session. The operator name
// is carried for the audit log only.
func (s *Service) Command(ctx context.Context, orderID uuid.UUID, operator, action string) (*order.Session, error) {
	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("operator", operator).
		Str("action", action).
		Msg("operator command")

	var event order.EventKind
	switch action {
	case "approve":
		event = order.EventApprove
	case "reject":
		event = order.EventReject
	case "return_coupon":
		event = order.EventReturnCoupon
	case "request_pin":
		event = order.EventRequestPIN
	case "terminate":
		return s.Terminate(ctx, orderID, ArchiveReasonTerminated)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return s.applyEvent(ctx, orderID, order.ActorOperator, event, nil)
}

// Terminate forcibly retires a session outside the transition table.
func (s *Service) Terminate(ctx context.Context, orderID uuid.UUID, reason string) (*order.Session, error) {
	sess, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Archive(ctx, orderID, reason); err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", orderID.String()).Str("reason", reason).Msg("session terminated")
	s.pushArchived(sess, reason)
	return sess, nil
}

// ExpireIdle archives sessions with no activity past the threshold. A zero
// or negative threshold disables the sweep.
func (s *Service) ExpireIdle(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	sessions, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	expired := 0
	for _, sess := range sessions {
		if !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.repo.Archive(ctx, sess.OrderID, ArchiveReasonIdle); err != nil {
			s.logger.Warn().Err(err).Str("order_id", sess.OrderID.String()).Msg("idle archive failed")
			continue
		}
		s.pushArchived(sess, ArchiveReasonIdle)
		expired++
	}
	return expired, nil
}

// GetSession returns the authoritative session state.
func (s *Service) GetSession(ctx context.Context, orderID uuid.UUID) (*order.Session, error) {
	return s.repo.GetByID(ctx, orderID)
}

// SessionByToken resolves a customer token hash to its session.
func (s *Service) SessionByToken(ctx context.Context, tokenHash string) (*order.Session, error) {
	return s.repo.GetByTokenHash(ctx, tokenHash)
}

// ActiveSessions lists all non-archived sessions for operator rehydration.
func (s *Service) ActiveSessions(ctx context.Context) ([]*order.Session, error) {
	return s.repo.ListActive(ctx)
}

// OperatorViewOf builds the operator feed payload for a session.
func (s *Service) OperatorViewOf(sess *order.Session) OperatorView {
	return s.operatorView(sess, sess.Status)
}

// CustomerViewOf builds the customer feed payload for a session.
func (s *Service) CustomerViewOf(sess *order.Session) CustomerView {
	return CustomerView{Status: sess.Status, Message: customerMessage(sess.Status)}
}

func (s *Service) applyEvent(ctx context.Context, orderID uuid.UUID, actor order.Actor, event order.EventKind, set func(*order.Session)) (*order.Session, error) {
	var edge order.Edge
	sess, err := s.repo.Apply(ctx, orderID, func(cur *order.Session) error {
		e, err := order.Transition(cur.Status, actor, event)
		if err != nil {
			return err
		}
		edge = e
		// Field clear, mutation, and status advance are one atomic step;
		// no observer can see the intermediate.
		cur.ApplyClear(e.Clear)
		if set != nil {
			set(cur)
		}
		cur.Status = e.To
		cur.Touch(time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("actor", string(actor)).
		Str("event", string(event)).
		Str("status", string(sess.Status)).
		Msg("transition applied")

	if sess.IsTerminal() {
		if err := s.repo.Archive(ctx, sess.OrderID, ArchiveReasonCompleted); err != nil {
			s.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("archive of completed session failed")
		}
	}
	s.push(sess, edge)
	return sess, nil
}

// push delivers the transition to all feeds: the observed-once notice first
// (if the edge carries one), then the settled state.
func (s *Service) push(sess *order.Session, edge order.Edge) {
	if edge.Notice != "" {
		s.pushState(sess, edge.Notice)
	}
	s.pushState(sess, sess.Status)
}

func (s *Service) pushState(sess *order.Session, status order.Status) {
	if opData, err := json.Marshal(s.operatorView(sess, status)); err == nil {
		s.hub.BroadcastToOperators(feed.NewMessage("session", opData))
	}
	custData, err := json.Marshal(CustomerView{Status: status, Message: customerMessage(status)})
	if err != nil {
		return
	}
	if err := s.hub.SendToOrder(sess.OrderID, feed.NewMessage("status", custData)); err != nil {
		// Delivery miss: the customer is disconnected and will rehydrate.
		s.logger.Debug().Str("order_id", sess.OrderID.String()).Msg("customer push missed")
	}
}

func (s *Service) pushArchived(sess *order.Session, reason string) {
	opData, err := json.Marshal(map[string]interface{}{
		"order_id": sess.OrderID,
		"status":   sess.Status,
		"archived": true,
		"reason":   reason,
	})
	if err == nil {
		s.hub.BroadcastToOperators(feed.NewMessage("archived", opData))
	}
	custData, err := json.Marshal(CustomerView{Status: sess.Status, Message: "your session was closed"})
	if err == nil {
		_ = s.hub.SendToOrder(sess.OrderID, feed.NewMessage("status", custData))
	}
}

func (s *Service) operatorView(sess *order.Session, status order.Status) OperatorView {
	var flags []string
	if s.alerts != nil {
		flags = s.alerts.Evaluate(sess)
	}
	return OperatorView{
		OrderID: sess.OrderID,
		Status:  status,
		Snapshot: SnapshotView{
			Shipping:  sess.Shipping,
			Coupon:    sess.Coupon,
			SMSCode:   sess.SMSCode,
			PINCode:   sess.PINCode,
			CartTotal: sess.CartTotal,
		},
		Flags:     flags,
		UpdatedAt: sess.UpdatedAt,
	}
}

func customerMessage(status order.Status) string {
	switch status {
	case order.StatusRejected:
		return "verification failed, please retry"
	case order.StatusReturnCoupon:
		return "please correct your details and resubmit"
	case order.StatusCompleted:
		return "verification complete"
	default:
		return ""
	}
}
