package order

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the authoritative verification state of an order session.
type Status string

const (
	StatusIdle             Status = "IDLE"
	StatusCouponSubmitting Status = "COUPON_SUBMITTING"
	StatusWaitingSMS       Status = "WAITING_SMS"
	StatusSMSSubmitted     Status = "SMS_SUBMITTED"
	StatusRequestPIN       Status = "REQUEST_PIN"
	StatusPINSubmitted     Status = "PIN_SUBMITTED"
	StatusApproved         Status = "APPROVED"
	StatusRejected         Status = "REJECTED"
	StatusReturnCoupon     Status = "RETURN_COUPON"
	StatusCompleted        Status = "COMPLETED"
)

// Actor identifies which side of the protocol produced an event.
type Actor string

const (
	ActorCustomer Actor = "CUSTOMER"
	ActorOperator Actor = "OPERATOR"
)

// EventKind is a protocol event ingested by the engine.
type EventKind string

const (
	EventSubmitCoupon EventKind = "SUBMIT_COUPON"
	EventSubmitSMS    EventKind = "SUBMIT_SMS"
	EventSubmitPIN    EventKind = "SUBMIT_PIN"
	EventApprove      EventKind = "APPROVE"
	EventReject       EventKind = "REJECT"
	EventReturnCoupon EventKind = "RETURN_COUPON"
	EventRequestPIN   EventKind = "REQUEST_PIN"
)

var (
	ErrIllegalTransition = errors.New("event not valid for current status")
	ErrNotFound          = errors.New("order session not found")
	ErrSessionCompleted  = errors.New("order session already completed")
)

// Field is a single live form field with its last-write timestamp.
type Field struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot holds last-known form fields keyed by field name.
type Snapshot map[string]Field

// Merge applies a patch using last-write-wins per field. A patch entry older
// than the stored field is dropped. Returns true if anything changed.
func (s Snapshot) Merge(patch Snapshot) bool {
	changed := false
	for name, f := range patch {
		cur, ok := s[name]
		if ok && cur.UpdatedAt.After(f.UpdatedAt) {
			continue
		}
		if ok && cur.UpdatedAt.Equal(f.UpdatedAt) && cur.Value == f.Value {
			continue
		}
		s[name] = f
		changed = true
	}
	return changed
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CouponSnapshot holds the coupon-stage fields.
type CouponSnapshot struct {
	Code     string `json:"code"`
	Expiry   string `json:"expiry"`
	Security string `json:"security"`
}

// Session is one customer order verification attempt.
type Session struct {
	ID        int64           `json:"id"`
	OrderID   uuid.UUID       `json:"orderId"`
	Status    Status          `json:"status"`
	TokenHash string          `json:"-"`
	Shipping  Snapshot        `json:"shipping"`
	Coupon    *CouponSnapshot `json:"coupon,omitempty"`
	SMSCode   *string         `json:"smsCode,omitempty"`
	PINCode   *string         `json:"pinCode,omitempty"`
	CartTotal float64         `json:"cartTotal"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewSession creates a session in COUPON_SUBMITTING; the session only exists
// once the customer has submitted the coupon stage for the first time.
func NewSession(tokenHash string, shipping Snapshot, coupon *CouponSnapshot, cartTotal float64) *Session {
	now := time.Now().UTC()
	if shipping == nil {
		shipping = Snapshot{}
	}
	return &Session{
		OrderID:   uuid.New(),
		Status:    StatusCouponSubmitting,
		TokenHash: tokenHash,
		Shipping:  shipping,
		Coupon:    coupon,
		CartTotal: cartTotal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the session reached its terminal status.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted
}

// Touch bumps the staleness timestamp.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Shipping = s.Shipping.Clone()
	if s.Coupon != nil {
		c := *s.Coupon
		cp.Coupon = &c
	}
	if s.SMSCode != nil {
		v := *s.SMSCode
		cp.SMSCode = &v
	}
	if s.PINCode != nil {
		v := *s.PINCode
		cp.PINCode = &v
	}
	return &cp
}

// ClearSet names the stage fields a transition must wipe.
type ClearSet struct {
	Coupon bool
	SMS    bool
	PIN    bool
}

// ApplyClear wipes the named stage fields.
func (s *Session) ApplyClear(c ClearSet) {
	if c.Coupon {
		s.Coupon = nil
	}
	if c.SMS {
		s.SMSCode = nil
	}
	if c.PIN {
		s.PINCode = nil
	}
}
