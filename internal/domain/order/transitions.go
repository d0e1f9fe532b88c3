package order

// Edge is a single allowed transition in the verification state machine.
type Edge struct {
	From  Status
	Actor Actor
	Event EventKind

	// To is the settled status persisted after the transition. Notice, when
	// set, is an observed-once intermediate (REJECTED, RETURN_COUPON,
	// APPROVED) delivered to feeds before the settled status; it is never
	// stored. Clear names the stage fields wiped in the same atomic step.
	To     Status
	Notice Status
	Clear  ClearSet
}

var transitionTable = []Edge{
	// Coupon stage. First submission creates the session; resubmission is a
	// self-loop so identical data never advances the status. The REJECTED and
	// RETURN_COUPON entries are defensive: the compensating auto-reset means
	// a stored session is never observed in either status.
	{From: StatusIdle, Actor: ActorCustomer, Event: EventSubmitCoupon, To: StatusCouponSubmitting},
	{From: StatusCouponSubmitting, Actor: ActorCustomer, Event: EventSubmitCoupon, To: StatusCouponSubmitting},
	{From: StatusRejected, Actor: ActorCustomer, Event: EventSubmitCoupon, To: StatusCouponSubmitting},
	{From: StatusReturnCoupon, Actor: ActorCustomer, Event: EventSubmitCoupon, To: StatusCouponSubmitting},

	{From: StatusCouponSubmitting, Actor: ActorOperator, Event: EventReject, To: StatusCouponSubmitting, Notice: StatusRejected, Clear: ClearSet{Coupon: true}},
	{From: StatusCouponSubmitting, Actor: ActorOperator, Event: EventReturnCoupon, To: StatusCouponSubmitting, Notice: StatusReturnCoupon, Clear: ClearSet{Coupon: true}},
	{From: StatusCouponSubmitting, Actor: ActorOperator, Event: EventApprove, To: StatusWaitingSMS, Notice: StatusApproved},

	// SMS stage.
	{From: StatusWaitingSMS, Actor: ActorCustomer, Event: EventSubmitSMS, To: StatusSMSSubmitted},
	{From: StatusSMSSubmitted, Actor: ActorOperator, Event: EventReject, To: StatusWaitingSMS, Notice: StatusRejected, Clear: ClearSet{SMS: true}},
	{From: StatusSMSSubmitted, Actor: ActorOperator, Event: EventReturnCoupon, To: StatusCouponSubmitting, Notice: StatusReturnCoupon, Clear: ClearSet{Coupon: true, SMS: true}},
	{From: StatusSMSSubmitted, Actor: ActorOperator, Event: EventRequestPIN, To: StatusRequestPIN},

	// PIN stage.
	{From: StatusRequestPIN, Actor: ActorCustomer, Event: EventSubmitPIN, To: StatusPINSubmitted},
	{From: StatusPINSubmitted, Actor: ActorOperator, Event: EventReject, To: StatusWaitingSMS, Notice: StatusRejected, Clear: ClearSet{SMS: true, PIN: true}},
	{From: StatusPINSubmitted, Actor: ActorOperator, Event: EventReturnCoupon, To: StatusCouponSubmitting, Notice: StatusReturnCoupon, Clear: ClearSet{Coupon: true, SMS: true, PIN: true}},
	{From: StatusPINSubmitted, Actor: ActorOperator, Event: EventApprove, To: StatusCompleted},
}

// Transition resolves the edge for (from, actor, event). Events outside the
// current status's allowed set return ErrIllegalTransition and must leave the
// session untouched.
func Transition(from Status, actor Actor, event EventKind) (Edge, error) {
	for _, e := range transitionTable {
		if e.From == from && e.Actor == actor && e.Event == event {
			return e, nil
		}
	}
	return Edge{}, ErrIllegalTransition
}
