package httpapi

import (
	"errors"
	"net/http"
	"time"

	appAuth "github.com/verify-hub/verify-hub/internal/application/auth"
	appEngine "github.com/verify-hub/verify-hub/internal/application/engine"
	"github.com/verify-hub/verify-hub/internal/domain/order"
)

type couponPayload struct {
	Code     string `json:"code"`
	Expiry   string `json:"expiry"`
	Security string `json:"security"`
}

type submitCouponRequest struct {
	Shipping  map[string]string `json:"shipping"`
	Coupon    couponPayload     `json:"coupon"`
	CartTotal float64           `json:"cart_total"`
}

type submitCodeRequest struct {
	Code string `json:"code"`
}

type publishFieldsRequest struct {
	Fields map[string]string `json:"fields"`
}

// submitCoupon creates the session on first submission; with an order token
// it resubmits corrected coupon-stage data instead.
func (s *Server) submitCoupon(w http.ResponseWriter, r *http.Request) {
	var req submitCouponRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Coupon.Code == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "coupon code is required")
		return
	}
	if req.CartTotal < 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "cart_total must not be negative")
		return
	}

	in := appEngine.CouponSubmission{
		Shipping:  snapshotFrom(req.Shipping),
		Coupon:    order.CouponSnapshot(req.Coupon),
		CartTotal: req.CartTotal,
	}

	if token := r.Header.Get("X-Order-Token"); token != "" {
		s.resubmitCoupon(w, r, token, in)
		return
	}

	token, hash, err := s.authSvc.IssueOrderToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	sess, err := s.engineSvc.CreateSession(r.Context(), hash, in)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"order_id": sess.OrderID,
		"token":    token,
		"status":   sess.Status,
	})
}

func (s *Server) resubmitCoupon(w http.ResponseWriter, r *http.Request, token string, in appEngine.CouponSubmission) {
	sess, err := s.sessionFromToken(r, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid order token")
		return
	}
	updated, err := s.engineSvc.ResubmitCoupon(r.Context(), sess.OrderID, in)
	if err != nil {
		status, code := engineErrStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": updated.OrderID,
		"status":   updated.Status,
	})
}

func (s *Server) submitSMS(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req submitCodeRequest
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "code is required")
		return
	}
	updated, err := s.engineSvc.SubmitSMS(r.Context(), sess.OrderID, req.Code)
	if err != nil {
		status, code := engineErrStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": updated.Status})
}

func (s *Server) submitPIN(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req submitCodeRequest
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "code is required")
		return
	}
	updated, err := s.engineSvc.SubmitPIN(r.Context(), sess.OrderID, req.Code)
	if err != nil {
		status, code := engineErrStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": updated.Status})
}

func (s *Server) publishFields(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req publishFieldsRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if len(req.Fields) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "fields must not be empty")
		return
	}
	if err := s.relaySvc.Publish(r.Context(), sess.OrderID, snapshotFrom(req.Fields)); err != nil {
		status, code := engineErrStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *Server) sessionFromToken(r *http.Request, token string) (*order.Session, error) {
	return s.engineSvc.SessionByToken(r.Context(), appAuth.HashOrderToken(token))
}

func snapshotFrom(fields map[string]string) order.Snapshot {
	now := time.Now().UTC()
	snap := make(order.Snapshot, len(fields))
	for name, value := range fields {
		snap[name] = order.Field{Value: value, UpdatedAt: now}
	}
	return snap
}

func engineErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, order.ErrIllegalTransition):
		return http.StatusConflict, "ILLEGAL_TRANSITION"
	case errors.Is(err, order.ErrSessionCompleted):
		return http.StatusConflict, "SESSION_COMPLETED"
	case errors.Is(err, appEngine.ErrUnknownAction):
		return http.StatusBadRequest, "INVALID_PARAM"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
