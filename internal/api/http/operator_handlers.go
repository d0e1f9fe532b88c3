package httpapi

import (
	"net/http"

	appAuth "github.com/verify-hub/verify-hub/internal/application/auth"
	appEngine "github.com/verify-hub/verify-hub/internal/application/engine"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type commandRequest struct {
	Action string `json:"action"`
}

func (s *Server) operatorLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	token, err := s.authSvc.OperatorLogin(req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", appAuth.ErrInvalidCredentials.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engineSvc.ActiveSessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	views := make([]appEngine.OperatorView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.engineSvc.OperatorViewOf(sess))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUIDParam(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid orderId")
		return
	}
	sess, err := s.engineSvc.GetSession(r.Context(), orderID)
	if err != nil {
		status, code := engineErrStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.engineSvc.OperatorViewOf(sess))
}

func (s *Server) sessionCommand(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUIDParam(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid orderId")
		return
	}
	var req commandRequest
	if err := decodeBody(r, &req); err != nil || req.Action == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "action is required")
		return
	}

	sess, err := s.engineSvc.Command(r.Context(), orderID, operatorFromContext(r.Context()), req.Action)
	if err != nil {
		status, code := engineErrStatus(err)
		respondError(w, status, code, err.Error())
		return
	}

	// For terminate this reports the last status the session held.
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": sess.OrderID,
		"status":   sess.Status,
	})
}
