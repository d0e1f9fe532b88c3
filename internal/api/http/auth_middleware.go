package httpapi

import (
	"context"
	"net/http"
	"strings"

	appAuth "github.com/verify-hub/verify-hub/internal/application/auth"
	"github.com/verify-hub/verify-hub/internal/domain/order"
)

type contextKey string

const (
	ctxKeySession  contextKey = "orderSession"
	ctxKeyOperator contextKey = "operatorName"
)

// requireOrderToken resolves the X-Order-Token header (or order_token query
// parameter, for EventSource clients that cannot set headers) to the owning
// session.
func (s *Server) requireOrderToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Order-Token")
		if token == "" {
			token = r.URL.Query().Get("order_token")
		}
		if token == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "order token required")
			return
		}
		sess, err := s.engineSvc.SessionByToken(r.Context(), appAuth.HashOrderToken(token))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid order token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeySession, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireOperator validates the operator JWT from the Authorization header
// or the access_token query parameter.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("access_token")
		}
		username, err := s.authSvc.VerifyOperator(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid operator token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyOperator, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *order.Session {
	sess, _ := ctx.Value(ctxKeySession).(*order.Session)
	return sess
}

func operatorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(ctxKeyOperator).(string)
	return name
}
