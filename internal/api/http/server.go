package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	appAuth "github.com/verify-hub/verify-hub/internal/application/auth"
	appEngine "github.com/verify-hub/verify-hub/internal/application/engine"
	appRelay "github.com/verify-hub/verify-hub/internal/application/relay"
	"github.com/verify-hub/verify-hub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	engineSvc   *appEngine.Service
	relaySvc    *appRelay.Service
	authSvc     *appAuth.Service
	sseHub      *sse.Hub
	corsOrigins []string
}

func NewServer(
	engineSvc *appEngine.Service,
	relaySvc *appRelay.Service,
	authSvc *appAuth.Service,
	sseHub *sse.Hub,
	corsOrigins []string,
) *Server {
	return &Server{
		engineSvc:   engineSvc,
		relaySvc:    relaySvc,
		authSvc:     authSvc,
		sseHub:      sseHub,
		corsOrigins: corsOrigins,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Order-Token"},
		AllowCredentials: true,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			// Coupon submission is reachable pre-session; the other
			// endpoints require the per-order token.
			r.With(middleware.Timeout(15 * time.Second)).Post("/coupon", s.submitCoupon)
			r.Group(func(r chi.Router) {
				r.Use(s.requireOrderToken)
				r.With(middleware.Timeout(15*time.Second)).Post("/sms", s.submitSMS)
				r.With(middleware.Timeout(15*time.Second)).Post("/pin", s.submitPIN)
				r.With(middleware.Timeout(15*time.Second)).Post("/fields", s.publishFields)
				r.Get("/stream", s.customerStream)
			})
		})

		r.Route("/operator", func(r chi.Router) {
			r.With(middleware.Timeout(15 * time.Second)).Post("/login", s.operatorLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.requireOperator)
				r.With(middleware.Timeout(15*time.Second)).Get("/sessions", s.listSessions)
				r.With(middleware.Timeout(15*time.Second)).Get("/sessions/{orderId}", s.getSession)
				r.With(middleware.Timeout(15*time.Second)).Post("/sessions/{orderId}/command", s.sessionCommand)
				r.Get("/stream", s.operatorStream)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
