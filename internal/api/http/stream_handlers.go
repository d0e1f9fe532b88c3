package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/verify-hub/verify-hub/internal/domain/feed"
)

// customerStream is the customer's SSE feed. The first frame always carries
// the authoritative current status: until it arrives a reloading page must
// treat its status as unknown, which prevents a stale tab restarting the
// flow from IDLE.
func (s *Server) customerStream(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := feed.NewCustomerClient(uuid.New().String(), sess.OrderID)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client.ClientID)

	writeStreamHeaders(w)
	flusher.Flush()

	// Rehydrate: push server-side truth, never a client-cached value. Read
	// fresh state after registration so a transition applied in between is
	// not lost.
	current, err := s.engineSvc.GetSession(r.Context(), sess.OrderID)
	if err != nil {
		// Session archived since token verification; the last word is the
		// stored snapshot the middleware resolved.
		current = sess
	}
	view, _ := json.Marshal(s.engineSvc.CustomerViewOf(current))
	writeFrame(w, feed.NewMessage("status", view))
	flusher.Flush()

	streamLoop(w, flusher, r, client)
}

// operatorStream is the operator console's SSE feed over all active orders.
func (s *Server) operatorStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := feed.NewOperatorClient(uuid.New().String())
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client.ClientID)

	writeStreamHeaders(w)
	flusher.Flush()

	sessions, err := s.engineSvc.ActiveSessions(r.Context())
	if err == nil {
		for _, sess := range sessions {
			view, _ := json.Marshal(s.engineSvc.OperatorViewOf(sess))
			writeFrame(w, feed.NewMessage("session", view))
		}
		flusher.Flush()
	}

	streamLoop(w, flusher, r, client)
}

func writeStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
}

func writeFrame(w http.ResponseWriter, msg *feed.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func streamLoop(w http.ResponseWriter, flusher http.Flusher, r *http.Request, client *feed.Client) {
	ctx := r.Context()
	for {
		select {
		case msg := <-client.MessageChan:
			if msg == nil {
				return
			}
			writeFrame(w, msg)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
