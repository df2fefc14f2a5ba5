package server

import (
	"net/http"

	"github.com/eurofxref/rates-api/internal/rates"
)

// SyncTrigger wakes the background synchronizer out of turn. POST /api/v1/sync
// uses it to request a cycle without waiting for the next scheduled tick.
type SyncTrigger interface {
	Notify()
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(rateSvc *rates.Service, syncer SyncTrigger, ready func() bool) http.Handler {
	return newMux(rateSvc, syncer, ready)
}

func newMux(rateSvc *rates.Service, syncer SyncTrigger, ready func() bool) http.Handler {
	if ready == nil {
		ready = func() bool { return true }
	}
	h := &handler{
		rateSvc: rateSvc,
		syncer:  syncer,
		ready:   ready,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/latest", h.latest)
	mux.HandleFunc("GET /api/v1/history", h.history)
	mux.HandleFunc("GET /api/v1/{date}", h.byDate)
	mux.HandleFunc("POST /api/v1/sync", h.triggerSync)
	mux.HandleFunc("GET /{$}", h.index)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
