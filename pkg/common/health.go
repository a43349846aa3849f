package common

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness endpoints for orchestration
// platforms. Readiness is driven by the shared atomic flag so the service can
// signal when its dependencies are wired up.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer creates and starts a health server on addr, falling back
// to ":8080" when empty. The returned server is already listening; callers
// are responsible for shutting it down.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()

	hs := &HealthServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		ready: ready,
	}

	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !hs.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		// Error is surfaced on shutdown by the caller.
		_ = hs.server.ListenAndServe()
	}()

	return hs
}

// Server returns the underlying HTTP server for shutdown control.
func (hs *HealthServer) Server() *http.Server { return hs.server }
