package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxEventBytes = 1 << 20

// ReadinessChecker reports whether the handler may receive traffic.
type ReadinessChecker interface {
	Configure(ctx context.Context) bool
}

// HTTPHandler exposes health, readiness, metrics and manual event submission.
type HTTPHandler struct {
	handler  EventHandler
	ready    ReadinessChecker
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes. A nil gatherer
// disables /metrics.
func NewHTTPHandler(handler EventHandler, ready ReadinessChecker, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{
		handler:  handler,
		ready:    ready,
		gatherer: gatherer,
		logger:   logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/api/v1/events", h.handleEvent)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Configure(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (h *HTTPHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev InboundEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	result := h.handler.Handle(r.Context(), ev)
	h.logger.Info("event submitted over http",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("entity_id", ev.EntityID),
		zap.Stringer("result", result),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": ev.EntityID,
		"result":    result,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
