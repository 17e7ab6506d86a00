// Package health serves the gateway's HTTP health endpoints.
//
//   - /healthz: liveness, always 200 while the process can serve HTTP.
//   - /readyz: readiness, 200 only when every registered [Checker] passes.
//   - the device health probe ([Probe]), mounted by the gateway while it is
//     running and answering any method with the listener state.
//
// All responses are JSON with a top-level "status" field.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name keys the result in the JSON response (e.g. "session_store").
	Name string

	// Check probes the dependency and must respect ctx.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a [Handler] that runs checkers, in order, on every /readyz.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise. Each check
// gets its own [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
			continue
		}
		checks[c.Name] = "ok"
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// ProbeSource reports what the device health probe publishes.
type ProbeSource interface {
	// Running reports whether the device listener is accepting sessions.
	Running() bool

	// SessionCount is the number of connected device sessions.
	SessionCount() int
}

// ProbeResponse is the device health probe body.
type ProbeResponse struct {
	Status   string `json:"status"`
	Channel  string `json:"channel"`
	Running  bool   `json:"running"`
	Sessions int    `json:"sessions"`
}

// Probe returns the device health probe handler. It answers every method
// with 200; the body carries the listener state.
func Probe(channel string, src ProbeSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ProbeResponse{
			Status:   "ok",
			Channel:  channel,
			Running:  src.Running(),
			Sessions: src.SessionCount(),
		})
	}
}

// writeJSON encodes v with the given status. Encoding failures after the
// header was written are dropped.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
