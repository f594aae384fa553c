// Package health serves the bot's liveness and readiness endpoints.
//
// /healthz answers 200 whenever the process is up, and reports how long the
// bot has been running. /readyz answers 200 only while every registered
// dependency check passes — the call log store and whatever else the bot
// cannot take a call without. Both respond with a small JSON report.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"
)

// checkTimeout bounds one dependency check. Readiness is polled every few
// seconds; a stalled dependency must fail the check, not hang it.
const checkTimeout = 2 * time.Second

// Checker verifies one dependency the bot needs before it can take calls.
type Checker struct {
	// Name keys the check in the JSON report ("call_log", "stt_model").
	Name string

	// Check returns nil while the dependency is usable. It must honor ctx.
	Check func(ctx context.Context) error
}

// report is the JSON body of both endpoint responses.
type report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the health endpoints. Construct with [New]; the checker
// set is fixed for the life of the handler.
type Handler struct {
	started  time.Time
	checkers []Checker
}

// New builds a Handler over the given dependency checks. Readiness runs
// them in order on every request.
func New(checkers ...Checker) *Handler {
	return &Handler{started: time.Now(), checkers: slices.Clone(checkers)}
}

// Healthz reports process liveness. A bot that can answer HTTP is alive, so
// this always returns 200, with the current uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs every dependency check under its own timeout and
// reports the per-check outcomes. Any failure turns the response into a 503
// so the platform stops routing calls here.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err == nil {
			rep.Checks[c.Name] = "ok"
			continue
		}
		rep.Checks[c.Name] = "fail: " + err.Error()
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
		slog.Warn("health: dependency not ready", "check", c.Name, "err", err)
	}

	writeReport(w, status, rep)
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		slog.Error("health: encode report", "err", err)
	}
}
