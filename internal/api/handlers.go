package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"vidstore/internal/health"
	"vidstore/internal/model"
)

type StatusSource interface {
	Status(ctx context.Context) (model.StatusResponse, error)
	Get(ctx context.Context, name string) (model.StatusItem, error)
}

type Readiness interface {
	Snapshot() health.Snapshot
}

type Handlers struct {
	Logger    *slog.Logger
	Status    StatusSource
	Readiness Readiness
	Metrics   http.Handler
}

func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.handleReadyz).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/status/{name}", h.handleStatusItem).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if h.Readiness == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "state": "unknown"})
		return
	}

	snap := h.Readiness.Snapshot()
	body := map[string]any{
		"ready":  snap.State == health.Ready,
		"state":  snap.State.String(),
		"streak": snap.Streak,
	}
	if snap.LastError != "" {
		body["error"] = snap.LastError
	}
	if !snap.LastProbe.IsZero() {
		body["last_probe"] = snap.LastProbe
	}

	status := http.StatusOK
	if snap.State != health.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Status.Status(r.Context())
	if err != nil {
		h.Logger.Error("status failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	for i := range resp.Items {
		resp.Items[i] = resp.Items[i].Redacted()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleStatusItem(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	item, err := h.Status.Get(r.Context(), name)
	if errors.Is(err, model.ErrNotProvisioned) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "name": name})
		return
	}
	if err != nil {
		h.Logger.Error("status failed", "name", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, item.Redacted())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
