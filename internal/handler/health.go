package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"delayboard/internal/refresher"
)

type StatusReporter interface {
	Status() refresher.Status
}

type HealthHandler struct {
	status StatusReporter
}

func NewHealthHandler(status StatusReporter) *HealthHandler {
	return &HealthHandler{status: status}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	refresher.Status
	ServerTime time.Time `json:"server_time"`
}

// Readyz reports 503 until the data source has answered once.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	status := http.StatusOK
	if !st.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status:     st,
		ServerTime: time.Now().UTC(),
	})
}
