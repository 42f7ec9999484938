package api

import (
	"net/http"

	"fsmonitor/internal/monitor"
)

type RestHandler struct {
	Monitor *monitor.Monitor
}

type statusResponse struct {
	Backend string `json:"backend"`
	Root    string `json:"root"`
}

type metricsResponse struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsDelivered uint64 `json:"events_delivered"`
	EventsCoalesced uint64 `json:"events_coalesced"`
	CallbackPanics  uint64 `json:"callback_panics"`
	PollFallbacks   uint64 `json:"poll_fallbacks"`
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Backend: string(h.Monitor.Backend()),
		Root:    h.Monitor.Root(),
	})
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	metrics := h.Monitor.Metrics()
	writeJSON(w, http.StatusOK, metricsResponse{
		ActiveWatches:   metrics.ActiveWatches,
		EventsDelivered: metrics.EventsDelivered,
		EventsCoalesced: metrics.EventsCoalesced,
		CallbackPanics:  metrics.CallbackPanics,
		PollFallbacks:   metrics.PollFallbacks,
	})
	return nil
}
