package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

const (
	defaultStatsLimit = 100
	maxStatsLimit     = 1000
)

// RegisterHTTP mounts the admin endpoints on r.
func (h *HubService) RegisterHTTP(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions/{sessionID}/components/{componentID}/state", h.handleSetState)
	r.Get("/stats", h.handleListStats)
}

// GET /sessions
func (h *HubService) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sessions())
}

// SetStateRequest is the body of POST /sessions/{sessionID}/components/{componentID}/state.
type SetStateRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// POST /sessions/{sessionID}/components/{componentID}/state
func (h *HubService) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req SetStateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxMessageSize)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionID := types.SessionID(chi.URLParam(r, "sessionID"))
	componentID := types.ComponentID(chi.URLParam(r, "componentID"))
	ops, err := h.SetState(sessionID, componentID, req.Key, req.Value)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, types.ErrUnknownComponent):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrInvalidArguments):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrInvalidTree):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	default:
		h.logger.Error("set state failed", "session_id", sessionID, "component_id", componentID, "error", err)
		http.Error(w, "push failed", http.StatusBadGateway)
		return
	}

	if ops == nil {
		ops = []vdom.Patch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patches": ops})
}

// statView is one row of GET /stats.
type statView struct {
	TriggerKey string    `json:"triggerKey"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// GET /stats?limit=N
func (h *HubService) handleListStats(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxStatsLimit {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := h.stats.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list stats failed", "error", err)
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	out := make([]statView, len(list))
	for i, st := range list {
		out[i] = statView{
			TriggerKey: st.TriggerKey,
			Hits:       st.Hits,
			Misses:     st.Misses,
			Confidence: st.Confidence(),
			UpdatedAt:  st.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
