package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mohamedkhairy/session-levels/internal/engine"
	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/internal/storage"
)

// LevelsHandler serves the latest tracker snapshots from the Redis cache
type LevelsHandler struct {
	redis    storage.RedisClient
	trackers []string // configured tracker names, e.g. "prior_day_low_x10"
}

// NewLevelsHandler creates a new levels handler
func NewLevelsHandler(redis storage.RedisClient, trackers []string) *LevelsHandler {
	return &LevelsHandler{
		redis:    redis,
		trackers: trackers,
	}
}

// GetLevels handles GET /api/v1/levels/{symbol}
func (h *LevelsHandler) GetLevels(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	snapshots := make([]*models.LevelSnapshot, 0, len(h.trackers))
	for _, tracker := range h.trackers {
		var snapshot models.LevelSnapshot
		key := engine.LatestKey(symbol, tracker)
		if err := h.redis.GetJSON(r.Context(), key, &snapshot); err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve levels")
			return
		}
		if snapshot.Symbol == "" {
			// No cached snapshot for this tracker yet
			continue
		}
		snapshots = append(snapshots, &snapshot)
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"levels": snapshots,
		"count":  len(snapshots),
	})
}

// GetTrackerLevels handles GET /api/v1/levels/{symbol}/{tracker}
func (h *LevelsHandler) GetTrackerLevels(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]
	tracker := vars["tracker"]

	var snapshot models.LevelSnapshot
	key := engine.LatestKey(symbol, tracker)
	if err := h.redis.GetJSON(r.Context(), key, &snapshot); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve levels")
		return
	}
	if snapshot.Symbol == "" {
		respondWithError(w, http.StatusNotFound, "No snapshot for symbol/tracker")
		return
	}

	respondWithJSON(w, http.StatusOK, snapshot)
}

// EventsHandler serves acceptance event history from the event store
type EventsHandler struct {
	eventStorage storage.EventStorage
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(eventStorage storage.EventStorage) *EventsHandler {
	return &EventsHandler{
		eventStorage: eventStorage,
	}
}

// ListEvents handles GET /api/v1/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := storage.EventFilter{
		Symbol:  r.URL.Query().Get("symbol"),
		Tracker: r.URL.Query().Get("tracker"),
		Limit:   100, // Default limit
		Offset:  0,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := parseInt(limitStr); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := parseInt(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	if startStr := r.URL.Query().Get("start_time"); startStr != "" {
		if start, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = start
		}
	}

	if endStr := r.URL.Query().Get("end_time"); endStr != "" {
		if end, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = end
		}
	}

	events, err := h.eventStorage.GetEvents(r.Context(), filter)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// SymbolHandler serves the configured symbol universe
type SymbolHandler struct {
	symbols []string
}

// NewSymbolHandler creates a new symbol handler
func NewSymbolHandler(symbols []string) *SymbolHandler {
	return &SymbolHandler{
		symbols: symbols,
	}
}

// ListSymbols handles GET /api/v1/symbols
func (h *SymbolHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": h.symbols,
		"count":   len(h.symbols),
	})
}

// HealthHandler handles health check endpoints
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Helper functions

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}
