package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/session-levels/internal/engine"
	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/internal/storage"
)

func cacheSnapshot(t *testing.T, redis *storage.MockRedisClient, snapshot *models.LevelSnapshot) {
	t.Helper()
	key := engine.LatestKey(snapshot.Symbol, snapshot.Tracker)
	require.NoError(t, redis.Set(context.Background(), key, snapshot, time.Hour))
}

func testSnapshot(symbol, tracker string, level float64) *models.LevelSnapshot {
	return &models.LevelSnapshot{
		Symbol:              symbol,
		Tracker:             tracker,
		Timestamp:           time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		SelectedLevel:       &level,
		AcceptBars:          3,
		AcceptanceThreshold: 10,
		AcceptAbove:         true,
	}
}

func TestLevelsHandler_GetLevels(t *testing.T) {
	redis := storage.NewMockRedisClient()
	cacheSnapshot(t, redis, testSnapshot("ESZ5", "prior_day_low_x10", 100.0))
	cacheSnapshot(t, redis, testSnapshot("ESZ5", "overnight_high_x10", 110.0))

	handler := NewLevelsHandler(redis, []string{"prior_day_low_x10", "overnight_high_x10", "manual_x10"})

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/levels/{symbol}", handler.GetLevels).Methods("GET")

	req := httptest.NewRequest("GET", "/api/v1/levels/ESZ5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Symbol string                  `json:"symbol"`
		Levels []*models.LevelSnapshot `json:"levels"`
		Count  int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "ESZ5", response.Symbol)
	// The manual tracker has no cached snapshot and is skipped
	assert.Equal(t, 2, response.Count)
	require.Len(t, response.Levels, 2)
	require.NotNil(t, response.Levels[0].SelectedLevel)
	assert.Equal(t, 100.0, *response.Levels[0].SelectedLevel)
}

func TestLevelsHandler_GetTrackerLevels(t *testing.T) {
	redis := storage.NewMockRedisClient()
	cacheSnapshot(t, redis, testSnapshot("ESZ5", "prior_day_low_x10", 100.0))

	handler := NewLevelsHandler(redis, []string{"prior_day_low_x10"})

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/levels/{symbol}/{tracker}", handler.GetTrackerLevels).Methods("GET")

	req := httptest.NewRequest("GET", "/api/v1/levels/ESZ5/prior_day_low_x10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var snapshot models.LevelSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snapshot))
	assert.Equal(t, "ESZ5", snapshot.Symbol)
	assert.Equal(t, "prior_day_low_x10", snapshot.Tracker)

	// Unknown tracker returns 404
	req = httptest.NewRequest("GET", "/api/v1/levels/ESZ5/overnight_low_x10", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEventsHandler_ListEvents(t *testing.T) {
	eventStorage := &storage.MockEventStorage{}
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	for i, symbol := range []string{"ESZ5", "ESZ5", "NQZ5"} {
		eventStorage.Events = append(eventStorage.Events, &models.AcceptanceEvent{
			ID:        fmt.Sprintf("event-%d", i),
			Symbol:    symbol,
			Tracker:   "prior_day_low_x10",
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Level:     100.0,
			Accepted:  true,
			Close:     101.0,
		})
	}

	handler := NewEventsHandler(eventStorage)

	req := httptest.NewRequest("GET", "/api/v1/events?symbol=ESZ5&limit=10", nil)
	rr := httptest.NewRecorder()
	handler.ListEvents(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Events []*models.AcceptanceEvent `json:"events"`
		Count  int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	for _, event := range response.Events {
		assert.Equal(t, "ESZ5", event.Symbol)
	}
}

func TestEventsHandler_StorageError(t *testing.T) {
	eventStorage := &storage.MockEventStorage{GetErr: assert.AnError}
	handler := NewEventsHandler(eventStorage)

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	rr := httptest.NewRecorder()
	handler.ListEvents(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSymbolHandler_ListSymbols(t *testing.T) {
	handler := NewSymbolHandler([]string{"ESZ5", "NQZ5"})

	req := httptest.NewRequest("GET", "/api/v1/symbols", nil)
	rr := httptest.NewRecorder()
	handler.ListSymbols(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Symbols []string `json:"symbols"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	assert.Contains(t, response.Symbols, "ESZ5")
}

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler()

	for path, fn := range map[string]http.HandlerFunc{
		"/health": handler.Health,
		"/ready":  handler.Ready,
		"/live":   handler.Live,
	} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		fn(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
