package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/session-levels/internal/config"
	"github.com/mohamedkhairy/session-levels/internal/storage"
)

// NewRouter builds the API router with all routes and middleware attached
func NewRouter(cfg config.APIConfig, redis storage.RedisClient, eventStorage storage.EventStorage, trackers []string, symbols []string) *mux.Router {
	levelsHandler := NewLevelsHandler(redis, trackers)
	eventsHandler := NewEventsHandler(eventStorage)
	symbolHandler := NewSymbolHandler(symbols)
	healthHandler := NewHealthHandler()
	auth := NewAuthManager(cfg.JWTSecret)

	router := mux.NewRouter()

	// Health and metrics endpoints bypass the middleware chain's auth step
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/ready", healthHandler.Ready).Methods("GET")
	router.HandleFunc("/live", healthHandler.Live).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/levels/{symbol}", levelsHandler.GetLevels).Methods("GET")
	v1.HandleFunc("/levels/{symbol}/{tracker}", levelsHandler.GetTrackerLevels).Methods("GET")
	v1.HandleFunc("/events", eventsHandler.ListEvents).Methods("GET")
	v1.HandleFunc("/symbols", symbolHandler.ListSymbols).Methods("GET")

	chain := ChainMiddleware(
		RecoveryMiddleware(),
		LoggingMiddleware(),
		CORSMiddleware(),
		RateLimitMiddleware(cfg.RateLimitRPS),
		AuthMiddleware(auth),
	)
	router.Use(mux.MiddlewareFunc(chain))

	return router
}
