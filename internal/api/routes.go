package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"digitbot/internal/api/handlers"
	"digitbot/internal/api/middleware"
	"digitbot/internal/config"
	"digitbot/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Session handlers.SessionController
	Flag    handlers.PauseSwitch
	Trades  handlers.TradeHistory
	// Stream - обработчик /ws/stream (websocket.Hub.ServeWS)
	Stream http.HandlerFunc

	Security    config.SecurityConfig
	CORSOrigins string
	Logger      *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /session/
//	│   ├── POST /start - подключиться с токеном
//	│   ├── POST /stop - остановить сессию
//	│   ├── GET /status - статус сессии и торговли
//	│   ├── POST /pause - пауза новых контрактов
//	│   └── POST /resume - снять паузу
//	└── GET /trades?limit= - история сделок
//
// /api/start-bot, /api/stop-bot, /api/status - совместимые алиасы
// для существующего UI.
//
// /ws/stream - WebSocket для real-time обновлений
// /health, /metrics - без авторизации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BasicAuth (API и WebSocket)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.CORSOrigins))

	auth := middleware.BasicAuth(deps.Security.AdminUser, deps.Security.AdminPasswordHash)

	var sessionHandler *handlers.SessionHandler
	if deps.Session != nil {
		sessionHandler = handlers.NewSessionHandler(deps.Session, deps.Flag)
	}

	var tradesHandler *handlers.TradesHandler
	if deps.Trades != nil {
		tradesHandler = handlers.NewTradesHandler(deps.Trades)
	}

	// API v1 routes
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth)

	if sessionHandler != nil {
		v1.HandleFunc("/session/start", sessionHandler.Start).Methods("POST", "OPTIONS")
		v1.HandleFunc("/session/stop", sessionHandler.Stop).Methods("POST", "OPTIONS")
		v1.HandleFunc("/session/status", sessionHandler.Status).Methods("GET")
		v1.HandleFunc("/session/pause", sessionHandler.Pause).Methods("POST", "OPTIONS")
		v1.HandleFunc("/session/resume", sessionHandler.Resume).Methods("POST", "OPTIONS")
	}

	if tradesHandler != nil {
		v1.HandleFunc("/trades", tradesHandler.GetTrades).Methods("GET")
	}

	// Совместимые маршруты
	if sessionHandler != nil {
		legacy := router.PathPrefix("/api").Subrouter()
		legacy.Use(auth)
		legacy.HandleFunc("/start-bot", sessionHandler.Start).Methods("POST", "OPTIONS")
		legacy.HandleFunc("/stop-bot", sessionHandler.Stop).Methods("POST", "OPTIONS")
		legacy.HandleFunc("/status", sessionHandler.Status).Methods("GET")
	}

	// WebSocket route
	if deps.Stream != nil {
		router.Handle("/ws/stream", auth(deps.Stream)).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
