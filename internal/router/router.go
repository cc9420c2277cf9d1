package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"carpilot-backend/internal/handlers"
	"carpilot-backend/internal/middleware"
	"carpilot-backend/internal/websocket"
)

func New(
	sessionAuth *middleware.SessionAuth,
	chatHandler *handlers.ChatHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Chat rate limiter (60 req/min per IP)
	chatLimiter := middleware.NewRateLimiter(60, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// ──── Chat Completion Routes ────
	r.Group(func(r chi.Router) {
		r.Use(chatLimiter.Middleware)
		r.Use(sessionAuth.Middleware)
		r.Post("/v1/chat/completions", chatHandler.CompletionsV1)
		r.Post("/v2/chat/completions", chatHandler.CompletionsV2)
		r.Post("/v2/chat/completions/channel2", chatHandler.CompletionsV2Channel2)
	})

	// ──── WebSocket ────
	r.Get("/ws", wsHub.HandleWebSocket)

	return r
}
