package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpilot-backend/internal/chat"
	"carpilot-backend/internal/config"
	"carpilot-backend/internal/database"
	"carpilot-backend/internal/handlers"
	"carpilot-backend/internal/middleware"
	"carpilot-backend/internal/repository"
	"carpilot-backend/internal/router"
	"carpilot-backend/internal/services"
	"carpilot-backend/internal/websocket"
	"carpilot-backend/internal/worker"
)

func main() {
	log.Println("🚗 Starting CarPilot Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	conversationRepo := repository.NewConversationRepo(pool)
	historyRepo := repository.NewHistoryRepo(pool)

	// ──── Step 5: Initialize Gemini Services ────
	agentService, err := services.NewAgentService(cfg.GeminiAPIKey, cfg.GeminiConcurrentReqs)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer agentService.Close()
	intentService := services.NewIntentService(agentService.Client(), redisClients.Queue)
	log.Println("✓ Gemini Flash client initialized")

	// ──── Initialize Services ────
	sessionAuth := middleware.NewSessionAuth(cfg.JWTSecret, userRepo, redisClients.Queue)
	commandService := services.NewCommandService(redisClients.Queue, redisClients.PubSub, cfg.DefaultCommandMode)
	usageService := services.NewUsageService(redisClients.Queue)

	// ──── Step 6: Start Memory Worker Pool ────
	memoryPool := worker.NewPool(redisClients.Queue, historyRepo, cfg.MemoryWorkers)
	memoryPool.Start()
	log.Printf("✓ Memory worker pool started (%d goroutines)", cfg.MemoryWorkers)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, cfg.JWTSecret)
	log.Println("✓ WebSocket hub started")

	// ──── Wire the Completion Pipeline ────
	resolver := chat.NewResolver(conversationRepo)
	orchestrator := chat.NewOrchestrator(
		resolver,
		commandService,
		intentService,
		agentService,
		historyRepo,
		usageService,
		memoryPool,
		commandService,
	)
	chatHandler := handlers.NewChatHandler(orchestrator)

	// ──── Step 8: Start HTTP Server ────
	r := router.New(sessionAuth, chatHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: completion streams stay open for the whole
		// generation.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		memoryPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ CarPilot Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  Chat: http://localhost:%s/v1/chat/completions", cfg.Port)
	log.Printf("  WS:   ws://localhost:%s/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
