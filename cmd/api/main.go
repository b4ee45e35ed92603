// cmd/api/main.go
// Main entry point for the application
// This file bootstraps all components and starts the server

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teakonn/teakonn-backend/internal/auth"
	"github.com/teakonn/teakonn-backend/internal/chat"
	"github.com/teakonn/teakonn-backend/internal/common/database"
	"github.com/teakonn/teakonn-backend/internal/config"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("Starting TeaKonn realtime API")

	// 1. Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found (%v), using environment variables", err)
	}

	// 2. Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: ", err)
	}

	// 3. Connect to PostgreSQL
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL: ", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	// 4. Connect to Redis (optional; presence mirror degrades without it)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			log.Printf("Redis unavailable (%v), continuing without presence mirror", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Println("Connected to Redis")
		}
	}

	// 5. Run database migrations
	if err := chat.Migrate(db); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	// 6. Wire the chat core
	presence := chat.NewPresenceCache(redisClient, cfg.TypingTTL)
	presence.Reset(context.Background())

	repo := chat.NewPostgresRepository(db)
	service := chat.NewService(repo, presence)
	hub := chat.NewHub(service, presence, cfg.RoomEventBuffer)

	handler := chat.NewHandler(service, hub, chat.HandlerConfig{
		DefaultPageSize: cfg.HistoryPageSize,
		SendBuffer:      cfg.ClientSendBuffer,
		EventRate:       cfg.EventRateLimit,
		EventBurst:      cfg.EventRateBurst,
	})

	// 7. Routes
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	router := mux.NewRouter()
	chat.RegisterRoutes(router, handler, authMiddleware.Authenticate)
	chat.RegisterHealthCheck(router, handler)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	// 8. Start the server
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Listening on %s (%s)", server.Addr, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error: ", err)
		}
	}()

	// 9. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	// Drain in-flight HTTP requests before the hub: REST handlers push socket
	// notifications, so the dispatcher must outlive the listener.
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	hub.Shutdown()

	log.Println("Server stopped")
}
