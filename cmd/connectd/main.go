package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/hup-social/connect/config"
	"github.com/hup-social/connect/internal/handlers"
	"github.com/hup-social/connect/internal/history"
	"github.com/hup-social/connect/internal/match"
	"github.com/hup-social/connect/internal/middleware"
	"github.com/hup-social/connect/internal/queue"
	"github.com/hup-social/connect/internal/redisclient"
	"github.com/hup-social/connect/internal/signal"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis
	rdb, err := redisclient.New(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	log.Println("Redis connection established")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	api := &handlers.API{
		Config:     cfg,
		Matchmaker: match.New(queue.NewRedisStore(rdb, logger), cfg.QueueTTL, logger),
		Channel:    signal.NewRedisChannel(rdb, logger),
		History:    history.NewStore(rdb),
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", api.Login)

		// Session record lookup (requires JWT)
		apiGroup.GET("/sessions/:sessionId", middleware.JWTAuth(cfg.JWTSecret), api.GetSession)
	}

	// WebSocket random-connect endpoint (requires JWT)
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/connect", middleware.JWTAuth(cfg.JWTSecret), api.HandleConnect)
	}

	// Start server
	log.Printf("Starting random-connect server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
