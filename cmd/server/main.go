package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/termstack/broker/api/handlers"
	"github.com/termstack/broker/internal/config"
	"github.com/termstack/broker/internal/db"
	"github.com/termstack/broker/internal/metrics"
	"github.com/termstack/broker/internal/notify"
	"github.com/termstack/broker/internal/pty"
	"github.com/termstack/broker/internal/queue"
	"github.com/termstack/broker/internal/repository"
	"github.com/termstack/broker/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if cfg.CastDir != "" {
		if err := os.MkdirAll(cfg.CastDir, 0755); err != nil {
			log.Fatalf("Failed to create cast directory: %v", err)
		}
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	queueRepo := repository.NewQueueRepository(database)

	terminals := pty.NewManager(pty.Config{
		MaxInstances: cfg.MaxTerminals,
		BufferMax:    cfg.BufferMaxBytes,
		CastDir:      cfg.CastDir,
		Shell:        cfg.Shell,
	})
	defer terminals.Close()

	conns := ws.NewManager(ws.Config{
		RateLimitPerWindow: cfg.RateLimitPerMinute,
		RateLimitWindow:    time.Minute,
		PingInterval:       cfg.PingInterval,
	})
	defer conns.Close()

	queueService := queue.NewService(
		queueRepo,
		queue.PTYTerminals{Manager: terminals},
		conns,
		notify.NewLogNotifier(),
		queue.Config{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := ws.NewBridge(terminals, conns)
	go bridge.Run(ctx)
	go conns.Run(ctx)

	terminalHandler := handlers.NewTerminalHandler(terminals)
	queueHandler := handlers.NewQueueHandler(queueRepo, queueService)
	wsHandler := handlers.NewWebSocketHandler(terminals, ws.NewHandler(conns, terminals))

	r := gin.Default()
	r.Use(corsMiddleware())
	r.Use(metrics.GinMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "ok",
			"terminals": len(terminals.List()),
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		terminalHandler.RegisterRoutes(api)
		queueHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		cancel()
		conns.Close()
		terminals.Close()
		database.Close()
		os.Exit(0)
	}()

	log.Printf("Starting server on port %d", cfg.Port)
	if err := r.Run(":" + strconv.Itoa(cfg.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
