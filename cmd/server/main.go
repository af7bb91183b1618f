package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studiopulse/internal/config"
	"studiopulse/internal/counters"
	"studiopulse/internal/database"
	"studiopulse/internal/handlers"
	"studiopulse/internal/jobs"
	"studiopulse/internal/logging"
	"studiopulse/internal/middleware"
	"studiopulse/internal/models"
	"studiopulse/internal/ratelimit"
	"studiopulse/internal/services"
	"studiopulse/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting StudioPulse Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// MongoDB is the durability point for the telemetry queue; nothing works
	// without it.
	if cfg.MongoURI == "" {
		log.Fatal("❌ MONGODB_URI environment variable is required")
	}
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	if err := mongoDB.Initialize(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
	}
	log.Println("✅ MongoDB connected and indexes ensured")

	// Redis carries the consolidation triggers. The service degrades without
	// it (sweeper-only wakeups) but does not refuse to start.
	redisService, err := services.NewRedisService(cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️  Redis unavailable: %v (consolidation falls back to sweep-only)", err)
		redisService = nil
	}
	if redisService != nil {
		defer redisService.Close()
	}

	// JWT verification for identity tokens
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ JWT verification enabled")
	} else {
		log.Println("⚠️  JWT_SECRET not set - auth runs in development bypass mode")
	}

	// Prometheus metrics
	services.InitMetrics()
	log.Println("✅ Metrics initialized")

	// Core services
	counterService := counters.NewService(mongoDB)
	queueService := services.NewQueueService(mongoDB, redisService, counterService)
	statsService := services.NewStatsService(mongoDB)
	limiter := ratelimit.NewLimiter(mongoDB, cfg.RateLimitWindowMs, cfg.RateLimitCap, nil)
	dreamingService := services.NewDreamingService(mongoDB, queueService, redisService)
	log.Println("✅ Core services initialized")

	// Consolidation engine
	if redisService != nil {
		if err := dreamingService.Start(); err != nil {
			log.Printf("⚠️  Failed to start consolidation listener: %v", err)
		}
	}

	// Queue sweeper: re-announces entries whose trigger was lost
	sweeper, err := jobs.NewQueueSweeper(
		queueService,
		redisService,
		time.Duration(cfg.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.StaleClaimSeconds)*time.Second,
	)
	if err != nil {
		log.Fatalf("❌ Failed to create queue sweeper: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		log.Fatalf("❌ Failed to start queue sweeper: %v", err)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "StudioPulse v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    256 * 1024, // batches are capped far below this; headroom for token-in-body clients
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("studiopulse")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Rate limiting
	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Ingest=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.IngestMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(mongoDB, redisService)
	ingestHandler := handlers.NewIngestHandler(limiter, queueService, statsService)
	normalizeHandler := handlers.NewNormalizeHandler()
	stateHandler := handlers.NewStateHandler(dreamingService, counterService)

	// Routes
	app.Get("/health", healthHandler.Handle)

	authRequired := middleware.LocalAuthMiddleware(jwtAuth, false)
	// Only the generic surface accepts a token in the body.
	authWithBodyToken := middleware.LocalAuthMiddleware(jwtAuth, true)
	ingestGuard := []fiber.Handler{
		middleware.IngestRateLimiter(rateLimitConfig),
		middleware.IngestThrottle(cfg.IngestGlobalRate),
	}

	app.Post("/api/telemetry/events", append(ingestGuard, authWithBodyToken, ingestHandler.Handle(models.SurfaceTelemetry))...)
	app.Post("/api/telemetry/signals", append(ingestGuard, authRequired, ingestHandler.Handle(models.SurfaceSignals))...)
	app.Post("/api/ai/normalize", authRequired, normalizeHandler.Normalize)
	app.Get("/api/state", authRequired, stateHandler.GetState)
	app.Get("/api/counters/:store", authRequired, stateHandler.GetCounter)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := sweeper.Stop(); err != nil {
			log.Printf("⚠️ Error stopping queue sweeper: %v", err)
		}

		if err := dreamingService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping consolidation engine: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
