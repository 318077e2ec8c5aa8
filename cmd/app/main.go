package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/clinicore/accesskit"
	"github.com/clinicore/accesskit/internal/config"
	"github.com/clinicore/accesskit/internal/db"
	"github.com/clinicore/accesskit/internal/routes"
	"github.com/clinicore/accesskit/zapLogger"
)

func main() {
	// Initialize zapLogger
	logFile := zapLogger.Init()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Log.Fatalf("Failed to load config: %v", err)
	}

	pgDB, err := db.NewPostgresDB(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to PostgreSQL database")
	defer pgDB.Close()

	redisDB, err := db.NewRedisClient(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to Redis")
	defer redisDB.Close()

	identity, err := accesskit.NewDBIdentityService(pgDB.GormDB, redisDB, "accesskit:", 0)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize identity service: %v", err)
	}

	svc, err := accesskit.New(accesskit.Config{
		DB:                 pgDB.GormDB,
		RedisClient:        redisDB,
		CacheTTL:           cfg.CacheTTL,
		CachePrefix:        "accesskit:",
		AutoMigrate:        true,
		Identity:           identity,
		Impersonator:       accesskit.NewDBImpersonator(identity),
		SessionLoadTimeout: cfg.SessionLoadTimeout,
		EnableAuditLogging: cfg.EnableAuditLogging,
		Logger:             zapLogger.Log,
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize access service: %v", err)
	}

	// Set up Fiber app
	app := fiber.New()

	// Middleware
	app.Use(zapLogger.FiberLoggingMiddleware(logFile))

	// Set up routes
	routes.Setup(app, svc)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	log.Fatal(app.Listen(addr))
}
