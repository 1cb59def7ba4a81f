package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"flowboard/internal/config"
	"flowboard/internal/database"
	"flowboard/internal/handlers"
	"flowboard/internal/jobs"
	"flowboard/internal/logging"
	"flowboard/internal/middleware"
	"flowboard/internal/models"
	"flowboard/internal/services"
	"flowboard/pkg/auth"
)

func main() {
	// Load environment variables from .env file (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using system environment variables")
	}

	logging.Init()
	cfg := config.Load()

	log.Printf("🚀 Starting FlowBoard server (env: %s)", cfg.Environment)

	// ==================== DATA LAYER ====================

	mongodb, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mongodb.Initialize(initCtx); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
	}
	cancelInit()

	// Redis is optional: without it the server runs single-instance, with
	// no cross-instance event fan-out and in-memory rate limiting.
	var redisService *services.RedisService
	var pubsubService *services.PubSubService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, running single-instance: %v", err)
			redisService = nil
		}
	}

	// ==================== STORES & SERVICES ====================

	userStore := services.NewUserStore(mongodb)
	projectStore := services.NewProjectStore(mongodb)
	columnStore := services.NewColumnStore(mongodb)
	taskStore := services.NewTaskStore(mongodb)
	notificationStore := services.NewNotificationStore(mongodb)

	connManager := services.NewConnectionManager()
	services.InitMetrics(connManager)

	eventBus := services.NewBoardEventBus()

	if redisService != nil {
		instanceID := uuid.New().String()
		pubsubService = services.NewPubSubService(redisService, instanceID)
	}

	presenceService := services.NewPresenceService(cfg.PresenceWindow, eventBus, pubsubService)
	membershipService := services.NewMembershipService(mongodb, projectStore, notificationStore, eventBus, pubsubService)
	exportService := services.NewExportService(projectStore, columnStore, taskStore)
	templateService := services.NewTemplateService(cfg.BoardTemplatePath)
	if err := templateService.Watch(); err != nil {
		log.Printf("⚠️ Board template hot-reload disabled: %v", err)
	}

	// Cross-instance events replay into the local bus and presence roster.
	if pubsubService != nil {
		pubsubService.Subscribe("board:*:events", func(channel string, message *services.PubSubMessage) {
			event := message.Event
			switch event.Type {
			case models.EventPresence:
				if event.Presence != nil {
					presenceService.Apply(event.ProjectID, *event.Presence)
				}
			case models.EventPresenceLeft:
				presenceService.Drop(event.ProjectID, event.UserID)
			}
			eventBus.Publish(event.ProjectID, event)
		})
		if err := pubsubService.Start(); err != nil {
			log.Printf("⚠️ PubSub disabled: %v", err)
			pubsubService = nil
		}
	}

	// Auto-archive sweep
	archiveService, err := services.NewArchiveService(cfg.ArchiveSweepCron, projectStore, columnStore, taskStore, eventBus, pubsubService)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := archiveService.Start(); err != nil {
		log.Fatalf("❌ Failed to start archive sweep: %v", err)
	}

	// Maintenance jobs
	jobScheduler := jobs.NewJobScheduler()
	jobScheduler.Register("notification-cleanup", jobs.NewNotificationCleanupJob(notificationStore, cfg.NotificationRetentionDays))
	jobScheduler.Start()

	// ==================== AUTH ====================

	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("🔐 Local JWT auth enabled")
	} else if cfg.IsProduction() {
		log.Fatal("❌ JWT_SECRET is required in production")
	} else {
		log.Println("⚠️ JWT_SECRET not set — auth bypass active (development only)")
	}

	// ==================== HTTP ====================

	app := fiber.New(fiber.Config{
		AppName:      "FlowBoard v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    2 * 1024 * 1024, // Board payloads are small; exports go the other way
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("flowboard")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️ [RATE-LIMIT] Loaded config: Global=%d/min, Auth=%d/15min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.AuthMax, rateLimitConfig.WebSocketMax)

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️ ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers
	healthHandler := handlers.NewHealthHandler(connManager, mongodb, archiveService)
	authHandler := handlers.NewLocalAuthHandler(jwtAuth, userStore)
	projectHandler := handlers.NewProjectHandler(projectStore, columnStore, taskStore, userStore, notificationStore, membershipService, templateService)
	notificationHandler := handlers.NewNotificationHandler(notificationStore)
	exportHandler := handlers.NewExportHandler(exportService)
	boardWSHandler := handlers.NewBoardWebSocketHandler(connManager, projectStore, columnStore, taskStore, userStore, eventBus, pubsubService, presenceService, cfg.PresenceThrottle)

	// Routes
	app.Get("/health", healthHandler.Handle)

	authGroup := app.Group("/api/auth")
	authGroup.Post("/register", middleware.AuthRateLimiter(rateLimitConfig, redisService), authHandler.Register)
	authGroup.Post("/login", middleware.AuthRateLimiter(rateLimitConfig, redisService), authHandler.Login)
	authGroup.Post("/refresh", authHandler.RefreshToken)
	authGroup.Get("/me", middleware.LocalAuthMiddleware(jwtAuth), authHandler.GetCurrentUser)
	authGroup.Put("/me", middleware.LocalAuthMiddleware(jwtAuth), authHandler.UpdateProfile)

	api := app.Group("/api", middleware.LocalAuthMiddleware(jwtAuth))

	api.Get("/projects", projectHandler.List)
	api.Post("/projects", projectHandler.Create)
	api.Get("/projects/:projectId/board", projectHandler.Snapshot)
	api.Delete("/projects/:projectId", projectHandler.Delete)
	api.Get("/projects/:projectId/members", projectHandler.Members)
	api.Post("/projects/:projectId/invitations", projectHandler.Invite)
	api.Post("/projects/:projectId/invitations/:invitationId/accept", projectHandler.AcceptInvitation)
	api.Post("/projects/:projectId/invitations/:invitationId/decline", projectHandler.DeclineInvitation)
	api.Delete("/projects/:projectId/invitations/:invitationId", projectHandler.CancelInvitation)
	api.Delete("/projects/:projectId/members/:memberId", projectHandler.RemoveMember)
	api.Get("/projects/:projectId/export", exportHandler.Export)

	api.Get("/notifications", notificationHandler.List)
	api.Post("/notifications/read-all", notificationHandler.MarkAllRead)
	api.Post("/notifications/:notificationId/read", notificationHandler.MarkRead)

	// Board WebSocket (requires auth; token rides the query string)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws/board/:projectId", middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Use("/ws/board/:projectId", middleware.LocalAuthMiddleware(jwtAuth))
	app.Get("/ws/board/:projectId", websocket.New(boardWSHandler.Handle, websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}))

	// ==================== SHUTDOWN ====================

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()
		archiveService.Stop()
		templateService.Stop()

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping PubSub: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongodb.Close(shutdownCtx); err != nil {
			log.Printf("⚠️ Error closing MongoDB: %v", err)
		}
		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
