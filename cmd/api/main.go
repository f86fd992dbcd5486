package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/prasetyowira/tokoar_be/internal/chat"
	"github.com/prasetyowira/tokoar_be/internal/config"
	"github.com/prasetyowira/tokoar_be/internal/db"
	"github.com/prasetyowira/tokoar_be/internal/handlers"
	"github.com/prasetyowira/tokoar_be/internal/middleware"
	"github.com/prasetyowira/tokoar_be/internal/models"
	"github.com/prasetyowira/tokoar_be/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Order{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.ChatNotification{},
	); err != nil {
		log.Fatal(err)
	}

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Println("Redis unavailable, notification bridge disabled:", err)
		rdb = nil
	}

	hub := realtime.NewHub()
	store := chat.NewStore(gdb)
	engine := chat.NewEngine(store, hub, hub, rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chat.StartRetentionSweep(ctx, store, time.Hour)

	app := fiber.New(fiber.Config{
		BodyLimit:    10 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Static("/uploads", cfg.UploadDir)

	authH := &handlers.AuthHandler{
		DB:        gdb,
		JWTSecret: cfg.JWTSecret,
		Expires:   cfg.JWTExpiresMin,
	}
	chatH := handlers.NewChatHandler(store, engine)
	uploadH := handlers.NewUploadHandler(engine, cfg.UploadDir, os.Getenv("APP_BASE_URL"))
	wsH := handlers.NewWSHandler(gdb, hub, engine, cfg.JWTSecret)

	api := app.Group("/api")

	// public
	api.Post("/auth/register", authH.Register)
	api.Post("/auth/login", authH.Login)

	// protected (bearer JWT)
	protected := api.Group("/", middleware.JWTBearer(gdb, cfg.JWTSecret))

	protected.Get("/me", authH.Me)

	protected.Post("/conversations", chatH.CreateOrGetConversation)
	protected.Get("/conversations", chatH.GetConversations)
	protected.Get("/conversations/:id", chatH.GetConversation)
	protected.Get("/conversations/:id/messages", chatH.GetMessages)
	protected.Put("/conversations/:id/archive", chatH.ArchiveConversation)
	protected.Delete("/conversations/:id", chatH.DeleteConversation)

	protected.Put("/conversations/:id/block",
		middleware.RequireRoles("admin"),
		chatH.BlockConversation,
	)
	protected.Put("/conversations/:id/unblock",
		middleware.RequireRoles("admin"),
		chatH.UnblockConversation,
	)

	protected.Delete("/messages/:id", chatH.DeleteMessage)
	protected.Post("/messages/upload", uploadH.UploadMessage)

	protected.Get("/notifications", chatH.GetNotifications)
	protected.Put("/notifications/read-all", chatH.MarkAllNotificationsRead)
	protected.Put("/notifications/:id/read", chatH.MarkNotificationRead)

	protected.Get("/chat/stats",
		middleware.RequireRoles("admin"),
		chatH.GetStats,
	)

	// WebSocket endpoint; bearer token passed as ?token= and verified at
	// handshake before any event is handled.
	app.Get("/ws/chat", websocket.New(wsH.Handle))

	log.Fatal(app.Listen(":" + cfg.AppPort))
}
