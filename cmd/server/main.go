package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/skydisk/backend/internal/config"
	"github.com/skydisk/backend/internal/database"
	"github.com/skydisk/backend/internal/handlers"
	"github.com/skydisk/backend/internal/middleware"
	"github.com/skydisk/backend/internal/services"
	"github.com/skydisk/backend/internal/storage"
	"github.com/skydisk/backend/pkg/logger"
	"github.com/skydisk/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	store := storage.NewClient(cfg.HDFS)
	vfs := services.NewVFSService(db, store)

	authHandler := handlers.NewAuthHandler(db)
	filesHandler := handlers.NewFilesHandler(vfs)
	sharesHandler := handlers.NewSharesHandler(vfs)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimitMB * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.CORSOrigins))
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Post("/directory", filesHandler.Mkdir)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Post("/share", sharesHandler.Create)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Put("/:id/rename", filesHandler.Rename)
	fileRoutes.Put("/:id/move", filesHandler.Move)
	fileRoutes.Post("/:id/restore", filesHandler.Restore)
	fileRoutes.Post("/:id/share", sharesHandler.CreateOne)
	fileRoutes.Delete("/:id/share", sharesHandler.Cancel)
	fileRoutes.Get("/:id", filesHandler.Get)
	fileRoutes.Delete("/:id", filesHandler.Delete)

	adminRoutes := api.Group("/admin", authMiddleware.RequireAuth, middleware.AdminOnly)
	adminRoutes.Get("/users", authHandler.ListUsers)

	shareRoutes := api.Group("/shares")
	shareRoutes.Get("/:key", authMiddleware.OptionalAuth, sharesHandler.List)
	shareRoutes.Get("/:key/files/:id/download", authMiddleware.OptionalAuth, sharesHandler.Download)
	shareRoutes.Post("/:key/save", authMiddleware.RequireAuth, sharesHandler.Save)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
