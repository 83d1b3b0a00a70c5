package server

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/i2vstudio/api/internal/config"
	"github.com/i2vstudio/api/internal/handler"
	"github.com/i2vstudio/api/internal/middleware"
	"github.com/i2vstudio/api/internal/service"
	ws "github.com/i2vstudio/api/internal/websocket"
	"github.com/i2vstudio/api/pkg/response"
)

// Deps are the collaborators the HTTP surface is built from. Redis may be nil.
type Deps struct {
	Config *config.Config
	Redis  *redis.Client
	Hub    *ws.Hub
	Video  *service.VideoService
	// JobCtx is canceled on shutdown to stop synchronous jobs
	JobCtx context.Context
}

// New builds the fiber app with every route registered
func New(deps Deps) *fiber.App {
	cfg := deps.Config
	validate := validator.New()

	videoHandler := handler.NewVideoHandler(deps.JobCtx, deps.Video, validate)
	healthHandler := handler.NewHealthHandler(deps.Redis, cfg.Storage.Enabled(), scriptPath(cfg.Worker))

	var rateLimiter *middleware.RateLimiter
	if deps.Redis != nil {
		rateLimiter = middleware.NewRateLimiter(deps.Redis)
	}
	generateLimit := rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour)

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		// room for the multipart envelope around a maximum-size image
		BodyLimit: int(cfg.Uploads.MaxSize()) + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", healthHandler.Check)

	app.Post("/generate-video", generateLimit, videoHandler.Generate)

	video := app.Group("/api/video")
	video.Post("/start", generateLimit, videoHandler.Start)
	video.Get("/status/:jobId", videoHandler.Status)
	video.Get("/result/:jobId", videoHandler.Result)

	app.Static(cfg.Uploads.Mount, cfg.Uploads.Dir, fiber.Static{
		ByteRange:      true,
		ModifyResponse: videoHeaders,
	})

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		deps.Hub.HandleConnection(c, ws.AllJobs)
	}))

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		deps.Hub.HandleConnection(c, c.Params("jobId"))
	}))

	if cfg.Server.PublicDir != "" {
		app.Static("/", cfg.Server.PublicDir)
	}

	return app
}

// videoHeaders marks served .mp4 files as streamable video
func videoHeaders(c *fiber.Ctx) error {
	if !strings.EqualFold(filepath.Ext(c.Path()), ".mp4") {
		return nil
	}
	status := c.Response().StatusCode()
	if status != fiber.StatusOK && status != fiber.StatusPartialContent {
		return nil
	}
	c.Set(fiber.HeaderContentType, "video/mp4")
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	return nil
}

func scriptPath(cfg config.WorkerConfig) string {
	if cfg.WorkDir == "" || filepath.IsAbs(cfg.Script) {
		return cfg.Script
	}
	return filepath.Join(cfg.WorkDir, cfg.Script)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest, fiber.StatusUpgradeRequired:
		errCode = response.CodeInvalidRequest
	}

	return response.Error(c, code, errCode, message, nil)
}
