package handler

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	redis   *redis.Client
	storage bool
	script  string
}

// NewHealthHandler reports on the collaborators a job needs. redisClient may be nil.
func NewHealthHandler(redisClient *redis.Client, storageEnabled bool, workerScript string) *HealthHandler {
	return &HealthHandler{
		redis:   redisClient,
		storage: storageEnabled,
		script:  workerScript,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	redisOK := false
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		redisOK = h.redis.Ping(ctx).Err() == nil
	}

	_, err := os.Stat(h.script)
	workerOK := err == nil

	status := "ok"
	if !workerOK {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"redis":   redisOK,
			"storage": h.storage,
			"worker":  workerOK,
		},
	})
}
