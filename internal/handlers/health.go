package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"studiopulse/internal/database"
	"studiopulse/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db    *database.MongoDB
	redis *services.RedisService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.MongoDB, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	mongoStatus := "healthy"
	if h.db == nil {
		mongoStatus = "unconfigured"
	} else if err := h.db.Ping(c.Context()); err != nil {
		mongoStatus = "unreachable"
	}

	redisStatus := "healthy"
	if h.redis == nil {
		redisStatus = "unconfigured"
	} else if err := h.redis.Ping(c.Context()); err != nil {
		redisStatus = "unreachable"
	}

	status := "healthy"
	code := fiber.StatusOK
	if mongoStatus != "healthy" || redisStatus != "healthy" {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"mongodb":   mongoStatus,
		"redis":     redisStatus,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
