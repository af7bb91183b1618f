package handlers

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"

	"studiopulse/internal/models"
	"studiopulse/internal/ratelimit"
	"studiopulse/internal/services"
	"studiopulse/internal/validator"
)

// IngestHandler accepts telemetry batches from clients and hands them to the
// durable queue. The HTTP 200 is the client's signal to clear its local
// buffer, so it is only sent after the queue insert succeeds.
type IngestHandler struct {
	limiter *ratelimit.Limiter
	queue   *services.QueueService
	stats   *services.StatsService
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(limiter *ratelimit.Limiter, queue *services.QueueService, stats *services.StatsService) *IngestHandler {
	return &IngestHandler{
		limiter: limiter,
		queue:   queue,
		stats:   stats,
	}
}

type ingestRequest struct {
	Events    any     `json:"events"`
	Timestamp float64 `json:"timestamp"`
	// Token may ride in the body for legacy clients; auth middleware reads
	// it, the handler ignores it.
	Token string `json:"token"`
}

// Handle returns the ingest handler for one surface.
// POST /api/telemetry/events (generic) and POST /api/telemetry/signals
// (scoring surface).
func (h *IngestHandler) Handle(surface models.Surface) fiber.Handler {
	return func(c *fiber.Ctx) error {
		metrics := services.GetMetrics()
		userID, ok := c.Locals("user_id").(string)
		if !ok || userID == "" {
			if metrics != nil {
				metrics.RecordBatchRejected("auth")
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		body := c.Body()
		if len(body) > models.MaxBatchBodyBytes {
			if metrics != nil {
				metrics.RecordBatchRejected("oversized")
			}
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Payload too large",
			})
		}

		var req ingestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			if metrics != nil {
				metrics.RecordBatchRejected("malformed")
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON body",
			})
		}

		events, err := validator.ValidateBatch(req.Events, surface)
		if err != nil {
			if metrics != nil {
				metrics.RecordBatchRejected("validation")
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		weight := 0
		for _, ev := range events {
			weight += models.RateLimitWeight(ev.Action)
		}
		if weight > 0 {
			allowed, err := h.limiter.Allow(c.Context(), userID, weight)
			if err != nil {
				log.Printf("❌ [INGEST] Rate limit check failed for user %s: %v", userID, err)
				if metrics != nil {
					metrics.RecordBatchRejected("store")
				}
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to check rate limit",
				})
			}
			if !allowed {
				if metrics != nil {
					metrics.RateLimited.Inc()
					metrics.RecordBatchRejected("rate_limited")
				}
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Generation rate limit reached. Please wait before retrying.",
				})
			}
		}

		entry, err := h.queue.Enqueue(c.Context(), userID, surface, events, req.Timestamp)
		if err != nil {
			log.Printf("❌ [INGEST] Failed to enqueue batch for user %s: %v", userID, err)
			if metrics != nil {
				metrics.RecordBatchRejected("store")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to persist events",
			})
		}

		// Advisory aggregates; never blocks the ack.
		if h.stats != nil {
			h.stats.RecordBatch(c.Context(), userID, events)
		}
		if metrics != nil {
			metrics.RecordEventsAccepted(string(surface), len(events))
		}

		return c.JSON(fiber.Map{
			"ok":     true,
			"queued": len(events),
			"entry":  entry.ID.Hex(),
		})
	}
}
