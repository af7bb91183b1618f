package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"studiopulse/internal/normalizer"
	"studiopulse/internal/services"
)

// NormalizeHandler coerces raw model output into a caller-supplied schema.
type NormalizeHandler struct{}

// NewNormalizeHandler creates a new normalize handler
func NewNormalizeHandler() *NormalizeHandler {
	return &NormalizeHandler{}
}

type normalizeRequest struct {
	Schema any    `json:"schema"`
	Text   string `json:"text"`
}

// Normalize handles POST /api/ai/normalize
func (h *NormalizeHandler) Normalize(c *fiber.Ctx) error {
	metrics := services.GetMetrics()

	var req normalizeRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON body",
		})
	}

	data, err := normalizer.NormalizeText(req.Schema, req.Text)
	if err != nil {
		if metrics != nil {
			metrics.NormalizeRequests.WithLabelValues("bad_schema").Inc()
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if metrics != nil {
		// Unparseable text still answers 200 with defaults, but it is worth
		// watching: a spike means a model stopped emitting JSON.
		outcome := "ok"
		if !json.Valid([]byte(req.Text)) {
			outcome = "unparseable_text"
		}
		metrics.NormalizeRequests.WithLabelValues(outcome).Inc()
	}
	return c.JSON(fiber.Map{
		"data": data,
	})
}
