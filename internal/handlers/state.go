package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"studiopulse/internal/counters"
	"studiopulse/internal/services"
)

// StateHandler exposes read-only views of consolidated behavioral state and
// the sharded document counters.
type StateHandler struct {
	dreaming *services.DreamingService
	counters *counters.Service
}

// NewStateHandler creates a new state handler
func NewStateHandler(dreaming *services.DreamingService, counterService *counters.Service) *StateHandler {
	return &StateHandler{
		dreaming: dreaming,
		counters: counterService,
	}
}

// GetState handles GET /api/state
func (h *StateHandler) GetState(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	state, err := h.dreaming.GetState(c.Context(), userID)
	if err != nil {
		log.Printf("❌ [STATE] Failed to load state for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load behavioral state",
		})
	}

	return c.JSON(state)
}

// GetCounter handles GET /api/counters/:store
func (h *StateHandler) GetCounter(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	store := c.Params("store")
	if _, known := counters.AppForStore(store); !known {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown store",
		})
	}

	total, err := h.counters.Total(c.Context(), userID, store)
	if err != nil {
		log.Printf("❌ [STATE] Failed to sum counter %s for user %s: %v", store, userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read counter",
		})
	}

	return c.JSON(fiber.Map{
		"store": store,
		"count": total,
	})
}
