package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/middleware/validation"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

// Answerer is the orchestrator surface the HTTP layer needs.
type Answerer interface {
	Answer(ctx context.Context, query string) (*models.AnswerResult, error)
}

type AnswerHandler struct {
	engine Answerer
}

func NewAnswerHandler(engine Answerer) *AnswerHandler {
	return &AnswerHandler{
		engine: engine,
	}
}

type answerRequest struct {
	Query string `json:"query"`
}

func (h *AnswerHandler) HandleAnswer(c *fiber.Ctx) error {
	var req answerRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Debug("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if q, ok := c.Locals(validation.SanitizedQueryKey).(string); ok {
		req.Query = q
	}

	result, err := h.engine.Answer(c.UserContext(), req.Query)
	switch {
	case err == nil:
		return c.JSON(result)
	case models.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, models.ErrAllPathsFailed) && result != nil:
		logger.Warn("No retrieval path produced context",
			zap.String("request_id", result.RequestID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(result)
	default:
		logger.Error("Failed to answer query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer query",
		})
	}
}
