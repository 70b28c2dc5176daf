package handler

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/calendar-push/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type BatchService interface {
	Enqueue(ctx context.Context, eventID, eventTitle, eventDate string) error
	ForceProcessBatch(ctx context.Context) (domain.ForceResult, error)
	GetBatchStatus(ctx context.Context) (*domain.BatchStatus, error)
	RecentLogs(ctx context.Context, limit int) ([]domain.BatchLog, error)
	RecentFailures(ctx context.Context, limit int) ([]domain.FailedAttempt, error)
}

type BatchHandler struct {
	service   BatchService
	validator *validator.Validate
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service, validator: newValidator()}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	batch := router.Group("/v1/batch")
	batch.Post("/events", h.EnqueueEvent)
	batch.Post("/process", h.ForceProcess)
	batch.Get("/status", h.GetStatus)
	batch.Get("/logs", h.ListLogs)
	batch.Get("/failures", h.ListFailures)

	return nil
}

type enqueueEventRequest struct {
	EventID    string `json:"eventId" validate:"required,max=128"`
	EventTitle string `json:"eventTitle" validate:"required,max=256"`
	EventDate  string `json:"eventDate" validate:"required,max=64"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Limit int `json:"limit"`
}

func (h *BatchHandler) EnqueueEvent(c *fiber.Ctx) error {
	var req enqueueEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return toHTTPError(validationError(err))
	}

	if err := h.service.Enqueue(c.UserContext(), req.EventID, req.EventTitle, req.EventDate); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"eventId": req.EventID,
		"status":  "queued",
	})
}

func (h *BatchHandler) ForceProcess(c *fiber.Ctx) error {
	result, err := h.service.ForceProcessBatch(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *BatchHandler) GetStatus(c *fiber.Ctx) error {
	status, err := h.service.GetBatchStatus(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *BatchHandler) ListLogs(c *fiber.Ctx) error {
	limit, err := parseHistoryLimit(c)
	if err != nil {
		return toHTTPError(err)
	}

	logs, err := h.service.RecentLogs(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[domain.BatchLog]{Data: nonNil(logs), Limit: limit})
}

func (h *BatchHandler) ListFailures(c *fiber.Ctx) error {
	limit, err := parseHistoryLimit(c)
	if err != nil {
		return toHTTPError(err)
	}

	failures, err := h.service.RecentFailures(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[domain.FailedAttempt]{Data: nonNil(failures), Limit: limit})
}

func parseHistoryLimit(c *fiber.Ctx) (int, error) {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxHistoryLimit)
	}
	return limit, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
