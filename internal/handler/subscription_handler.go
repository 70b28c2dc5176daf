package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/calendar-push/internal/domain"
)

type SubscriptionService interface {
	Register(ctx context.Context, endpoint, label string) (*domain.Subscription, error)
	List(ctx context.Context) ([]domain.Subscription, error)
	Get(ctx context.Context, id string) (*domain.Subscription, error)
	Remove(ctx context.Context, id string) error
}

type SubscriptionHandler struct {
	service   SubscriptionService
	validator *validator.Validate
}

func NewSubscriptionHandler(service SubscriptionService) (*SubscriptionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &SubscriptionHandler{service: service, validator: newValidator()}, nil
}

func RegisterSubscriptionRoutes(router fiber.Router, service SubscriptionService) error {
	h, err := NewSubscriptionHandler(service)
	if err != nil {
		return err
	}

	subs := router.Group("/v1/subscriptions")
	subs.Post("/", h.CreateSubscription)
	subs.Get("/", h.ListSubscriptions)
	subs.Get("/:id", h.GetSubscription)
	subs.Delete("/:id", h.DeleteSubscription)

	return nil
}

type createSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,http_url"`
	Label    string `json:"label" validate:"max=120"`
}

type subscriptionResponse struct {
	ID            string     `json:"id"`
	Endpoint      string     `json:"endpoint"`
	Label         string     `json:"label"`
	Active        bool       `json:"active"`
	FailureCount  int        `json:"failureCount"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitempty"`
}

func (h *SubscriptionHandler) CreateSubscription(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return toHTTPError(validationError(err))
	}

	sub, err := h.service.Register(c.UserContext(), req.Endpoint, req.Label)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) ListSubscriptions(c *fiber.Ctx) error {
	subs, err := h.service.List(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]subscriptionResponse, 0, len(subs))
	for i := range subs {
		responses = append(responses, toSubscriptionResponse(&subs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": responses})
}

func (h *SubscriptionHandler) GetSubscription(c *fiber.Ctx) error {
	sub, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) DeleteSubscription(c *fiber.Ctx) error {
	if err := h.service.Remove(c.UserContext(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toSubscriptionResponse(s *domain.Subscription) subscriptionResponse {
	if s == nil {
		return subscriptionResponse{}
	}

	return subscriptionResponse{
		ID:            s.ID,
		Endpoint:      s.Endpoint,
		Label:         s.Label,
		Active:        s.Active,
		FailureCount:  s.FailureCount,
		LastFailureAt: s.LastFailureAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
