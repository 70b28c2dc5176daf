package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/transport"
	"go.uber.org/zap"
)

const testSubscriptionID = "4f8e2b0a-6a1c-4d2e-9d57-1c2b3a4d5e6f"

func TestSubscriptionIntegration_Create(t *testing.T) {
	t.Parallel()

	svc := &stubSubscriptionService{
		registerFn: func(ctx context.Context, endpoint, label string) (*domain.Subscription, error) {
			return &domain.Subscription{ID: testSubscriptionID, Endpoint: endpoint, Label: label, Active: true}, nil
		},
	}
	app := newSubscriptionTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/subscriptions",
		`{"endpoint":"https://push.example.com/abc","label":"Office tablet"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var created subscriptionResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created.ID != testSubscriptionID || created.Endpoint != "https://push.example.com/abc" || !created.Active {
		t.Fatalf("created = %+v", created)
	}
}

func TestSubscriptionIntegration_CreateValidation(t *testing.T) {
	t.Parallel()

	called := false
	svc := &stubSubscriptionService{
		registerFn: func(ctx context.Context, endpoint, label string) (*domain.Subscription, error) {
			called = true
			return nil, nil
		},
	}
	app := newSubscriptionTestApp(t, svc)

	testCases := []struct {
		name string
		body string
		want string
	}{
		{name: "missing endpoint", body: `{"label":"x"}`, want: "endpoint is required"},
		{name: "bad endpoint", body: `{"endpoint":"ftp://push.example.com"}`, want: "endpoint must be a valid url"},
		{name: "long label", body: fmt.Sprintf(`{"endpoint":"https://push.example.com","label":%q}`, strings.Repeat("a", 121)), want: "label must be at most 120 characters"},
	}

	for _, tc := range testCases {
		resp, body := performRequest(t, app, http.MethodPost, "/v1/subscriptions", tc.body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
		if !strings.Contains(string(body), tc.want) {
			t.Fatalf("%s: body = %s, want %q", tc.name, string(body), tc.want)
		}
	}
	if called {
		t.Fatal("service should not be called for invalid requests")
	}
}

func TestSubscriptionIntegration_Conflict(t *testing.T) {
	t.Parallel()

	svc := &stubSubscriptionService{
		registerFn: func(ctx context.Context, endpoint, label string) (*domain.Subscription, error) {
			return nil, fmt.Errorf("%w: endpoint already registered", domain.ErrConflict)
		},
	}
	app := newSubscriptionTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/subscriptions", `{"endpoint":"https://push.example.com/abc"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSubscriptionIntegration_ListGetDelete(t *testing.T) {
	t.Parallel()

	removed := ""
	svc := &stubSubscriptionService{
		listFn: func(ctx context.Context) ([]domain.Subscription, error) {
			return []domain.Subscription{{ID: testSubscriptionID, Endpoint: "https://push.example.com/abc", Active: true}}, nil
		},
		getFn: func(ctx context.Context, id string) (*domain.Subscription, error) {
			if id != testSubscriptionID {
				return nil, domain.ErrNotFound
			}
			return &domain.Subscription{ID: id, Endpoint: "https://push.example.com/abc"}, nil
		},
		removeFn: func(ctx context.Context, id string) error {
			removed = id
			return nil
		},
	}
	app := newSubscriptionTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/subscriptions", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var list struct {
		Data []subscriptionResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != testSubscriptionID {
		t.Fatalf("list = %+v", list)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/"+testSubscriptionID, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/00000000-0000-0000-0000-000000000000", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("get status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/subscriptions/"+testSubscriptionID, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if removed != testSubscriptionID {
		t.Fatalf("removed = %q, want %q", removed, testSubscriptionID)
	}
}

func TestRegisterSubscriptionRoutesValidation(t *testing.T) {
	t.Parallel()

	if err := RegisterSubscriptionRoutes(fiber.New(), nil); err == nil {
		t.Fatal("expected error for nil service")
	}
}

type stubSubscriptionService struct {
	registerFn func(ctx context.Context, endpoint, label string) (*domain.Subscription, error)
	listFn     func(ctx context.Context) ([]domain.Subscription, error)
	getFn      func(ctx context.Context, id string) (*domain.Subscription, error)
	removeFn   func(ctx context.Context, id string) error
}

func (s *stubSubscriptionService) Register(ctx context.Context, endpoint, label string) (*domain.Subscription, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, endpoint, label)
	}
	return &domain.Subscription{}, nil
}

func (s *stubSubscriptionService) List(ctx context.Context) ([]domain.Subscription, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubSubscriptionService) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubSubscriptionService) Remove(ctx context.Context, id string) error {
	if s.removeFn != nil {
		return s.removeFn(ctx, id)
	}
	return nil
}

func newSubscriptionTestApp(t *testing.T, svc SubscriptionService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterSubscriptionRoutes(app, svc); err != nil {
		t.Fatalf("RegisterSubscriptionRoutes() error = %v", err)
	}

	return app
}
