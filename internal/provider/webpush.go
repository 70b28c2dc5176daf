package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/calendar-push/internal/domain"
	"github.com/kursadbilgin/calendar-push/internal/observability"
	"github.com/kursadbilgin/calendar-push/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPushTimeout     = 10 * time.Second
	defaultPushConcurrency = 8
)

// SubscriptionSource is the subset of the subscription repository the sender needs.
type SubscriptionSource interface {
	ListActive(ctx context.Context) ([]domain.Subscription, error)
	Deactivate(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, at time.Time) error
}

// WebPushProvider posts batch notifications to every active subscription endpoint.
type WebPushProvider struct {
	client        *resty.Client
	subscriptions SubscriptionSource
	limiter       ratelimit.RateLimiter
	concurrency   int
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

type WebPushOptions struct {
	Timeout     time.Duration
	Concurrency int
	Limiter     ratelimit.RateLimiter
	Logger      *zap.Logger
}

func NewWebPushProvider(subscriptions SubscriptionSource, opts WebPushOptions) (*WebPushProvider, error) {
	client := resty.New()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	client.SetTimeout(timeout)

	return NewWebPushProviderWithClient(subscriptions, client, opts)
}

func NewWebPushProviderWithClient(
	subscriptions SubscriptionSource,
	client *resty.Client,
	opts WebPushOptions,
) (*WebPushProvider, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription source is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	client.SetRetryCount(0)

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = defaultPushConcurrency
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebPushProvider{
		client:        client,
		subscriptions: subscriptions,
		limiter:       limiter,
		concurrency:   concurrency,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (p *WebPushProvider) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Send delivers payload to all active subscribers. It returns an error when
// listing subscribers fails or when every delivery failed.
func (p *WebPushProvider) Send(ctx context.Context, payload PushPayload) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("push provider is not initialized")
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Body) == "" {
		return nil, &ProviderError{Message: "payload title and body are required"}
	}

	subs, err := p.subscriptions.ListActive(ctx)
	if err != nil {
		return nil, &ProviderError{
			Message:   "failed to list active subscriptions",
			Transient: true,
			Cause:     err,
		}
	}
	if len(subs) == 0 {
		p.logger.Info("no active push subscriptions, nothing to deliver")
		return &SendResult{}, nil
	}

	var succeeded, failed atomic.Int64
	var (
		errMu   sync.Mutex
		lastErr error
	)

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			if err := p.deliver(ctx, sub, payload); err != nil {
				failed.Add(1)
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				p.logger.Warn("push delivery failed",
					zap.String("subscriptionId", sub.ID),
					zap.Error(err),
				)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &SendResult{
		SuccessCount: int(succeeded.Load()),
		FailureCount: int(failed.Load()),
	}

	if result.SuccessCount == 0 && result.FailureCount > 0 {
		return result, &ProviderError{
			Message:   fmt.Sprintf("delivery failed for all %d subscribers", result.FailureCount),
			Transient: IsTransient(lastErr),
			Cause:     lastErr,
		}
	}

	return result, nil
}

func (p *WebPushProvider) deliver(ctx context.Context, sub domain.Subscription, payload PushPayload) error {
	if err := p.limiter.Wait(ctx, endpointHost(sub.Endpoint)); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := p.now()
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("TTL", "86400").
		SetBody(payload).
		Post(sub.Endpoint)
	p.metrics.ObservePushSendDuration(p.now().Sub(start))

	if err != nil {
		p.metrics.IncPushDelivery("error")
		p.recordFailure(ctx, sub)
		return &ProviderError{
			Message:   "push request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		p.metrics.IncPushDelivery("success")
		return nil
	}

	// The push service reports expired endpoints with 404 or 410.
	if statusCode == http.StatusNotFound || statusCode == http.StatusGone {
		p.metrics.IncPushDelivery("expired")
		if deactivateErr := p.subscriptions.Deactivate(ctx, sub.ID); deactivateErr != nil {
			p.logger.Error("failed to deactivate expired subscription",
				zap.String("subscriptionId", sub.ID),
				zap.Error(deactivateErr),
			)
		}
		return &ProviderError{
			StatusCode: statusCode,
			Message:    "subscription expired",
		}
	}

	p.metrics.IncPushDelivery("rejected")
	p.recordFailure(ctx, sub)
	return &ProviderError{
		StatusCode: statusCode,
		Message:    pushErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (p *WebPushProvider) recordFailure(ctx context.Context, sub domain.Subscription) {
	if err := p.subscriptions.RecordFailure(ctx, sub.ID, p.now().UTC()); err != nil {
		p.logger.Error("failed to record subscription failure",
			zap.String("subscriptionId", sub.ID),
			zap.Error(err),
		)
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func pushErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("push endpoint returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func endpointHost(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}
