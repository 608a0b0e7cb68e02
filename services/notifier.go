package services

import (
	"context"
	"fmt"
	"time"

	"fallguard/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPNotifier posts fall notifications to the remote endpoint
type HTTPNotifier struct {
	logger     *zap.Logger
	endpoint   string
	httpClient *resty.Client
}

// NewHTTPNotifier creates a notifier. The client never retries; the
// escalator owns retry policy.
func NewHTTPNotifier(logger *zap.Logger, endpoint string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "FallGuard/1.0")

	return &HTTPNotifier{
		logger:     logger,
		endpoint:   endpoint,
		httpClient: client,
	}
}

// Notify sends the notification via HTTP POST
func (h *HTTPNotifier) Notify(ctx context.Context, n models.FallNotification) error {
	if h.endpoint == "" {
		return fmt.Errorf("notification endpoint is not configured")
	}

	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetBody(n).
		Post(h.endpoint)
	if err != nil {
		h.logger.Error("Failed to send fall notification",
			zap.Error(err),
			zap.String("url", h.endpoint))
		return fmt.Errorf("failed to send request: %w", err)
	}

	if resp.IsSuccess() {
		h.logger.Info("Fall notification sent successfully",
			zap.String("gmap_link", n.GmapLink),
			zap.Int("status_code", resp.StatusCode()))
		return nil
	}

	h.logger.Error("Notification endpoint returned error",
		zap.Int("status_code", resp.StatusCode()),
		zap.String("status", resp.Status()))
	return fmt.Errorf("notification endpoint error: %s", resp.Status())
}
