package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SMSConfig holds the gateway transport and credential fields
type SMSConfig struct {
	GatewayURL      string
	AccountSID      string
	AuthToken       string
	FromNumber      string
	RecipientNumber string
	// Template receives the map link through a single %s verb
	Template string
	Timeout  time.Duration
}

// SMSGateway sends SMS through a Twilio-compatible messages API
type SMSGateway struct {
	config     SMSConfig
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewSMSGateway creates a gateway client for the configured account
func NewSMSGateway(cfg SMSConfig, logger *zap.Logger) *SMSGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Template == "" {
		cfg.Template = "Fall detected! Need assistance! %s"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.GatewayURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &SMSGateway{
		config:     cfg,
		httpClient: client,
		logger:     logger,
	}
}

// FormatMessage renders the SMS body for a map link. The first %s in the
// template is replaced; any other text, including a bare %, is kept as is.
func (g *SMSGateway) FormatMessage(mapLink string) string {
	if !strings.Contains(g.config.Template, "%s") {
		return g.config.Template + " " + mapLink
	}
	return strings.Replace(g.config.Template, "%s", mapLink, 1)
}

// SendFallSMS sends the fall message with the map link to the configured recipient
func (g *SMSGateway) SendFallSMS(ctx context.Context, mapLink string) error {
	if mapLink == "" {
		return fmt.Errorf("map link is empty")
	}
	if g.config.AccountSID == "" || g.config.AuthToken == "" {
		return fmt.Errorf("sms credentials are not configured")
	}
	if g.config.FromNumber == "" || g.config.RecipientNumber == "" {
		return fmt.Errorf("sms sender or recipient is not configured")
	}

	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"Body": g.FormatMessage(mapLink),
			"From": g.config.FromNumber,
			"To":   g.config.RecipientNumber,
		}).
		Post("/Accounts/" + g.config.AccountSID + "/Messages.json")
	if err != nil {
		g.logger.Error("Failed to send SMS", zap.Error(err))
		return fmt.Errorf("failed to send sms: %w", err)
	}

	if !resp.IsSuccess() {
		g.logger.Error("SMS gateway returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()))
		return fmt.Errorf("sms gateway error: %s", resp.Status())
	}

	g.logger.Info("SMS sent successfully",
		zap.String("recipient", g.config.RecipientNumber),
		zap.Int("status_code", resp.StatusCode()))
	return nil
}
