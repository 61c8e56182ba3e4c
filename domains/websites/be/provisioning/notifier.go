package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/etewiah/property-web-builder-sub002/domains/websites/be/service"
)

// verificationRequest is the payload posted to the mail gateway.
type verificationRequest struct {
	Email     string `json:"email"`
	Subdomain string `json:"subdomain"`
	Token     string `json:"token"`
}

// MailGatewayNotifier posts verification mails to an external mail gateway.
type MailGatewayNotifier struct {
	client *resty.Client
	logger *zap.Logger
}

// NewMailGatewayNotifier constructs a notifier against the gateway base URL.
func NewMailGatewayNotifier(baseURL string, logger *zap.Logger) *MailGatewayNotifier {
	if baseURL == "" {
		panic("mail gateway base url is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &MailGatewayNotifier{client: client, logger: logger}
}

// SendVerification posts the verification mail request.
func (n *MailGatewayNotifier) SendVerification(ctx context.Context, site service.Website, token string) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(verificationRequest{
			Email:     site.OwnerEmail,
			Subdomain: site.Subdomain,
			Token:     token,
		}).
		Post("/v1/mails/verification")
	if err != nil {
		return fmt.Errorf("post verification mail: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post verification mail: gateway returned %s", resp.Status())
	}
	n.logger.Debug("verification mail queued",
		zap.Int64("website_id", site.ID), zap.String("email", site.OwnerEmail))
	return nil
}

// LogNotifier is the fallback when no mail gateway is configured: it records
// the token in the log so local and staging runs can complete verification.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the fallback notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		panic("logger is required")
	}
	return &LogNotifier{logger: logger}
}

// SendVerification logs the token instead of mailing it.
func (n *LogNotifier) SendVerification(_ context.Context, site service.Website, token string) error {
	n.logger.Info("no mail gateway configured, verification token logged",
		zap.Int64("website_id", site.ID),
		zap.String("email", site.OwnerEmail),
		zap.String("token", token))
	return nil
}

// Ensure interface compliance.
var (
	_ service.Notifier = (*MailGatewayNotifier)(nil)
	_ service.Notifier = (*LogNotifier)(nil)
)
