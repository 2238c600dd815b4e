package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/internal/notify"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// BuildEmailSender picks the alert email provider. It returns the sender, the
// provider actually used, and why a requested provider was replaced by the stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub", "missing config"
	}

	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "sendgrid", ""
		}
		return notify.NewStubEmailSender(logger), "stub", "SENDGRID_API_KEY not set"
	case "ses":
		if awsCfg == nil || strings.TrimSpace(cfg.SESFromEmail) == "" {
			return notify.NewStubEmailSender(logger), "stub", "SES requires AWS config and SES_FROM_EMAIL"
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigSet,
		}, logger)
		return sender, "ses", ""
	default:
		return notify.NewStubEmailSender(logger), "stub", ""
	}
}
