package bootstrap

import (
	appconfig "github.com/wolfman30/care-whatsapp-bot/internal/config"
	"github.com/wolfman30/care-whatsapp-bot/internal/messaging"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// BuildSMSSender selects the passcode SMS provider and wraps it with
// delivery metrics. It never returns nil: with no provider configured
// outside production, codes are written to the log.
func BuildSMSSender(cfg *appconfig.Config, metrics messaging.Metrics, logger *logging.Logger) (messaging.Sender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return messaging.NewInstrumentedSender(messaging.NewLogSender(logger), messaging.SMSProviderLog, metrics), messaging.SMSProviderLog
	}

	sender, provider, reason := messaging.BuildSender(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TelnyxFromNumber: cfg.TelnyxFromNumber,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}, logger)
	if sender == nil {
		logger.Warn("no SMS provider configured; passcodes go to the log", "reason", reason)
		sender, provider = messaging.NewLogSender(logger), messaging.SMSProviderLog
	} else {
		logger.Info("sms provider selected", "provider", provider, "reason", reason)
	}
	if provider == messaging.SMSProviderLog && cfg.Env == "production" {
		logger.Warn("passcodes are logged instead of sent in production")
	}
	return messaging.NewInstrumentedSender(sender, provider, metrics), provider
}
