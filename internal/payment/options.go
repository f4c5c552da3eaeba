package payment

import (
	"qrfare/backend/internal/config"
	"qrfare/backend/internal/ticketing"
)

// OptionsFromConfig maps service configuration onto flow options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SuccessURL:          cfg.Payment.SuccessURL,
		FailURL:             cfg.Payment.FailURL,
		DefaultFareID:       cfg.Backend.DefaultFareID,
		SuccessCodes:        cfg.Payment.SuccessCodes,
		SettleDelay:         cfg.Payment.SettleDelay,
		ConfirmPollAttempts: cfg.Payment.ConfirmPollAttempts,
		ConfirmPollBackoff:  cfg.Payment.ConfirmPollBackoff,
		QRSize:              cfg.QR.Size,
		QRLevel:             ticketing.ParseRecoveryLevel(cfg.QR.Level),
	}
}
