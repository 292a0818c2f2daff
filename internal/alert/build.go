package alert

import (
	"github.com/chidi150c/tradeguard/internal/config"
	"github.com/chidi150c/tradeguard/internal/logger"
)

// Build creates a channel for every configured destination. Channels whose
// credentials are absent are skipped; a broken Telegram token is logged and
// skipped rather than failing startup. hub may be nil.
func Build(cfg config.AlertConfig, hub *Hub) *Dispatcher {
	var channels []Channel
	if cfg.SendGridAPIKey != "" && cfg.Email != "" {
		channels = append(channels, NewSendGrid(cfg.SendGridAPIKey, cfg.Email, cfg.FromEmail))
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Component("alert").Errorf("telegram channel disabled: %v", err)
		} else {
			channels = append(channels, tg)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, NewDiscord(cfg.DiscordWebhookURL))
	}
	if hub != nil {
		channels = append(channels, hub)
	}
	return NewDispatcher(cfg.Timeout, channels...)
}
