package alert

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mymmrac/telego"
	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// Slack posts to an incoming webhook.
type Slack struct {
	webhookURL string
}

func NewSlack(webhookURL string) *Slack { return &Slack{webhookURL: webhookURL} }

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, message string) error {
	return slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: banner(message)})
}

// Telegram sends a bot message to one chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegram validates the token format; it does not contact the API.
func NewTelegram(token string, chatID int64, opts ...telego.BotOption) (*Telegram, error) {
	opts = append([]telego.BotOption{telego.WithDiscardLogger()}, opts...)
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, message string) error {
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: t.chatID},
		Text:      banner(message),
		ParseMode: telego.ModeMarkdown,
	})
	return errors.Wrap(err, "telegram")
}

// Discord posts an embed to a webhook.
type Discord struct {
	client     *resty.Client
	webhookURL string
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     resty.New().SetTimeout(15 * time.Second),
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, message string) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       "Crypto Trading Alert",
				"description": message,
				"color":       0xE74C3C,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	resp, err := d.client.R().SetContext(ctx).SetBody(payload).Post(d.webhookURL)
	if err != nil {
		return errors.Wrap(err, "discord")
	}
	if resp.StatusCode() >= 400 {
		return errors.Errorf("discord returned status: %d", resp.StatusCode())
	}
	return nil
}
