package alert

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const sendGridBaseURL = "https://api.sendgrid.com"

// EmailSubject is the subject line of every alert email.
const EmailSubject = "ALERT: Crypto Trading System"

// SendGrid delivers alerts as plain-text email through the SendGrid v3 API.
type SendGrid struct {
	client *resty.Client
	apiKey string
	to     string
	from   string
}

func NewSendGrid(apiKey, to, from string) *SendGrid {
	return NewSendGridWithBaseURL(sendGridBaseURL, apiKey, to, from)
}

func NewSendGridWithBaseURL(baseURL, apiKey, to, from string) *SendGrid {
	return &SendGrid{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		apiKey: apiKey,
		to:     to,
		from:   from,
	}
}

func (s *SendGrid) Name() string { return "email" }

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

func (s *SendGrid) Send(ctx context.Context, message string) error {
	p := sendGridPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: s.to}}}},
		From:             sendGridAddress{Email: s.from},
		Subject:          EmailSubject,
		Content:          []sendGridContent{{Type: "text/plain", Value: message}},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(p).
		Post("/v3/mail/send")
	if err != nil {
		return errors.Wrap(err, "sendgrid")
	}
	if resp.IsError() {
		return errors.Errorf("sendgrid: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
