package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

// SlackTimeout is the request timeout of a SlackWebhook
const SlackTimeout = 5 * time.Second

// ErrDelivery is generated when a sink's remote end rejects a message
var ErrDelivery = errors.New("notification rejected")

// Sink sends text somewhere
type Sink interface {
	Send(ctx context.Context, text string) error
}

// SlackWebhook posts messages to a Slack incoming webhook
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

// NewSlackWebhook returns a webhook sink for url
func NewSlackWebhook(url string) *SlackWebhook {
	return &SlackWebhook{URL: url, Client: &http.Client{Timeout: SlackTimeout}}
}

// Send posts {"text": text} to the webhook.  Any non-2xx reply is an error.
func (s *SlackWebhook) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: slack replied %s", ErrDelivery, resp.Status)
	}
	return nil
}

// telegramSender is the part of *telebot.Bot used here
type telegramSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Telegram sends messages to one chat through a bot
type Telegram struct {
	bot  telegramSender
	chat *telebot.Chat
}

// NewTelegram returns a sink sending to chatID with the bot token.
// The bot only sends; it never polls for updates.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chat: &telebot.Chat{ID: chatID}}, nil
}

// Send sends text to the chat
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text)
	return err
}

// LogSink writes messages to a logger
type LogSink struct {
	Log *zap.SugaredLogger
}

// Send logs text at warn level
func (l LogSink) Send(ctx context.Context, text string) error {
	l.Log.Warnw("notification", "text", text)
	return nil
}
