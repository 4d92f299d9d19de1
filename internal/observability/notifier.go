package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers a formatted alert message to an external channel.
// A failed Send is reported to the caller, never retried here.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// DefaultTelegramAPI is the Telegram Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// telegramNotifier posts messages through the Telegram Bot API.
type telegramNotifier struct {
	apiURL   string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Notifier that sends messages to chatID via
// the bot identified by botToken. An empty apiURL uses DefaultTelegramAPI.
func NewTelegramNotifier(apiURL, botToken, chatID string) Notifier {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &telegramNotifier{
		apiURL:   strings.TrimRight(apiURL, "/"),
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send posts message to the configured chat with Markdown formatting.
func (t *telegramNotifier) Send(ctx context.Context, message string) error {
	if t.botToken == "" || t.chatID == "" {
		return errors.New("telegram bot token or chat id not set")
	}
	body, err := json.Marshal(telegramMessage{ChatID: t.chatID, Text: message, ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("marshaling telegram message: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	return postJSON(ctx, t.client, url, body, "telegram")
}

// slackNotifier sends messages to a Slack incoming webhook.
type slackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Notifier that sends messages to the given Slack webhook URL.
func NewSlackNotifier(webhookURL string) Notifier {
	return &slackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send posts message as a header plus one mrkdwn section.
func (s *slackNotifier) Send(ctx context.Context, message string) error {
	if s.webhookURL == "" {
		return errors.New("slack webhook url not set")
	}
	msg := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Oura Alerts"}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: message}},
	}}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}
	return postJSON(ctx, s.client, s.webhookURL, body, "slack")
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, sink string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", sink, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", sink, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", sink, resp.StatusCode)
	}
	return nil
}

// multiNotifier fans a message out to several sinks.
type multiNotifier []Notifier

// NewMultiNotifier combines notifiers. Send tries all of them and joins
// their errors.
func NewMultiNotifier(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

func (m multiNotifier) Send(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
