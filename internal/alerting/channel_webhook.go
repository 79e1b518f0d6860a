package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const slackFooter = "KYC Monitoring System"

var slackColors = map[Level]string{
	LevelInfo:     "#36a64f",
	LevelWarning:  "#ff9800",
	LevelCritical: "#ff0000",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackChannel posts alerts to an incoming-webhook URL.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel returns nil when webhookURL is empty.
func NewSlackChannel(webhookURL string, client *http.Client) *SlackChannel {
	if webhookURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{}
	}
	return &SlackChannel{webhookURL: webhookURL, client: client}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Deliver(ctx context.Context, event Event) error {
	payload := slackPayload{Attachments: []slackAttachment{{
		Color: slackColors[event.Level()],
		Title: event.Title(),
		Text:  event.Message(),
		Fields: []slackField{
			{Title: "Level", Value: string(event.Level()), Short: true},
			{Title: "Time", Value: event.TimestampString(), Short: true},
		},
		Footer: slackFooter,
	}}}
	return postJSON(ctx, c.client, c.webhookURL, payload)
}

const defaultTelegramAPI = "https://api.telegram.org"

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramChannel sends alerts through the Bot API sendMessage method.
// Sends are throttled to stay under the per-chat limit.
type TelegramChannel struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// TelegramOption configures a TelegramChannel.
type TelegramOption func(*TelegramChannel)

// WithTelegramBaseURL points the channel at a different API host.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(c *TelegramChannel) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithTelegramRate overrides the send rate.
func WithTelegramRate(every time.Duration, burst int) TelegramOption {
	return func(c *TelegramChannel) {
		c.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// NewTelegramChannel returns nil when token or chatID is empty.
func NewTelegramChannel(token, chatID string, client *http.Client, opts ...TelegramOption) *TelegramChannel {
	if token == "" || chatID == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{}
	}
	c := &TelegramChannel{
		token:   token,
		chatID:  chatID,
		baseURL: defaultTelegramAPI,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Deliver(ctx context.Context, event Event) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram throttle: %w", err)
	}
	text := fmt.Sprintf("🚨 *%s*\nLevel: %s\n%s\nTime: %s",
		event.Title(), event.Level(), event.Message(), event.TimestampString())
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	return postJSON(ctx, c.client, endpoint, telegramMessage{
		ChatID:    c.chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
}

// postJSON sends payload to endpoint. Returned errors never contain the
// endpoint: webhook URLs and bot tokens are credentials.
func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", stripURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", stripURL(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// stripURL drops the request URL that net/http embeds in transport errors.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
