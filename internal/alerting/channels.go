package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/detect"
)

// webhookPayload is the generic JSON body POSTed to webhook endpoints.
type webhookPayload struct {
	ID             string  `json:"id"`
	Timestamp      string  `json:"timestamp"`
	Severity       string  `json:"severity"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Score          float64 `json:"score"`
	ThreatType     string  `json:"threat_type"`
	Confidence     float64 `json:"confidence"`
	CorrelationKey string  `json:"correlation_key"`
}

func newWebhookPayload(a *Alert) webhookPayload {
	return webhookPayload{
		ID:             a.ID,
		Timestamp:      a.CreatedAt.UTC().Format(time.RFC3339),
		Severity:       string(a.Severity),
		Title:          a.Title,
		Description:    a.Description,
		Score:          a.Score,
		ThreatType:     string(a.ThreatType),
		Confidence:     a.Confidence,
		CorrelationKey: a.CorrelationKey,
	}
}

// EmailConfig holds SMTP channel settings.
type EmailConfig struct {
	Enabled  bool          `yaml:"enabled"`
	SMTPAddr string        `yaml:"smtp_addr"`
	From     string        `yaml:"from"`
	To       []string      `yaml:"to"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EmailChannel delivers alerts as SMTP messages.
type EmailChannel struct {
	config EmailConfig
	// send is swappable in tests; defaults to smtp.SendMail.
	send func(addr, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{
		config: cfg,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (c *EmailChannel) deliver(ctx context.Context, a *Alert) error {
	msg := buildEmailMessage(c.config.From, c.config.To, a)

	// net/smtp carries no context; bound the call with a goroutine so a
	// stalled server cannot hold a pipeline worker past the deadline.
	done := make(chan error, 1)
	go func() {
		done <- c.send(c.config.SMTPAddr, c.config.From, c.config.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &DeliveryError{Channel: ChannelEmail, Permanent: false, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &DeliveryError{Channel: ChannelEmail, Permanent: false, Err: ctx.Err()}
	}
}

func buildEmailMessage(from string, to []string, a *Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(a.Severity)), a.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Alert %s\r\n\r\n", a.ID)
	fmt.Fprintf(&b, "Severity: %s\r\n", strings.ToUpper(string(a.Severity)))
	fmt.Fprintf(&b, "Time: %s\r\n", a.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Source: %s\r\n\r\n", a.CorrelationKey)
	fmt.Fprintf(&b, "Threat Score: %.2f\r\n", a.Score)
	fmt.Fprintf(&b, "Threat Type: %s\r\n", a.ThreatType)
	fmt.Fprintf(&b, "Confidence: %.2f\r\n\r\n", a.Confidence)
	fmt.Fprintf(&b, "%s\r\n", a.Description)
	return []byte(b.String())
}

// ChatConfig holds chat-webhook channel settings.
type ChatConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ChatChannel delivers alerts as rich chat-webhook messages.
type ChatChannel struct {
	config ChatConfig
	client *http.Client
}

// NewChatChannel creates a chat channel.
func NewChatChannel(cfg ChatConfig) *ChatChannel {
	return &ChatChannel{config: cfg, client: &http.Client{}}
}

type chatMessage struct {
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Fields []chatField `json:"fields"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (c *ChatChannel) deliver(ctx context.Context, a *Alert) error {
	msg := chatMessage{
		Text: fmt.Sprintf("*%s*", a.Title),
		Attachments: []chatAttachment{{
			Color: severityColor(a.Severity),
			Fields: []chatField{
				{Title: "Severity", Value: strings.ToUpper(string(a.Severity)), Short: true},
				{Title: "Time", Value: a.CreatedAt.UTC().Format(time.RFC3339), Short: true},
				{Title: "Threat Score", Value: fmt.Sprintf("%.2f", a.Score), Short: true},
				{Title: "Threat Type", Value: string(a.ThreatType), Short: true},
				{Title: "Confidence", Value: fmt.Sprintf("%.2f", a.Confidence), Short: true},
				{Title: "Source", Value: a.CorrelationKey, Short: true},
				{Title: "Description", Value: a.Description, Short: false},
			},
		}},
	}
	return postJSON(ctx, c.client, ChannelChat, c.config.WebhookURL, msg)
}

func severityColor(s detect.Severity) string {
	switch s {
	case detect.SeverityLow:
		return "good"
	case detect.SeverityMedium:
		return "warning"
	default:
		return "danger"
	}
}

// WebhookConfig holds generic webhook channel settings.
type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebhookChannel delivers alerts as generic JSON POSTs.
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a generic webhook channel.
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	return &WebhookChannel{config: cfg, client: &http.Client{}}
}

func (c *WebhookChannel) deliver(ctx context.Context, a *Alert) error {
	return postJSON(ctx, c.client, ChannelWebhook, c.config.URL, newWebhookPayload(a))
}

// LogChannel writes alerts to the structured log.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) deliver(_ context.Context, a *Alert) error {
	c.logger.Warn("ALERT",
		zap.String("id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.String("title", a.Title),
		zap.String("description", a.Description),
		zap.String("correlation_key", a.CorrelationKey),
		zap.Float64("score", a.Score),
		zap.String("threat_type", string(a.ThreatType)),
		zap.Float64("confidence", a.Confidence),
	)
	return nil
}

// postJSON POSTs body to rawURL and classifies failures: endpoint/encoding
// problems and 4xx responses are permanent, network errors, timeouts, 429
// and 5xx are transient.
func postJSON(ctx context.Context, client *http.Client, kind ChannelKind, rawURL string, body any) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &DeliveryError{Channel: kind, Permanent: true, Err: fmt.Errorf("invalid webhook URL %q", rawURL)}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &DeliveryError{Channel: kind, Permanent: true, Err: fmt.Errorf("encoding payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Channel: kind, Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NetSentry/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: kind, Permanent: false, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &DeliveryError{Channel: kind, Permanent: false, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	default:
		return &DeliveryError{Channel: kind, Permanent: true, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}
}

// isTransient reports whether a delivery error is worth retrying.
func isTransient(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return !de.Permanent
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}
