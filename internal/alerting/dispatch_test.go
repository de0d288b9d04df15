package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/detect"
)

func testAlert(channels ...ChannelKind) *Alert {
	return &Alert{
		ID:             "test-alert-1",
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Severity:       detect.SeverityHigh,
		Title:          "Threat detected: high",
		Description:    "Threat type: high. Oversized transfer detected",
		CorrelationKey: "10.0.0.5",
		ThreatType:     detect.TypeHigh,
		Score:          0.85,
		Confidence:     0.8,
		Channels:       channels,
	}
}

func newTestRouter(t *testing.T, webhookURL, chatURL string) *Router {
	t.Helper()
	var webhook *WebhookChannel
	if webhookURL != "" {
		webhook = NewWebhookChannel(WebhookConfig{Enabled: true, URL: webhookURL})
	}
	var chat *ChatChannel
	if chatURL != "" {
		chat = NewChatChannel(ChatConfig{Enabled: true, WebhookURL: chatURL})
	}
	r := NewRouter(
		RouterConfig{RetryCount: 2, DeliveryTimeout: time.Second},
		zap.NewNop(),
		nil, chat, webhook, NewLogChannel(zap.NewNop()),
	)
	r.backoffBase = time.Millisecond
	return r
}

// =============================================================================
// Webhook Delivery Tests
// =============================================================================

// TestDispatch_WebhookPayloadFields verifies the generic webhook contract:
// the JSON body carries at least id, timestamp, severity, title and
// description.
func TestDispatch_WebhookPayloadFields(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := newTestRouter(t, server.URL, "")
	report := r.Dispatch(context.Background(), testAlert(ChannelWebhook))

	if report.Sent != 1 || report.Failed != 0 {
		t.Fatalf("expected 1 sent / 0 failed, got %d / %d", report.Sent, report.Failed)
	}
	for _, field := range []string{"id", "timestamp", "severity", "title", "description"} {
		if _, ok := got[field]; !ok {
			t.Errorf("payload missing required field %q", field)
		}
	}
	if got["id"] != "test-alert-1" || got["severity"] != "high" {
		t.Errorf("unexpected payload values: %v", got)
	}
}

// TestDispatch_RetriesTransientThenSucceeds verifies bounded retry with
// backoff: two 500s followed by a 200 end in success with three attempts.
func TestDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := newTestRouter(t, server.URL, "")
	report := r.Dispatch(context.Background(), testAlert(ChannelWebhook))

	if report.Sent != 1 {
		t.Fatalf("expected delivery to succeed after retries, got %+v", report)
	}
	if report.Deliveries[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", report.Deliveries[0].Attempts)
	}
}

// TestDispatch_NoRetryOnPermanentFailure verifies 4xx responses are not
// retried.
func TestDispatch_NoRetryOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	r := newTestRouter(t, server.URL, "")
	report := r.Dispatch(context.Background(), testAlert(ChannelWebhook))

	if report.Failed != 1 {
		t.Fatalf("expected failure, got %+v", report)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("permanent failure must not be retried, got %d calls", n)
	}
}

// TestDispatch_InvalidURLIsPermanent verifies a malformed endpoint fails
// immediately as a permanent error.
func TestDispatch_InvalidURLIsPermanent(t *testing.T) {
	webhook := NewWebhookChannel(WebhookConfig{Enabled: true, URL: "not a url"})

	err := webhook.deliver(context.Background(), testAlert(ChannelWebhook))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent delivery error, got %v", err)
	}
}

// =============================================================================
// Channel Isolation Tests
// =============================================================================

// TestDispatch_SlowChannelDoesNotBlockOthers verifies per-channel
// independence: a channel stalled past its timeout fails alone while the
// healthy channel delivers.
func TestDispatch_SlowChannelDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() { close(release); slow.Close() }()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	chat := NewChatChannel(ChatConfig{Enabled: true, WebhookURL: slow.URL})
	webhook := NewWebhookChannel(WebhookConfig{Enabled: true, URL: fast.URL})
	r := NewRouter(
		RouterConfig{RetryCount: 0, DeliveryTimeout: 50 * time.Millisecond},
		zap.NewNop(), nil, chat, webhook, nil,
	)
	r.backoffBase = time.Millisecond

	start := time.Now()
	report := r.Dispatch(context.Background(), testAlert(ChannelChat, ChannelWebhook))
	elapsed := time.Since(start)

	if report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("expected 1 sent / 1 failed, got %d / %d", report.Sent, report.Failed)
	}
	for _, d := range report.Deliveries {
		if d.Channel == ChannelWebhook && !d.OK {
			t.Error("healthy channel should have delivered")
		}
		if d.Channel == ChannelChat && d.OK {
			t.Error("stalled channel should have timed out")
		}
	}
	// Both channels run concurrently; total time is bounded by the slow
	// channel's single timeout, not the sum.
	if elapsed > time.Second {
		t.Errorf("dispatch took %v, channels are not independent", elapsed)
	}
}

// TestDispatch_UnconfiguredChannelFails verifies a targeted but unconfigured
// channel records a failure without panicking.
func TestDispatch_UnconfiguredChannelFails(t *testing.T) {
	r := newTestRouter(t, "", "")
	report := r.Dispatch(context.Background(), testAlert(ChannelEmail))

	if report.Failed != 1 {
		t.Fatalf("expected failure for unconfigured channel, got %+v", report)
	}
	if report.Deliveries[0].Error != "channel not configured" {
		t.Errorf("unexpected error %q", report.Deliveries[0].Error)
	}
}

// =============================================================================
// Circuit Breaker and Health Tests
// =============================================================================

// TestDispatch_BreakerOpensAfterConsecutiveFailures verifies the per-channel
// breaker short-circuits once the endpoint keeps failing.
func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest) // permanent: one attempt per dispatch
	}))
	defer server.Close()

	r := newTestRouter(t, server.URL, "")

	for i := 0; i < 5; i++ {
		r.Dispatch(context.Background(), testAlert(ChannelWebhook))
	}
	before := calls.Load()

	report := r.Dispatch(context.Background(), testAlert(ChannelWebhook))
	if report.Failed != 1 {
		t.Fatalf("expected failure, got %+v", report)
	}
	if calls.Load() != before {
		t.Error("open breaker should short-circuit without calling the endpoint")
	}

	var open bool
	for _, h := range r.HealthSnapshot() {
		if h.Channel == ChannelWebhook {
			open = h.CircuitOpen
			if h.Failed == 0 {
				t.Error("health snapshot should count failures")
			}
		}
	}
	if !open {
		t.Error("health snapshot should report the webhook circuit open")
	}
}

// TestDispatch_HealthSnapshotCounts verifies sent/failed accounting.
func TestDispatch_HealthSnapshotCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := newTestRouter(t, server.URL, "")
	r.Dispatch(context.Background(), testAlert(ChannelWebhook, ChannelLog))
	r.Dispatch(context.Background(), testAlert(ChannelWebhook))

	for _, h := range r.HealthSnapshot() {
		switch h.Channel {
		case ChannelWebhook:
			if h.Sent != 2 || h.Failed != 0 {
				t.Errorf("webhook: expected 2/0, got %d/%d", h.Sent, h.Failed)
			}
		case ChannelLog:
			if h.Sent != 1 {
				t.Errorf("log: expected 1 sent, got %d", h.Sent)
			}
		}
	}
}

// =============================================================================
// Email Channel Tests
// =============================================================================

// TestEmailChannel_MessageFormat verifies subject and body layout.
func TestEmailChannel_MessageFormat(t *testing.T) {
	var sentMsg []byte
	ch := NewEmailChannel(EmailConfig{
		Enabled:  true,
		SMTPAddr: "localhost:25",
		From:     "netsentry@example.com",
		To:       []string{"soc@example.com"},
	})
	ch.send = func(addr, from string, to []string, msg []byte) error {
		sentMsg = msg
		return nil
	}

	if err := ch.deliver(context.Background(), testAlert(ChannelEmail)); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	body := string(sentMsg)
	for _, want := range []string{
		"Subject: [HIGH] Threat detected: high",
		"Threat Score: 0.85",
		"Threat Type: high",
		"Confidence: 0.80",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("message missing %q:\n%s", want, body)
		}
	}
}

// TestEmailChannel_TimeoutBounded verifies a hung SMTP server cannot stall
// delivery past the context deadline.
func TestEmailChannel_TimeoutBounded(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	ch := NewEmailChannel(EmailConfig{Enabled: true, SMTPAddr: "localhost:25", From: "a@b", To: []string{"c@d"}})
	ch.send = func(addr, from string, to []string, msg []byte) error {
		<-block
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ch.deliver(ctx, testAlert(ChannelEmail))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
