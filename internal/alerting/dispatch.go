package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// RouterConfig holds delivery policy shared by all channels.
type RouterConfig struct {
	// RetryCount is the number of retries after the first attempt, applied
	// to transient failures only.
	RetryCount int `yaml:"retry_count"`
	// DeliveryTimeout bounds a single delivery attempt.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// Router fans an alert out to its targeted channels. Channels deliver
// concurrently and independently: a slow or failing channel never blocks
// the others. Each channel sits behind its own circuit breaker so a dead
// endpoint degrades to fast failures instead of tying up workers.
type Router struct {
	config RouterConfig
	logger *zap.Logger

	email   *EmailChannel
	chat    *ChatChannel
	webhook *WebhookChannel
	log     *LogChannel

	breakers map[ChannelKind]*gobreaker.CircuitBreaker[struct{}]
	health   map[ChannelKind]*channelHealth

	// backoffBase is the first retry delay; doubled per retry.
	backoffBase time.Duration
}

type channelHealth struct {
	mu        sync.Mutex
	sent      int64
	failed    int64
	lastError string
	lastAt    time.Time
}

// ChannelHealthSnapshot is the read-only per-channel delivery health view.
type ChannelHealthSnapshot struct {
	Channel     ChannelKind `json:"channel"`
	Sent        int64       `json:"sent"`
	Failed      int64       `json:"failed"`
	LastError   string      `json:"last_error,omitempty"`
	LastAttempt time.Time   `json:"last_attempt,omitempty"`
	CircuitOpen bool        `json:"circuit_open"`
}

// NewRouter creates a Router over the given channel variants; nil channels
// are disabled.
func NewRouter(cfg RouterConfig, logger *zap.Logger, email *EmailChannel, chat *ChatChannel, webhook *WebhookChannel, log *LogChannel) *Router {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	r := &Router{
		config:      cfg,
		logger:      logger,
		email:       email,
		chat:        chat,
		webhook:     webhook,
		log:         log,
		breakers:    make(map[ChannelKind]*gobreaker.CircuitBreaker[struct{}]),
		health:      make(map[ChannelKind]*channelHealth),
		backoffBase: 500 * time.Millisecond,
	}
	for _, kind := range []ChannelKind{ChannelEmail, ChannelChat, ChannelWebhook, ChannelLog} {
		r.breakers[kind] = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    string(kind),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		r.health[kind] = &channelHealth{}
	}
	return r
}

// Dispatch delivers the alert on every targeted channel and appends the
// outcomes to the alert. The report records sent/failed per channel.
func (r *Router) Dispatch(ctx context.Context, a *Alert) DeliveryReport {
	deliveries := make([]Delivery, len(a.Channels))

	var wg sync.WaitGroup
	for i, kind := range a.Channels {
		wg.Add(1)
		go func(i int, kind ChannelKind) {
			defer wg.Done()
			deliveries[i] = r.deliver(ctx, kind, a)
		}(i, kind)
	}
	wg.Wait()

	report := DeliveryReport{AlertID: a.ID, Deliveries: deliveries}
	for _, d := range deliveries {
		if d.OK {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	a.Deliveries = append(a.Deliveries, deliveries...)
	return report
}

// deliver runs the retry loop for one channel behind its breaker.
func (r *Router) deliver(ctx context.Context, kind ChannelKind, a *Alert) Delivery {
	start := time.Now()
	send := r.channelFor(kind)
	if send == nil {
		return r.record(kind, Delivery{
			Channel: kind,
			Error:   "channel not configured",
		})
	}

	attempts := 0
	_, err := r.breakers[kind].Execute(func() (struct{}, error) {
		var lastErr error
		for attempt := 0; attempt <= r.config.RetryCount; attempt++ {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, r.config.DeliveryTimeout)
			lastErr = send(attemptCtx, a)
			cancel()

			if lastErr == nil {
				return struct{}{}, nil
			}
			if !isTransient(lastErr) || attempt == r.config.RetryCount {
				break
			}
			if err := r.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
		return struct{}{}, lastErr
	})

	d := Delivery{
		Channel:  kind,
		OK:       err == nil,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			d.Error = "circuit open: channel failing, delivery short-circuited"
		} else {
			d.Error = err.Error()
		}
		r.logger.Error("alert delivery failed",
			zap.String("alert_id", a.ID),
			zap.String("channel", string(kind)),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	return r.record(kind, d)
}

// channelFor matches a kind to its configured variant; the channel set is
// closed here.
func (r *Router) channelFor(kind ChannelKind) func(context.Context, *Alert) error {
	switch kind {
	case ChannelEmail:
		if r.email != nil {
			return r.email.deliver
		}
	case ChannelChat:
		if r.chat != nil {
			return r.chat.deliver
		}
	case ChannelWebhook:
		if r.webhook != nil {
			return r.webhook.deliver
		}
	case ChannelLog:
		if r.log != nil {
			return r.log.deliver
		}
	}
	return nil
}

func (r *Router) backoff(ctx context.Context, attempt int) error {
	delay := r.backoffBase << attempt
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) record(kind ChannelKind, d Delivery) Delivery {
	h := r.health[kind]
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastAt = time.Now()
	if d.OK {
		h.sent++
		h.lastError = ""
	} else {
		h.failed++
		h.lastError = d.Error
	}
	return d
}

// HealthSnapshot returns per-channel delivery health for the read interface.
func (r *Router) HealthSnapshot() []ChannelHealthSnapshot {
	out := make([]ChannelHealthSnapshot, 0, len(r.health))
	for _, kind := range []ChannelKind{ChannelEmail, ChannelChat, ChannelWebhook, ChannelLog} {
		h := r.health[kind]
		h.mu.Lock()
		snap := ChannelHealthSnapshot{
			Channel:     kind,
			Sent:        h.sent,
			Failed:      h.failed,
			LastError:   h.lastError,
			LastAttempt: h.lastAt,
			CircuitOpen: r.breakers[kind].State() == gobreaker.StateOpen,
		}
		h.mu.Unlock()
		out = append(out, snap)
	}
	return out
}
