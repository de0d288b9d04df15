// Package pipeline runs events through the scoring stages behind a bounded
// queue and a fixed worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/alerting"
	"github.com/lvonguyen/netsentry/internal/detect"
	"github.com/lvonguyen/netsentry/internal/event"
	"github.com/lvonguyen/netsentry/internal/observability"
)

var (
	// ErrQueueFull is returned when the queue cannot accept an event.
	ErrQueueFull = errors.New("event queue full")
	// ErrShuttingDown is returned once intake has stopped.
	ErrShuttingDown = errors.New("pipeline shutting down")
)

// OverflowPolicy selects what Submit does when the queue is full.
type OverflowPolicy string

const (
	// OverflowBlock waits for queue space, honoring the caller's context.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest evicts the oldest queued event to admit the new one.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

const (
	recentEventsCap = 1000
	recentAlertsCap = 500
)

// Config holds coordinator sizing and shutdown policy.
type Config struct {
	Workers        int            `yaml:"workers"`
	QueueCapacity  int            `yaml:"queue_capacity"`
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`
	DrainTimeout   time.Duration  `yaml:"drain_timeout"`
}

// Dispatcher delivers admitted alerts and reports channel health.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *alerting.Alert) alerting.DeliveryReport
	HealthSnapshot() []alerting.ChannelHealthSnapshot
}

// Sink mirrors completed events and threats to external storage. Sink errors
// are logged and never affect pipeline outcomes.
type Sink interface {
	RecordEvent(ctx context.Context, rec ProcessedEvent) error
	RecordThreat(ctx context.Context, rec ProcessedEvent) error
}

// ProcessedEvent is the terminal record kept for the recent-events view.
type ProcessedEvent struct {
	Event       event.Event     `json:"event"`
	Score       float64         `json:"score"`
	ThreatType  string          `json:"threat_type"`
	IsThreat    bool            `json:"is_threat"`
	Severity    detect.Severity `json:"severity,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
	LatencyMS   float64         `json:"latency_ms"`
}

// DrainReport summarizes what Shutdown managed to finish.
type DrainReport struct {
	Drained   int64 `json:"drained"`
	Abandoned int   `json:"abandoned"`
}

type submission struct {
	raw      any
	enqueued time.Time
}

// Dependencies wires the pipeline stages into the coordinator.
type Dependencies struct {
	Normalizer *event.Normalizer
	Ensemble   *detect.Ensemble
	Escalation detect.EscalationConfig
	Gate       *alerting.Gate
	Router     Dispatcher
	Sink       Sink // optional
	Logger     *zap.Logger
	Metrics    *observability.Metrics // optional
}

// Coordinator owns the bounded queue and worker pool. Every accepted event
// runs end-to-end through normalize, score, classify, gate and dispatch on a
// single worker; stage errors are recorded and the event still reaches a
// terminal state.
type Coordinator struct {
	config Config
	deps   Dependencies

	queue     chan submission
	accepting atomic.Bool
	// pending counts accepted-but-not-terminal events, covering both queued
	// and in-flight work so the drain check has no dequeue race.
	pending atomic.Int64

	stats   rollingStats
	events  *ring[ProcessedEvent]
	alerts  *ring[alerting.Alert]
	started time.Time

	// lastSystem is the most recent system snapshot, consulted when deciding
	// severity escalation for network threats.
	lastSystem atomic.Pointer[event.SystemPayload]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a stopped coordinator; call Start to spawn workers.
func NewCoordinator(cfg Config, deps Dependencies) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = OverflowBlock
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	c := &Coordinator{
		config: cfg,
		deps:   deps,
		queue:  make(chan submission, cfg.QueueCapacity),
		events: newRing[ProcessedEvent](recentEventsCap),
		alerts: newRing[alerting.Alert](recentAlertsCap),
	}
	c.accepting.Store(true)
	return c
}

// Start spawns the worker pool. Workers exit when Shutdown cancels them.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.started = time.Now()

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.deps.Logger.Info("pipeline started",
		zap.Int("workers", c.config.Workers),
		zap.Int("queue_capacity", c.config.QueueCapacity),
		zap.String("overflow_policy", string(c.config.OverflowPolicy)))
}

// Submit enqueues a raw record. Under the block policy a full queue waits on
// ctx; under drop_oldest the oldest queued event is evicted and counted.
func (c *Coordinator) Submit(ctx context.Context, raw any) error {
	if !c.accepting.Load() {
		return ErrShuttingDown
	}
	item := submission{raw: raw, enqueued: time.Now()}

	if c.config.OverflowPolicy == OverflowDropOldest {
		for {
			select {
			case c.queue <- item:
				c.pending.Add(1)
				c.observeQueue()
				return nil
			default:
			}
			select {
			case <-c.queue:
				c.pending.Add(-1)
				c.stats.dropped.Add(1)
				if m := c.deps.Metrics; m != nil {
					m.EventsDropped.Inc()
				}
			default:
			}
		}
	}

	select {
	case c.queue <- item:
		c.pending.Add(1)
		c.observeQueue()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

// QueueDepth returns the current queue length.
func (c *Coordinator) QueueDepth() int { return len(c.queue) }

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.queue:
			c.observeQueue()
			c.process(ctx, item)
			c.pending.Add(-1)
		}
	}
}

// process runs one submission to its terminal state. Stage errors never
// abort the worker loop.
func (c *Coordinator) process(ctx context.Context, item submission) {
	log := c.deps.Logger

	ev, err := c.normalize(item.raw)
	if err != nil {
		c.stats.processed.Add(1)
		c.stats.normalizationFailures.Add(1)
		c.finishLatency(item)
		if m := c.deps.Metrics; m != nil {
			m.NormalizationFailures.Inc()
			m.EventsProcessed.WithLabelValues("unknown", "malformed").Inc()
		}
		log.Warn("dropping malformed input", zap.Error(err))
		return
	}

	if ev.Kind == event.KindSystem && ev.System != nil {
		sys := *ev.System
		c.lastSystem.Store(&sys)
	}

	outcome := "ok"
	verdict, err := c.deps.Ensemble.Score(ev)
	if err != nil {
		// All detectors abstained; the event completes as a non-threat.
		c.stats.scoringDegraded.Add(1)
		outcome = "degraded"
		if m := c.deps.Metrics; m != nil {
			m.ScoringDegraded.Inc()
		}
		log.Warn("scoring degraded",
			zap.String("correlation_key", ev.CorrelationKey),
			zap.Error(err))
		verdict = detect.Verdict{Type: detect.TypeNormal}
	}

	var severity detect.Severity
	if verdict.IsThreat {
		outcome = "threat"
		severity = detect.ClassifySeverity(verdict, ev, c.lastSystem.Load(), c.deps.Escalation)
		c.stats.threats.Add(1)
		c.stats.recordSeverity(severity)
		if m := c.deps.Metrics; m != nil {
			m.ThreatsDetected.WithLabelValues(string(verdict.Type), string(severity)).Inc()
		}
	}

	alert, err := c.deps.Gate.Admit(ctx, ev, verdict, severity)
	if err != nil {
		log.Error("cooldown gate failed",
			zap.String("correlation_key", ev.CorrelationKey),
			zap.Error(err))
	}
	if verdict.IsThreat && alert == nil && err == nil {
		c.stats.suppressed.Add(1)
		if m := c.deps.Metrics; m != nil {
			m.AlertsSuppressed.Inc()
		}
	}

	if alert != nil {
		report := c.deps.Router.Dispatch(ctx, alert)
		c.stats.alertsDispatched.Add(1)
		c.stats.deliveryFailures.Add(int64(report.Failed))
		if m := c.deps.Metrics; m != nil {
			for _, d := range report.Deliveries {
				status := "sent"
				if !d.OK {
					status = "failed"
				}
				m.AlertsDispatched.WithLabelValues(string(d.Channel), status).Inc()
			}
		}
		c.alerts.push(*alert)
	}

	rec := ProcessedEvent{
		Event:       ev,
		Score:       verdict.Score,
		ThreatType:  string(verdict.Type),
		IsThreat:    verdict.IsThreat,
		Severity:    severity,
		Explanation: verdict.Explanation,
		ProcessedAt: time.Now(),
		LatencyMS:   float64(time.Since(item.enqueued)) / float64(time.Millisecond),
	}
	c.events.push(rec)
	c.stats.processed.Add(1)
	c.finishLatency(item)
	if m := c.deps.Metrics; m != nil {
		m.EventsProcessed.WithLabelValues(string(ev.Kind), outcome).Inc()
	}

	if s := c.deps.Sink; s != nil {
		if err := s.RecordEvent(ctx, rec); err != nil {
			log.Warn("event sink write failed", zap.Error(err))
		}
		if rec.IsThreat {
			if err := s.RecordThreat(ctx, rec); err != nil {
				log.Warn("threat sink write failed", zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) normalize(raw any) (event.Event, error) {
	switch r := raw.(type) {
	case event.RawPacketRecord:
		return c.deps.Normalizer.NormalizePacket(r)
	case event.RawMetricsRecord:
		return c.deps.Normalizer.NormalizeMetrics(r)
	default:
		return event.Event{}, fmt.Errorf("unsupported input type %T", raw)
	}
}

func (c *Coordinator) finishLatency(item submission) {
	d := time.Since(item.enqueued)
	c.stats.recordLatency(d)
	if m := c.deps.Metrics; m != nil {
		m.ProcessingDuration.Observe(d.Seconds())
	}
}

func (c *Coordinator) observeQueue() {
	if m := c.deps.Metrics; m != nil {
		m.QueueDepth.Set(float64(len(c.queue)))
	}
}

// StatsSnapshot returns the current counters.
func (c *Coordinator) StatsSnapshot() StatsSnapshot {
	snap := c.stats.snapshot()
	snap.QueueDepth = len(c.queue)
	snap.Workers = c.config.Workers
	if !c.started.IsZero() {
		snap.UptimeSeconds = time.Since(c.started).Seconds()
	}
	return snap
}

// RecentEvents returns up to n terminal event records, newest first.
func (c *Coordinator) RecentEvents(n int) []ProcessedEvent {
	return c.events.snapshot(n)
}

// RecentAlerts returns up to n admitted alerts, newest first.
func (c *Coordinator) RecentAlerts(n int) []alerting.Alert {
	return c.alerts.snapshot(n)
}

// ChannelHealth returns per-channel delivery health.
func (c *Coordinator) ChannelHealth() []alerting.ChannelHealthSnapshot {
	return c.deps.Router.HealthSnapshot()
}

// Shutdown stops intake, drains queued work under the drain timeout, then
// cancels in-flight workers. The queue channel is never closed so racing
// producers fail softly on the accepting flag instead of panicking.
func (c *Coordinator) Shutdown(ctx context.Context) DrainReport {
	c.accepting.Store(false)
	before := c.stats.processed.Load()

	deadline := time.NewTimer(c.config.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

drain:
	for {
		select {
		case <-ctx.Done():
			break drain
		case <-deadline.C:
			break drain
		case <-tick.C:
			if c.pending.Load() == 0 {
				break drain
			}
		}
	}

	abandoned := int(c.pending.Load())
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	report := DrainReport{
		Drained:   c.stats.processed.Load() - before,
		Abandoned: abandoned,
	}
	c.deps.Logger.Info("pipeline stopped",
		zap.Int64("drained", report.Drained),
		zap.Int("abandoned", report.Abandoned))
	return report
}
