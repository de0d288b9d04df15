package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/lvonguyen/netsentry/internal/detect"
)

// rollingStats accumulates pipeline counters. All fields are atomic so the
// hot path never takes a lock; the mean latency is derived at snapshot time
// from a running sum.
type rollingStats struct {
	processed             atomic.Int64
	threats               atomic.Int64
	normalizationFailures atomic.Int64
	scoringDegraded       atomic.Int64
	suppressed            atomic.Int64
	dropped               atomic.Int64
	alertsDispatched      atomic.Int64
	deliveryFailures      atomic.Int64

	severityLow      atomic.Int64
	severityMedium   atomic.Int64
	severityHigh     atomic.Int64
	severityCritical atomic.Int64

	latencyCount atomic.Int64
	latencySum   atomic.Int64 // nanoseconds
}

func (s *rollingStats) recordLatency(d time.Duration) {
	s.latencyCount.Add(1)
	s.latencySum.Add(int64(d))
}

func (s *rollingStats) recordSeverity(sev detect.Severity) {
	switch sev {
	case detect.SeverityLow:
		s.severityLow.Add(1)
	case detect.SeverityMedium:
		s.severityMedium.Add(1)
	case detect.SeverityHigh:
		s.severityHigh.Add(1)
	case detect.SeverityCritical:
		s.severityCritical.Add(1)
	}
}

// StatsSnapshot is the read-only counter view exposed on the stats API.
type StatsSnapshot struct {
	EventsProcessed       int64 `json:"events_processed"`
	ThreatsDetected       int64 `json:"threats_detected"`
	NormalizationFailures int64 `json:"normalization_failures"`
	ScoringDegraded       int64 `json:"scoring_degraded"`
	AlertsSuppressed      int64 `json:"alerts_suppressed"`
	EventsDropped         int64 `json:"events_dropped"`
	AlertsDispatched      int64 `json:"alerts_dispatched"`
	DeliveryFailures      int64 `json:"delivery_failures"`

	SeverityCounts map[string]int64 `json:"severity_counts"`

	MeanLatencyMillis float64 `json:"mean_latency_ms"`
	QueueDepth        int     `json:"queue_depth"`
	Workers           int     `json:"workers"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

func (s *rollingStats) snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		EventsProcessed:       s.processed.Load(),
		ThreatsDetected:       s.threats.Load(),
		NormalizationFailures: s.normalizationFailures.Load(),
		ScoringDegraded:       s.scoringDegraded.Load(),
		AlertsSuppressed:      s.suppressed.Load(),
		EventsDropped:         s.dropped.Load(),
		AlertsDispatched:      s.alertsDispatched.Load(),
		DeliveryFailures:      s.deliveryFailures.Load(),
		SeverityCounts: map[string]int64{
			string(detect.SeverityLow):      s.severityLow.Load(),
			string(detect.SeverityMedium):   s.severityMedium.Load(),
			string(detect.SeverityHigh):     s.severityHigh.Load(),
			string(detect.SeverityCritical): s.severityCritical.Load(),
		},
	}
	if n := s.latencyCount.Load(); n > 0 {
		snap.MeanLatencyMillis = float64(s.latencySum.Load()) / float64(n) / float64(time.Millisecond)
	}
	return snap
}
