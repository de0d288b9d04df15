package detect

import "github.com/lvonguyen/netsentry/internal/event"

// Severity is the discrete alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Escalate returns the next level up, capped at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// EscalationConfig holds the resource-exhaustion high-water marks.
type EscalationConfig struct {
	CPUHighWater  float64 `yaml:"cpu_high_water"`
	ConnHighWater int     `yaml:"conn_high_water"`
}

var baseSeverity = map[ThreatType]Severity{
	TypeNormal:     SeverityLow,
	TypeSuspicious: SeverityLow,
	TypePotential:  SeverityMedium,
	TypeHigh:       SeverityHigh,
}

// ClassifySeverity maps a verdict to a severity. The base mapping follows
// the threat type; a network-sourced threat verdict escalates one level when
// the most recent system metrics show resource exhaustion (CPU or active
// connections at or above the high-water marks), capped at critical.
// sys may be nil when no system snapshot has been observed yet.
func ClassifySeverity(v Verdict, ev event.Event, sys *event.SystemPayload, cfg EscalationConfig) Severity {
	sev := baseSeverity[v.Type]

	if ev.Kind != event.KindNetwork || v.Type == TypeNormal || sys == nil {
		return sev
	}
	if sys.CPUPct >= cfg.CPUHighWater || sys.ActiveConnections >= cfg.ConnHighWater {
		return sev.Escalate()
	}
	return sev
}
