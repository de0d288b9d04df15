package detect

import (
	"fmt"

	"github.com/lvonguyen/netsentry/internal/event"
)

// AnomalyDetector scores events against baseline-deviation heuristics.
// It stands in for a trained anomaly model behind the same interface and
// never abstains: an event with no indicators scores zero.
type AnomalyDetector struct {
	thresholds *Thresholds
}

// NewAnomalyDetector creates an AnomalyDetector reading its trigger
// threshold from th.
func NewAnomalyDetector(th *Thresholds) *AnomalyDetector {
	return &AnomalyDetector{thresholds: th}
}

func (d *AnomalyDetector) Name() string { return "anomaly" }
func (d *AnomalyDetector) Kind() Kind   { return KindAnomaly }

// Score evaluates the event. Network events are checked for traffic-shape
// deviations, system events for resource exhaustion patterns.
func (d *AnomalyDetector) Score(ev event.Event) (SubScore, error) {
	var s SubScore

	switch ev.Kind {
	case event.KindNetwork:
		p := ev.Network
		if p.Size > 1000 && p.DstPort > 1024 {
			s.add(0.3, "Large packet size detected")
		}
		if p.Size > 32*1024 {
			s.add(0.3, "Oversized transfer detected")
		}
		if p.SrcPort > 1024 && p.DstPort > 1024 && p.Protocol == "udp" {
			s.add(0.2, "High-port UDP exchange")
		}
		if p.Size > 0 && p.Size < 40 {
			s.add(0.2, "Runt packet detected")
		}
	case event.KindSystem:
		m := ev.System
		if m.CPUPct > 80 {
			s.add(0.2, "High CPU usage detected")
		}
		if m.MemPct > 90 {
			s.add(0.2, "High memory usage detected")
		}
		if m.ActiveConnections > 100 {
			s.add(0.3, "Unusual number of active connections")
		}
		if m.DiskPct > 95 {
			s.add(0.2, "Disk near capacity")
		}
	}

	if t := d.thresholds.Anomaly(); s.Score >= t {
		s.Conditions = append(s.Conditions, fmt.Sprintf("Anomaly score %.2f at or above threshold %.2f", s.Score, t))
	}
	return s, nil
}
