package detect

import (
	"errors"
	"testing"

	"github.com/lvonguyen/netsentry/internal/event"
)

// stubDetector returns a fixed sub-score, or abstains.
type stubDetector struct {
	name    string
	kind    Kind
	score   float64
	conds   []string
	abstain bool
}

func (d *stubDetector) Name() string { return d.name }
func (d *stubDetector) Kind() Kind   { return d.kind }

func (d *stubDetector) Score(_ event.Event) (SubScore, error) {
	if d.abstain {
		return SubScore{}, ErrAbstain
	}
	return SubScore{Score: d.score, Conditions: d.conds}, nil
}

func networkEvent() event.Event {
	return event.Event{
		Kind: event.KindNetwork,
		Network: &event.NetworkPayload{
			SrcIP: "10.0.0.5", DstIP: "192.168.1.20",
			SrcPort: 50000, DstPort: 8080,
			Protocol: "tcp", Size: 600,
		},
		CorrelationKey: "10.0.0.5",
	}
}

// =============================================================================
// Combination Policy Tests
// =============================================================================

// TestEnsemble_MaxCombination verifies that the unified score is the maximum
// sub-score, not the average: one confident detector must not be diluted by
// two weak ones.
func TestEnsemble_MaxCombination(t *testing.T) {
	th := NewThresholds(0.7, 0.8)
	e := NewEnsemble(th,
		&stubDetector{name: "a", kind: KindAnomaly, score: 0.9, conds: []string{"spike"}},
		&stubDetector{name: "c", kind: KindClassifier, score: 0.1},
	)

	v, err := e.Score(networkEvent())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if v.Score != 0.9 {
		t.Errorf("expected score 0.9 (max), got %v", v.Score)
	}
	if !v.IsThreat {
		t.Error("score 0.9 with threshold 0.7 should be a threat")
	}
	if v.Type != TypeHigh {
		t.Errorf("expected type high, got %q", v.Type)
	}
}

// TestEnsemble_ConfidenceSkipsAbstainers verifies that confidence averages
// only the detectors that produced a score.
func TestEnsemble_ConfidenceSkipsAbstainers(t *testing.T) {
	th := NewThresholds(0.7, 0.8)
	e := NewEnsemble(th,
		&stubDetector{name: "a", kind: KindAnomaly, score: 0.6},
		&stubDetector{name: "b", kind: KindClassifier, score: 0.2},
		&stubDetector{name: "c", kind: KindClassifier, abstain: true},
	)

	v, err := e.Score(networkEvent())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if want := 0.4; v.Confidence != want {
		t.Errorf("expected confidence %v (mean of 0.6, 0.2), got %v", want, v.Confidence)
	}
}

// TestEnsemble_AllAbstain verifies ErrScoringUnavailable when no detector
// has data.
func TestEnsemble_AllAbstain(t *testing.T) {
	th := NewThresholds(0.7, 0.8)
	e := NewEnsemble(th,
		&stubDetector{name: "a", kind: KindAnomaly, abstain: true},
		&stubDetector{name: "b", kind: KindClassifier, abstain: true},
	)

	_, err := e.Score(networkEvent())
	if !errors.Is(err, ErrScoringUnavailable) {
		t.Errorf("expected ErrScoringUnavailable, got %v", err)
	}
}

// TestEnsemble_ExplanationOrder verifies the deterministic explanation
// ordering: anomaly conditions before classifier conditions, regardless of
// detector registration order.
func TestEnsemble_ExplanationOrder(t *testing.T) {
	th := NewThresholds(0.7, 0.8)
	e := NewEnsemble(th,
		&stubDetector{name: "c", kind: KindClassifier, score: 0.5, conds: []string{"classifier hit"}},
		&stubDetector{name: "a", kind: KindAnomaly, score: 0.4, conds: []string{"anomaly hit"}},
	)

	v, err := e.Score(networkEvent())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	want := "Threat type: suspicious. anomaly hit. classifier hit"
	if v.Explanation != want {
		t.Errorf("expected explanation %q, got %q", want, v.Explanation)
	}
}

// TestEnsemble_NoConditions verifies the fallback explanation when nothing
// triggered.
func TestEnsemble_NoConditions(t *testing.T) {
	th := NewThresholds(0.7, 0.8)
	e := NewEnsemble(th, &stubDetector{name: "a", kind: KindAnomaly, score: 0})

	v, err := e.Score(networkEvent())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	want := "Threat type: normal. No specific indicators detected"
	if v.Explanation != want {
		t.Errorf("expected explanation %q, got %q", want, v.Explanation)
	}
}

// =============================================================================
// Threshold and Banding Tests
// =============================================================================

// TestEnsemble_ThreatThresholdIndependentOfBands verifies that is_threat is
// gated by the configured threshold, not the type bands: a "potential"
// verdict at 0.75 is a threat, a "potential" at 0.65 is not.
func TestEnsemble_ThreatThresholdIndependentOfBands(t *testing.T) {
	tests := []struct {
		score    float64
		wantType ThreatType
		isThreat bool
	}{
		{0.1, TypeNormal, false},
		{0.3, TypeSuspicious, false},
		{0.65, TypePotential, false},
		{0.7, TypePotential, true},
		{0.75, TypePotential, true},
		{0.8, TypeHigh, true},
		{0.95, TypeHigh, true},
	}

	th := NewThresholds(0.7, 0.8)
	for _, tt := range tests {
		e := NewEnsemble(th, &stubDetector{name: "a", kind: KindAnomaly, score: tt.score})
		v, err := e.Score(networkEvent())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if v.Type != tt.wantType {
			t.Errorf("score %v: expected type %q, got %q", tt.score, tt.wantType, v.Type)
		}
		if v.IsThreat != tt.isThreat {
			t.Errorf("score %v: expected is_threat=%v, got %v", tt.score, tt.isThreat, v.IsThreat)
		}
		if v.Score < 0 || v.Score > 1 || v.Confidence < 0 || v.Confidence > 1 {
			t.Errorf("score %v: verdict out of range: %+v", tt.score, v)
		}
	}
}

// TestThresholds_HotReload verifies that a threshold update is observed by
// subsequent scoring.
func TestThresholds_HotReload(t *testing.T) {
	th := NewThresholds(0.7, 0.8)
	e := NewEnsemble(th, &stubDetector{name: "a", kind: KindAnomaly, score: 0.5})

	v, _ := e.Score(networkEvent())
	if v.IsThreat {
		t.Fatal("0.5 should not be a threat at threshold 0.7")
	}

	th.SetThreat(0.4)
	v, _ = e.Score(networkEvent())
	if !v.IsThreat {
		t.Error("0.5 should be a threat after lowering the threshold to 0.4")
	}
}

// =============================================================================
// Built-in Detector Tests
// =============================================================================

// TestAnomalyDetector_SystemIndicators verifies the resource-exhaustion
// heuristics and their condition strings.
func TestAnomalyDetector_SystemIndicators(t *testing.T) {
	d := NewAnomalyDetector(NewThresholds(0.7, 0.8))

	ev := event.Event{
		Kind: event.KindSystem,
		System: &event.SystemPayload{
			CPUPct: 95, MemPct: 95, ActiveConnections: 500,
		},
		CorrelationKey: "localhost",
	}

	sub, err := d.Score(ev)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	// 0.2 (cpu) + 0.2 (mem) + 0.3 (connections) = 0.7
	if sub.Score < 0.69 || sub.Score > 0.71 {
		t.Errorf("expected score ~0.7, got %v", sub.Score)
	}
	if len(sub.Conditions) != 3 {
		t.Errorf("expected 3 conditions, got %v", sub.Conditions)
	}
	if sub.Conditions[0] != "High CPU usage detected" {
		t.Errorf("unexpected first condition %q", sub.Conditions[0])
	}
}

// TestTrafficClassifier_AbstainsOnSystemEvents verifies the classifier has
// no opinion on metric snapshots.
func TestTrafficClassifier_AbstainsOnSystemEvents(t *testing.T) {
	c := NewTrafficClassifier()

	_, err := c.Score(event.Event{Kind: event.KindSystem, System: &event.SystemPayload{}})
	if !errors.Is(err, ErrAbstain) {
		t.Errorf("expected ErrAbstain, got %v", err)
	}
}

// TestTrafficClassifier_AbusedPort verifies the known-abused-port heuristic.
func TestTrafficClassifier_AbusedPort(t *testing.T) {
	c := NewTrafficClassifier()

	ev := networkEvent()
	ev.Network.DstPort = 4444

	sub, err := c.Score(ev)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if sub.Score < 0.4 {
		t.Errorf("expected score >= 0.4 for port 4444, got %v", sub.Score)
	}
}
