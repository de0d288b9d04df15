// Package detect provides the scoring ensemble: independent detector
// capabilities whose sub-scores are combined into a single threat verdict,
// and the mapping of verdicts to alert severities.
package detect

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/lvonguyen/netsentry/internal/event"
)

// Kind tags a detector capability.
type Kind string

const (
	KindAnomaly    Kind = "anomaly"
	KindClassifier Kind = "classifier"
)

// ErrAbstain is returned by a detector that has no signal for an event,
// e.g. a traffic classifier handed a system-metric snapshot.
var ErrAbstain = errors.New("detector abstained")

// ErrScoringUnavailable is returned by the ensemble when every detector
// abstained. Callers must treat the event as non-threat and log the
// degradation.
var ErrScoringUnavailable = errors.New("scoring unavailable: all detectors abstained")

// SubScore is a single detector's output for one event.
type SubScore struct {
	// Score is in [0, 1].
	Score float64
	// Conditions are the human-readable triggering conditions, in the
	// order the detector evaluated them.
	Conditions []string
}

func (s *SubScore) add(delta float64, condition string) {
	s.Score = math.Min(s.Score+delta, 1.0)
	s.Conditions = append(s.Conditions, condition)
}

// Detector is a stateless scoring capability.
type Detector interface {
	Name() string
	Kind() Kind
	Score(ev event.Event) (SubScore, error)
}

// Thresholds holds the detection cut-offs. Values are read on every scored
// event and replaced atomically on config reload.
type Thresholds struct {
	threat  atomic.Uint64
	anomaly atomic.Uint64
}

// NewThresholds creates a Thresholds with the given initial values.
func NewThresholds(threat, anomaly float64) *Thresholds {
	t := &Thresholds{}
	t.SetThreat(threat)
	t.SetAnomaly(anomaly)
	return t
}

// Threat returns the score at or above which a verdict is a threat.
func (t *Thresholds) Threat() float64 {
	return math.Float64frombits(t.threat.Load())
}

// SetThreat replaces the threat threshold.
func (t *Thresholds) SetThreat(v float64) {
	t.threat.Store(math.Float64bits(v))
}

// Anomaly returns the anomaly detector's trigger threshold.
func (t *Thresholds) Anomaly() float64 {
	return math.Float64frombits(t.anomaly.Load())
}

// SetAnomaly replaces the anomaly threshold.
func (t *Thresholds) SetAnomaly(v float64) {
	t.anomaly.Store(math.Float64bits(v))
}
