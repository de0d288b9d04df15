package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lvonguyen/netsentry/internal/event"
)

// ThreatType is the qualitative bucket a score falls into.
type ThreatType string

const (
	TypeNormal     ThreatType = "normal"
	TypeSuspicious ThreatType = "suspicious"
	TypePotential  ThreatType = "potential"
	TypeHigh       ThreatType = "high"
)

// TypeForScore maps a unified score to its threat-type band.
func TypeForScore(score float64) ThreatType {
	switch {
	case score < 0.3:
		return TypeNormal
	case score < 0.6:
		return TypeSuspicious
	case score < 0.8:
		return TypePotential
	default:
		return TypeHigh
	}
}

// Verdict is the ensemble's unified output for one event. Derived data,
// never mutated after creation.
type Verdict struct {
	Score       float64    `json:"score"`
	IsThreat    bool       `json:"is_threat"`
	Type        ThreatType `json:"threat_type"`
	Confidence  float64    `json:"confidence"`
	Explanation string     `json:"explanation"`
}

// Ensemble combines independent detector outputs into one Verdict.
//
// The unified score is the maximum sub-score rather than the mean: a single
// confident detector flags the event even when the others see nothing.
// Confidence is the mean of all sub-scores from detectors that did not
// abstain. The explanation lists triggered conditions in deterministic
// order, anomaly detectors first.
type Ensemble struct {
	detectors  []Detector
	thresholds *Thresholds
}

// NewEnsemble creates an Ensemble over the given detectors.
func NewEnsemble(th *Thresholds, detectors ...Detector) *Ensemble {
	return &Ensemble{detectors: detectors, thresholds: th}
}

// Score runs every detector on ev and combines the results. Returns
// ErrScoringUnavailable when all detectors abstained.
func (e *Ensemble) Score(ev event.Event) (Verdict, error) {
	var (
		maxScore   float64
		sum        float64
		scored     int
		byKind     = map[Kind][]string{}
		kindsInUse []Kind
	)

	for _, d := range e.detectors {
		sub, err := d.Score(ev)
		if err != nil {
			// Abstentions and detector failures both mean "no data from
			// this detector"; the ensemble degrades rather than fails.
			continue
		}
		scored++
		sum += sub.Score
		if sub.Score > maxScore {
			maxScore = sub.Score
		}
		if _, seen := byKind[d.Kind()]; !seen {
			kindsInUse = append(kindsInUse, d.Kind())
		}
		byKind[d.Kind()] = append(byKind[d.Kind()], sub.Conditions...)
	}

	if scored == 0 {
		return Verdict{}, ErrScoringUnavailable
	}

	threatType := TypeForScore(maxScore)
	return Verdict{
		Score:       maxScore,
		IsThreat:    maxScore >= e.thresholds.Threat(),
		Type:        threatType,
		Confidence:  sum / float64(scored),
		Explanation: explanation(threatType, byKind, kindsInUse),
	}, nil
}

// explanation renders the triggered conditions in a reproducible order:
// anomaly conditions first, then classifier conditions, each kind in the
// order its detectors ran.
func explanation(t ThreatType, byKind map[Kind][]string, kinds []Kind) string {
	sort.Slice(kinds, func(i, j int) bool {
		return kindRank(kinds[i]) < kindRank(kinds[j])
	})

	var conditions []string
	for _, k := range kinds {
		conditions = append(conditions, byKind[k]...)
	}
	if len(conditions) == 0 {
		conditions = []string{"No specific indicators detected"}
	}
	return fmt.Sprintf("Threat type: %s. %s", t, strings.Join(conditions, ". "))
}

func kindRank(k Kind) int {
	switch k {
	case KindAnomaly:
		return 0
	case KindClassifier:
		return 1
	default:
		return 2
	}
}
