// Package alerting provides alert creation behind a cooldown gate and
// rate-limited fan-out to the configured notification channels.
package alerting

import (
	"errors"
	"fmt"
	"time"

	"github.com/lvonguyen/netsentry/internal/detect"
)

// ChannelKind identifies a notification channel variant. The set is closed:
// alerts are dispatched by explicit matching, not open-ended registration.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelChat    ChannelKind = "chat"
	ChannelWebhook ChannelKind = "webhook"
	ChannelLog     ChannelKind = "log"
)

// Delivery records the outcome of one channel delivery attempt sequence.
type Delivery struct {
	Channel  ChannelKind   `json:"channel"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration_ns"`
}

// Alert is created when a threat verdict clears the cooldown gate. Only the
// dispatch router mutates it, appending delivery outcomes.
type Alert struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"timestamp"`
	Severity       detect.Severity   `json:"severity"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	CorrelationKey string            `json:"correlation_key"`
	ThreatType     detect.ThreatType `json:"threat_type"`
	Score          float64           `json:"score"`
	Confidence     float64           `json:"confidence"`
	Channels       []ChannelKind     `json:"channels"`
	Deliveries     []Delivery        `json:"deliveries,omitempty"`
}

// DeliveryReport summarizes a dispatch across all targeted channels.
type DeliveryReport struct {
	AlertID    string     `json:"alert_id"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Deliveries []Delivery `json:"deliveries"`
}

// DeliveryError is a per-channel delivery failure. Permanent failures
// (malformed endpoint, client-side rejection) are not retried.
type DeliveryError struct {
	Channel   ChannelKind
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
