package event

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"
)

// MalformedInputError reports a raw record that cannot be normalized.
// Events carrying one are dropped before scoring and counted separately
// from processing failures.
type MalformedInputError struct {
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %s: %s", e.Field, e.Reason)
}

// IsMalformed reports whether err is (or wraps) a MalformedInputError.
func IsMalformed(err error) bool {
	var m *MalformedInputError
	return errors.As(err, &m)
}

func malformed(field, format string, args ...any) error {
	return &MalformedInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NormalizerConfig holds normalization settings.
type NormalizerConfig struct {
	// HostIdentity is the correlation key assigned to system-metric events.
	HostIdentity string `yaml:"host_identity"`
}

// Normalizer converts raw collector records into canonical Events.
// Normalization is pure: two logically-identical raw records normalize to
// identical Events except for the timestamps.
type Normalizer struct {
	config NormalizerConfig
	now    func() time.Time
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.HostIdentity == "" {
		cfg.HostIdentity = "localhost"
	}
	return &Normalizer{config: cfg, now: time.Now}
}

// NormalizePacket validates a raw packet record and produces a network Event.
func (n *Normalizer) NormalizePacket(raw RawPacketRecord) (Event, error) {
	srcIP, err := parseAddr("src_ip", raw.SrcIP)
	if err != nil {
		return Event{}, err
	}
	dstIP, err := parseAddr("dst_ip", raw.DstIP)
	if err != nil {
		return Event{}, err
	}
	if err := checkPort("src_port", raw.SrcPort); err != nil {
		return Event{}, err
	}
	if err := checkPort("dst_port", raw.DstPort); err != nil {
		return Event{}, err
	}
	if raw.Protocol == "" {
		return Event{}, malformed("protocol", "required field is missing")
	}
	if raw.Size < 0 {
		return Event{}, malformed("size", "must not be negative, got %d", raw.Size)
	}

	now := n.now()
	return Event{
		Kind:      KindNetwork,
		Timestamp: wallClock(raw.Timestamp, now),
		Monotonic: now,
		Network: &NetworkPayload{
			SrcIP:    srcIP.String(),
			DstIP:    dstIP.String(),
			SrcPort:  raw.SrcPort,
			DstPort:  raw.DstPort,
			Protocol: canonicalProtocol(raw.Protocol),
			Size:     raw.Size,
			Flags:    raw.Flags,
		},
		CorrelationKey: srcIP.String(),
	}, nil
}

// NormalizeMetrics validates a raw metrics record and produces a system Event.
func (n *Normalizer) NormalizeMetrics(raw RawMetricsRecord) (Event, error) {
	if err := checkPercent("cpu_pct", raw.CPUPct); err != nil {
		return Event{}, err
	}
	if err := checkPercent("mem_pct", raw.MemPct); err != nil {
		return Event{}, err
	}
	if err := checkPercent("disk_pct", raw.DiskPct); err != nil {
		return Event{}, err
	}
	if err := checkCounter("net_io.bytes_sent", raw.NetIO.BytesSent); err != nil {
		return Event{}, err
	}
	if err := checkCounter("net_io.bytes_recv", raw.NetIO.BytesRecv); err != nil {
		return Event{}, err
	}
	if err := checkCounter("net_io.packets_sent", raw.NetIO.PacketsSent); err != nil {
		return Event{}, err
	}
	if err := checkCounter("net_io.packets_recv", raw.NetIO.PacketsRecv); err != nil {
		return Event{}, err
	}
	if raw.ActiveConnections < 0 {
		return Event{}, malformed("active_connections", "must not be negative, got %d", raw.ActiveConnections)
	}

	now := n.now()
	return Event{
		Kind:      KindSystem,
		Timestamp: wallClock(raw.Timestamp, now),
		Monotonic: now,
		System: &SystemPayload{
			CPUPct:            raw.CPUPct,
			MemPct:            raw.MemPct,
			DiskPct:           raw.DiskPct,
			NetIO:             raw.NetIO,
			ActiveConnections: raw.ActiveConnections,
		},
		CorrelationKey: n.config.HostIdentity,
	}, nil
}

func parseAddr(field, value string) (netip.Addr, error) {
	if value == "" {
		return netip.Addr{}, malformed(field, "required field is missing")
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, malformed(field, "invalid IP address %q", value)
	}
	return addr, nil
}

func checkPort(field string, port int) error {
	if port < 0 || port > 65535 {
		return malformed(field, "port %d outside 0-65535", port)
	}
	return nil
}

func checkPercent(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return malformed(field, "percentage %v outside 0-100", v)
	}
	return nil
}

func checkCounter(field string, v int64) error {
	if v < 0 {
		return malformed(field, "counter must not be negative, got %d", v)
	}
	return nil
}

func canonicalProtocol(p Protocol) string {
	out := make([]byte, len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func wallClock(epochSeconds float64, fallback time.Time) time.Time {
	if epochSeconds <= 0 {
		return fallback
	}
	sec, frac := math.Modf(epochSeconds)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
