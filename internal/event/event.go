// Package event defines the canonical observation model for the pipeline
// and the normalization of raw collector records into it.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindNetwork Kind = "network"
	KindSystem  Kind = "system"
)

// NetworkPayload holds packet-derived metadata.
type NetworkPayload struct {
	SrcIP    string `json:"src_ip"`
	DstIP    string `json:"dst_ip"`
	SrcPort  int    `json:"src_port"`
	DstPort  int    `json:"dst_port"`
	Protocol string `json:"protocol"`
	Size     int    `json:"size"`
	Flags    string `json:"flags,omitempty"`
}

// IOCounters holds interface-level network I/O counters.
type IOCounters struct {
	BytesSent   int64 `json:"bytes_sent"`
	BytesRecv   int64 `json:"bytes_recv"`
	PacketsSent int64 `json:"packets_sent"`
	PacketsRecv int64 `json:"packets_recv"`
}

// SystemPayload holds a host resource snapshot.
type SystemPayload struct {
	CPUPct            float64    `json:"cpu_pct"`
	MemPct            float64    `json:"mem_pct"`
	DiskPct           float64    `json:"disk_pct"`
	NetIO             IOCounters `json:"net_io"`
	ActiveConnections int        `json:"active_connections"`
}

// Event is the canonical unit of observation. Exactly one of Network or
// System is set, matching Kind. An Event is never mutated after
// normalization; it is handed between pipeline stages by value.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Monotonic carries a monotonic clock reading taken at normalization
	// time, used for latency measurement. Not serialized.
	Monotonic time.Time `json:"-"`

	Network *NetworkPayload `json:"network,omitempty"`
	System  *SystemPayload  `json:"system,omitempty"`

	// CorrelationKey groups repeated observations from the same origin:
	// the source IP for network events, the host identity for system events.
	CorrelationKey string `json:"correlation_key"`
}

// Protocol accepts either an IANA protocol number or a protocol name when
// decoding raw records, and normalizes to a lowercase name.
type Protocol string

// UnmarshalJSON decodes a JSON string or number into a Protocol.
func (p *Protocol) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = Protocol(name)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("protocol must be a name or an IANA number")
	}
	n, err := strconv.Atoi(num.String())
	if err != nil {
		return fmt.Errorf("protocol number %q is not an integer", num.String())
	}
	*p = protocolFromNumber(n)
	return nil
}

func protocolFromNumber(n int) Protocol {
	switch n {
	case 1:
		return "icmp"
	case 6:
		return "tcp"
	case 17:
		return "udp"
	default:
		return Protocol(fmt.Sprintf("ip-proto-%d", n))
	}
}

// RawPacketRecord is a packet-derived record as pushed by the data
// collection layer.
type RawPacketRecord struct {
	SrcIP    string   `json:"src_ip"`
	DstIP    string   `json:"dst_ip"`
	SrcPort  int      `json:"src_port"`
	DstPort  int      `json:"dst_port"`
	Protocol Protocol `json:"protocol"`
	Size     int      `json:"size"`
	Flags    string   `json:"flags,omitempty"`
	// Timestamp is epoch seconds (fractional allowed). Zero means "now".
	Timestamp float64 `json:"timestamp,omitempty"`
}

// RawMetricsRecord is a host resource snapshot as pushed by the data
// collection layer.
type RawMetricsRecord struct {
	CPUPct            float64    `json:"cpu_pct"`
	MemPct            float64    `json:"mem_pct"`
	DiskPct           float64    `json:"disk_pct"`
	NetIO             IOCounters `json:"net_io"`
	ActiveConnections int        `json:"active_connections"`
	Timestamp         float64    `json:"timestamp,omitempty"`
}
