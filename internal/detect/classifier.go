package detect

import (
	"strings"

	"github.com/lvonguyen/netsentry/internal/event"
)

// Ports with a long history of malware command-and-control or backdoor use.
var abusedPorts = map[int]struct{}{
	1337:  {},
	4444:  {},
	5554:  {},
	6667:  {},
	9001:  {},
	31337: {},
}

// TrafficClassifier scores network traffic with port/protocol/size
// heuristics, standing in for a trained classifier behind the same
// interface. It abstains on system-metric events, which carry none of the
// traffic features it was built for.
type TrafficClassifier struct{}

// NewTrafficClassifier creates a TrafficClassifier.
func NewTrafficClassifier() *TrafficClassifier {
	return &TrafficClassifier{}
}

func (c *TrafficClassifier) Name() string { return "traffic-classifier" }
func (c *TrafficClassifier) Kind() Kind   { return KindClassifier }

// Score evaluates a network event; system events abstain.
func (c *TrafficClassifier) Score(ev event.Event) (SubScore, error) {
	if ev.Kind != event.KindNetwork {
		return SubScore{}, ErrAbstain
	}

	p := ev.Network
	var s SubScore

	if _, ok := abusedPorts[p.DstPort]; ok {
		s.add(0.4, "Destination port associated with known malware")
	}
	if p.Size > 1000 && p.DstPort > 1024 {
		s.add(0.3, "Large transfer to ephemeral port")
	}
	if p.Protocol == "udp" && p.Size > 512 {
		s.add(0.2, "Oversized UDP datagram")
	}
	if p.Protocol == "icmp" && p.Size > 128 {
		s.add(0.3, "Oversized ICMP payload")
	}
	if hasFlag(p.Flags, 'F') && hasFlag(p.Flags, 'P') && hasFlag(p.Flags, 'U') {
		s.add(0.4, "Xmas scan flag combination")
	}
	return s, nil
}

func hasFlag(flags string, f byte) bool {
	return strings.IndexByte(flags, f) >= 0
}
