package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/detect"
	"github.com/lvonguyen/netsentry/internal/event"
)

// CooldownStore tracks the last admitted alert per (correlation key,
// threat type). Admit is a single atomic compare-and-admit: under
// concurrent callers racing on the same key, at most one wins per window.
type CooldownStore interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
}

// MemoryCooldownStore is the in-process CooldownStore. Entries expire
// passively by timestamp comparison; Sweep evicts stale ones.
type MemoryCooldownStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryCooldownStore creates an empty store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{last: make(map[string]time.Time)}
}

// Admit records now as the last alert time for key and returns true, unless
// a prior entry is younger than window.
func (s *MemoryCooldownStore) Admit(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.last[key]; ok && now.Sub(prev) < window {
		return false, nil
	}
	s.last[key] = now
	return true, nil
}

// Sweep removes entries older than cutoff and returns how many were evicted.
func (s *MemoryCooldownStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, ts := range s.last {
		if ts.Before(cutoff) {
			delete(s.last, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live entries.
func (s *MemoryCooldownStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.last)
}

// Gate suppresses repeated alerts for the same logical condition within the
// cooldown window. When the primary store errors (e.g. a shared Redis store
// is unreachable) the gate falls back to a local store so admission keeps
// working per process.
type Gate struct {
	store    CooldownStore
	fallback *MemoryCooldownStore
	window   time.Duration
	channels []ChannelKind
	logger   *zap.Logger
	now      func() time.Time
}

// NewGate creates a Gate admitting alerts to the given channel set.
func NewGate(store CooldownStore, window time.Duration, channels []ChannelKind, logger *zap.Logger) *Gate {
	return &Gate{
		store:    store,
		fallback: NewMemoryCooldownStore(),
		window:   window,
		channels: channels,
		logger:   logger,
		now:      time.Now,
	}
}

// Window returns the configured cooldown window.
func (g *Gate) Window() time.Duration { return g.window }

// Admit returns a new Alert for a threat verdict that clears the cooldown,
// nil when the verdict is not a threat or the alert is suppressed.
func (g *Gate) Admit(ctx context.Context, ev event.Event, v detect.Verdict, sev detect.Severity) (*Alert, error) {
	if !v.IsThreat {
		return nil, nil
	}

	key := cooldownKey(ev.CorrelationKey, v.Type)
	now := g.now()

	ok, err := g.store.Admit(ctx, key, now, g.window)
	if err != nil {
		g.logger.Warn("cooldown store unavailable, using local fallback",
			zap.String("key", key), zap.Error(err))
		ok, err = g.fallback.Admit(ctx, key, now, g.window)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, nil
	}

	return &Alert{
		ID:             uuid.NewString(),
		CreatedAt:      now,
		Severity:       sev,
		Title:          fmt.Sprintf("Threat detected: %s", v.Type),
		Description:    v.Explanation,
		CorrelationKey: ev.CorrelationKey,
		ThreatType:     v.Type,
		Score:          v.Score,
		Confidence:     v.Confidence,
		Channels:       append([]ChannelKind(nil), g.channels...),
	}, nil
}

// StartSweeper periodically evicts cooldown entries older than one window
// from the in-memory stores. Returns when ctx is done.
func (g *Gate) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := g.now().Add(-g.window)
			evicted := g.fallback.Sweep(cutoff)
			if mem, ok := g.store.(*MemoryCooldownStore); ok {
				evicted += mem.Sweep(cutoff)
			}
			if evicted > 0 {
				g.logger.Debug("swept expired cooldown entries", zap.Int("evicted", evicted))
			}
		}
	}
}

func cooldownKey(correlationKey string, t detect.ThreatType) string {
	return correlationKey + "|" + string(t)
}
