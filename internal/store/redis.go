// Package store provides Redis-backed shared state with interfaces the
// pipeline can satisfy in memory when Redis is disabled.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lvonguyen/netsentry/internal/pipeline"
)

const (
	cooldownPrefix  = "netsentry:cooldown:"
	recentEventsKey = "netsentry:recent_events"
	threatEventsKey = "netsentry:threat_events"

	recentEventsMax = 1000
	threatEventsMax = 500
)

// Config holds Redis connection settings.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NewClient connects and pings the configured Redis instance.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// CooldownStore implements cooldown admission on Redis so suppression holds
// across replicas. SET NX PX makes the compare-and-admit a single atomic
// command; under racing writers exactly one SET wins per window.
type CooldownStore struct {
	client *redis.Client
}

// NewCooldownStore creates a Redis-backed cooldown store.
func NewCooldownStore(client *redis.Client) *CooldownStore {
	return &CooldownStore{client: client}
}

// Admit attempts to claim the cooldown slot for key. The entry expires with
// the window, so no sweeping is needed.
func (s *CooldownStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, cooldownPrefix+key, now.UnixMilli(), window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown admit: %w", err)
	}
	return ok, nil
}

// EventSink mirrors terminal pipeline records into capped Redis lists for
// external consumers. Newest entries sit at the head.
type EventSink struct {
	client *redis.Client
}

// NewEventSink creates a Redis-backed event sink.
func NewEventSink(client *redis.Client) *EventSink {
	return &EventSink{client: client}
}

// RecordEvent pushes rec onto the recent-events list, trimming to capacity.
func (s *EventSink) RecordEvent(ctx context.Context, rec pipeline.ProcessedEvent) error {
	return s.push(ctx, recentEventsKey, recentEventsMax, rec)
}

// RecordThreat pushes rec onto the threat-events list, trimming to capacity.
func (s *EventSink) RecordThreat(ctx context.Context, rec pipeline.ProcessedEvent) error {
	return s.push(ctx, threatEventsKey, threatEventsMax, rec)
}

func (s *EventSink) push(ctx context.Context, key string, max int64, rec pipeline.ProcessedEvent) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding event record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring event to %s: %w", key, err)
	}
	return nil
}
