// Package cache keeps a short-lived shadow of each device's last decoded
// state in Redis, so dashboards and the reply path can read "where is device
// X right now" without touching Mongo. The shadow is best-effort: when Redis
// is absent the store degrades to a no-op and ingestion continues.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	shadowKeyPrefix = "trackcore:shadow:"
	shadowTTL       = 24 * time.Hour
)

// Shadow is the cached snapshot for one device.
type Shadow struct {
	DeviceID  string    `json:"deviceId"`
	Protocol  string    `json:"protocol"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Movement  string    `json:"movement,omitempty"`
	Address   string    `json:"address,omitempty"`
	SeenAt    time.Time `json:"seenAt"`
}

// ShadowStore wraps the Redis client. The zero value (or a store built from
// an empty URL) is disabled and every call is a harmless no-op.
type ShadowStore struct {
	client  *redis.Client
	enabled bool
	log     *slog.Logger
}

func NewShadowStore(redisURL string, log *slog.Logger) *ShadowStore {
	s := &ShadowStore{log: log.With("component", "shadow_store")}
	if redisURL == "" {
		s.log.Info("redis url not provided, device shadow disabled")
		return s
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		s.log.Warn("failed to parse redis url, device shadow disabled", "error", err)
		return s
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.log.Warn("failed to connect to redis, device shadow disabled", "error", err)
		return s
	}

	s.client = client
	s.enabled = true
	s.log.Info("device shadow store initialized")
	return s
}

func (s *ShadowStore) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Put refreshes the shadow and its TTL.
func (s *ShadowStore) Put(ctx context.Context, shadow *Shadow) error {
	if !s.enabled {
		return nil
	}

	data, err := json.Marshal(shadow)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, shadowKeyPrefix+shadow.DeviceID, data, shadowTTL).Err()
}

// Get returns the shadow for a device, or nil when absent or disabled.
func (s *ShadowStore) Get(ctx context.Context, deviceID string) (*Shadow, error) {
	if !s.enabled {
		return nil, nil
	}

	data, err := s.client.Get(ctx, shadowKeyPrefix+deviceID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var shadow Shadow
	if err := json.Unmarshal(data, &shadow); err != nil {
		return nil, err
	}
	return &shadow, nil
}

// Delete drops a device's shadow.
func (s *ShadowStore) Delete(ctx context.Context, deviceID string) error {
	if !s.enabled {
		return nil
	}
	return s.client.Del(ctx, shadowKeyPrefix+deviceID).Err()
}
