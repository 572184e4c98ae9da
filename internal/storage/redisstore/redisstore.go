// Package redisstore persists the session reconnect marker in Redis so a
// restarted walletd instance can silently restore the previous session. The
// marker carries only the opaque provider key reference, never key material.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/paystream-labs/walletcore/internal/domain/wallet"
	"github.com/paystream-labs/walletcore/internal/storage"
)

const defaultMarkerTTL = 24 * time.Hour

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the marker key, e.g. per deployment.
	KeyPrefix string
	// MarkerTTL bounds how long a marker survives without a fresh connect.
	MarkerTTL time.Duration
}

// Store implements storage.SessionMarkerStore on Redis.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ storage.SessionMarkerStore = (*Store)(nil)

// New connects to Redis and verifies reachability.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	ttl := cfg.MarkerTTL
	if ttl <= 0 {
		ttl = defaultMarkerTTL
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "walletcore"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{
		client: client,
		key:    prefix + ":session:marker",
		ttl:    ttl,
	}, nil
}

func (s *Store) SaveMarker(ctx context.Context, marker wallet.Marker) error {
	payload, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save marker: %w", err)
	}
	return nil
}

func (s *Store) GetMarker(ctx context.Context) (wallet.Marker, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return wallet.Marker{}, storage.ErrNoMarker
	}
	if err != nil {
		return wallet.Marker{}, fmt.Errorf("get marker: %w", err)
	}
	var marker wallet.Marker
	if err := json.Unmarshal(payload, &marker); err != nil {
		return wallet.Marker{}, fmt.Errorf("decode marker: %w", err)
	}
	return marker, nil
}

func (s *Store) DeleteMarker(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
