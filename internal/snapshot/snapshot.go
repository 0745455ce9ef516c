// Package snapshot persists engine-private position state to Redis so a
// restart can recover what the broker cannot tell us: entry stage, open
// time, exit targets and pending-exit flags. Writes go through a circuit
// breaker; a Redis outage degrades recovery, never trading.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"rebound-trader/internal/model"
)

const (
	positionsKey = "trader:positions"
	ledgerKey    = "trader:ledger"
)

// Config configures the snapshot store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store writes and reads position snapshots.
type Store struct {
	client  *goredis.Client
	breaker *breaker
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New connects to Redis and pings it.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	b := newBreaker(5, 10*time.Second)
	b.onStateChange = func(from, to breakerState) {
		log.Printf("[snapshot] breaker %s -> %s", from, to)
	}

	log.Printf("[snapshot] connected to %s", cfg.Addr)
	return &Store{client: client, breaker: b}, nil
}

// SavePositions replaces the stored position set. Called after every
// mutating cycle.
func (s *Store) SavePositions(ctx context.Context, positions []model.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	return s.breaker.execute(func() error {
		return s.client.Set(ctx, positionsKey, data, 0).Err()
	})
}

// LoadPositions reads the stored position set. A missing key returns an
// empty slice.
func (s *Store) LoadPositions(ctx context.Context) ([]model.Position, error) {
	var raw string
	err := s.breaker.execute(func() error {
		var gerr error
		raw, gerr = s.client.Get(ctx, positionsKey).Result()
		if gerr == goredis.Nil {
			raw = ""
			return nil
		}
		return gerr
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var positions []model.Position
	if err := json.Unmarshal([]byte(raw), &positions); err != nil {
		return nil, fmt.Errorf("snapshot unmarshal: %w", err)
	}
	return positions, nil
}

// SaveLedger stores the per-symbol capital allocations.
func (s *Store) SaveLedger(ctx context.Context, allocations map[string]int64) error {
	data, err := json.Marshal(allocations)
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	return s.breaker.execute(func() error {
		return s.client.Set(ctx, ledgerKey, data, 0).Err()
	})
}

// LoadLedger reads the stored allocations. A missing key returns nil.
func (s *Store) LoadLedger(ctx context.Context) (map[string]int64, error) {
	var raw string
	err := s.breaker.execute(func() error {
		var gerr error
		raw, gerr = s.client.Get(ctx, ledgerKey).Result()
		if gerr == goredis.Nil {
			raw = ""
			return nil
		}
		return gerr
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var allocations map[string]int64
	if err := json.Unmarshal([]byte(raw), &allocations); err != nil {
		return nil, fmt.Errorf("snapshot unmarshal: %w", err)
	}
	return allocations, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
