// Package cache provides a small Redis-backed memo store with a local
// in-memory fallback, used for short-TTL provider responses (sentiment,
// intelligence hub). Redis being down degrades to local-only; it never
// blocks the pipeline.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// Memo is the shared provider-response memo
type Memo struct {
	rdb    *redis.Client
	logger *logging.Logger

	mu    sync.RWMutex
	local map[string]localEntry

	degraded bool
}

// Config holds the Redis connection settings
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewMemo connects to Redis when enabled; a failed ping logs a warning and
// leaves the memo in local-only mode.
func NewMemo(cfg Config, logger *logging.Logger) *Memo {
	m := &Memo{
		logger: logger.WithComponent("cache"),
		local:  make(map[string]localEntry),
	}

	if !cfg.Enabled {
		m.degraded = true
		m.logger.Info("Redis disabled, memo running local-only")
		return m
	}

	m.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		m.degraded = true
		m.logger.Warn("Redis unreachable, memo running local-only",
			"address", cfg.Address,
			"error", err)
	} else {
		m.logger.Info("Redis memo connected", "address", cfg.Address)
	}
	return m
}

// Get returns the memoised value for key, if present and unexpired
func (m *Memo) Get(ctx context.Context, key string) (string, bool) {
	if m.rdb != nil && !m.degraded {
		val, err := m.rdb.Get(ctx, key).Result()
		if err == nil {
			return val, true
		}
		if err != redis.Nil {
			m.logger.Debug("Redis get failed, using local memo", "key", key, "error", err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.local[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// Set stores value under key with the given TTL in both tiers
func (m *Memo) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if m.rdb != nil && !m.degraded {
		if err := m.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			m.logger.Debug("Redis set failed", "key", key, "error", err)
		}
	}

	m.mu.Lock()
	m.local[key] = localEntry{value: value, expiresAt: time.Now().Add(ttl)}
	// Drop expired locals opportunistically
	if len(m.local) > 256 {
		now := time.Now()
		for k, e := range m.local {
			if now.After(e.expiresAt) {
				delete(m.local, k)
			}
		}
	}
	m.mu.Unlock()
}

// Healthy reports whether the Redis tier is in use
func (m *Memo) Healthy() bool { return m.rdb != nil && !m.degraded }

// Close releases the Redis connection
func (m *Memo) Close() {
	if m.rdb != nil {
		m.rdb.Close()
	}
}
