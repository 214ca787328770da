package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"salonhub-backend/internal/config"
)

// Manager is the optional Redis cache for derived read models such as the
// subscription info view. Every method is safe on a nil manager so the
// service runs without Redis configured.
type Manager struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// GlobalManager is the process-wide cache, nil when Redis is not configured.
var GlobalManager *Manager

// InitManager connects the global cache manager. A missing REDIS_HOST is
// not an error; the cache just stays disabled.
func InitManager() error {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		log.Println("⚠️  REDIS_HOST not set, read-model cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, config.GetEnv("REDIS_PORT", "6379")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})

	timeout := config.GetEnvDuration("REDIS_TIMEOUT", 1500*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	GlobalManager = &Manager{
		client:  client,
		ttl:     config.GetEnvDuration("CACHE_TTL", 60*time.Second),
		timeout: timeout,
	}
	log.Println("✅ Read-model cache connected")
	return nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Get unmarshals the cached value for key into dest. It returns false on
// miss, on a disabled cache, or on any Redis failure.
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) bool {
	if m == nil {
		return false
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	raw, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("cache: get %s failed: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		log.Printf("cache: decode %s failed: %v", key, err)
		return false
	}
	return true
}

// Set stores value under key with the configured TTL. Failures are logged,
// never surfaced: the cache is strictly an optimization.
func (m *Manager) Set(ctx context.Context, key string, value interface{}) {
	if m == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: encode %s failed: %v", key, err)
		return
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	if err := m.client.Set(ctx, key, raw, m.ttl).Err(); err != nil {
		log.Printf("cache: set %s failed: %v", key, err)
	}
}

// Invalidate removes a key, e.g. after a payment changes a tenant's state.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	if m == nil {
		return
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	if err := m.client.Del(ctx, key).Err(); err != nil {
		log.Printf("cache: invalidate %s failed: %v", key, err)
	}
}

// SubscriptionInfoKey is the cache key for a tenant's subscription view.
func SubscriptionInfoKey(tenantID uint) string {
	return fmt.Sprintf("subinfo:%d", tenantID)
}
