package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// ErrRedisDegraded is returned by Safe* operations while Redis is unreachable
var ErrRedisDegraded = errors.New("redis is in degraded mode")

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps a go-redis client with a degraded mode. While degraded,
// Safe* calls fail fast with ErrRedisDegraded instead of hitting the network.
type RedisClient struct {
	Client        *redis.Client
	degraded      bool
	degradedMu    sync.RWMutex
	healthCheckMu sync.Mutex
	metrics       *metrics.Metrics
}

// NewRedisDB creates a Redis client from config. The connection is lazy;
// call HealthCheck to establish initial state.
func NewRedisDB(cfg *RedisConfig, m *metrics.Metrics) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})
	return &RedisClient{Client: client, metrics: m}
}

// Close closes the Redis client connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck pings Redis every interval until ctx is done
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.HealthCheck(ctx)
			}
		}
	}()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedMu.RLock()
	defer r.degradedMu.RUnlock()
	return r.degraded
}

func (r *RedisClient) setDegraded(degraded bool) {
	r.degradedMu.Lock()
	changed := r.degraded != degraded
	r.degraded = degraded
	r.degradedMu.Unlock()

	r.metrics.SetRedisHealthy(!degraded)
	if !changed {
		return
	}
	if degraded {
		logger.Warn("Redis unavailable, entering degraded mode")
	} else {
		logger.Info("Redis reachable again, leaving degraded mode")
	}
}

// HealthCheck pings Redis and updates degraded mode
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		r.setDegraded(true)
		logger.Debug("Redis health check failed", zap.Error(err))
		return fmt.Errorf("redis health check failed: %w", err)
	}
	r.setDegraded(false)
	return nil
}

func (r *RedisClient) skip(op string) bool {
	if r.IsDegraded() {
		r.metrics.RecordRedisDegraded(op)
		return true
	}
	return false
}

// SafeGet performs a GET operation with degraded mode handling
func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	if r.skip("get") {
		return redis.NewStringResult("", ErrRedisDegraded)
	}
	return r.Client.Get(ctx, key)
}

// SafeMGet performs an MGET operation with degraded mode handling
func (r *RedisClient) SafeMGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	if r.skip("mget") {
		return redis.NewSliceResult(nil, ErrRedisDegraded)
	}
	return r.Client.MGet(ctx, keys...)
}

// SafeSet performs a SET operation with degraded mode handling
func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if r.skip("set") {
		return redis.NewStatusResult("", ErrRedisDegraded)
	}
	return r.Client.Set(ctx, key, value, expiration)
}

// SafeDel performs a DEL operation with degraded mode handling
func (r *RedisClient) SafeDel(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.skip("del") {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.Del(ctx, keys...)
}

// SafeExists performs an EXISTS operation with degraded mode handling
func (r *RedisClient) SafeExists(ctx context.Context, keys ...string) *redis.IntCmd {
	if r.skip("exists") {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.Exists(ctx, keys...)
}

// SafeExpire performs an EXPIRE operation with degraded mode handling
func (r *RedisClient) SafeExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if r.skip("expire") {
		return redis.NewBoolResult(false, ErrRedisDegraded)
	}
	return r.Client.Expire(ctx, key, expiration)
}

// SafeSAdd performs a SADD operation with degraded mode handling
func (r *RedisClient) SafeSAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if r.skip("sadd") {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.SAdd(ctx, key, members...)
}

// SafeSRem performs a SREM operation with degraded mode handling
func (r *RedisClient) SafeSRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if r.skip("srem") {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.SRem(ctx, key, members...)
}

// SafeSMembers performs a SMEMBERS operation with degraded mode handling
func (r *RedisClient) SafeSMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	if r.skip("smembers") {
		return redis.NewStringSliceResult(nil, ErrRedisDegraded)
	}
	return r.Client.SMembers(ctx, key)
}

// SafeIncr performs an INCR operation with degraded mode handling
func (r *RedisClient) SafeIncr(ctx context.Context, key string) *redis.IntCmd {
	if r.skip("incr") {
		return redis.NewIntResult(0, ErrRedisDegraded)
	}
	return r.Client.Incr(ctx, key)
}
