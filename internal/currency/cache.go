// Package currency は通貨間の為替レート取得と価格変換を提供する。
package currency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateCache は為替レートのキャッシュインターフェース。
type RateCache interface {
	// Get はキャッシュ済みレートを取得する。未キャッシュの場合はfalseを返す。
	Get(ctx context.Context, from, to string) (float64, bool, error)

	// Set はレートをTTL付きでキャッシュする。
	Set(ctx context.Context, from, to string, rate float64, ttl time.Duration) error
}

// RedisRateCache はRedisを使用したレートキャッシュ。
// キー形式は "rate:{from}:{to}"。
type RedisRateCache struct {
	client *redis.Client
}

// NewRedisRateCache はRedisRateCacheを生成する。
func NewRedisRateCache(client *redis.Client) *RedisRateCache {
	return &RedisRateCache{client: client}
}

func cacheKey(from, to string) string {
	return fmt.Sprintf("rate:%s:%s", from, to)
}

// Get はキャッシュ済みレートを取得する。
func (c *RedisRateCache) Get(ctx context.Context, from, to string) (float64, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("レートキャッシュの取得に失敗しました: %w", err)
	}

	rate, err := strconv.ParseFloat(val, 64)
	if err != nil {
		// 壊れた値はキャッシュミスとして扱う
		return 0, false, nil
	}
	return rate, true, nil
}

// Set はレートをTTL付きでキャッシュする。
func (c *RedisRateCache) Set(ctx context.Context, from, to string, rate float64, ttl time.Duration) error {
	err := c.client.Set(ctx, cacheKey(from, to), strconv.FormatFloat(rate, 'f', -1, 64), ttl).Err()
	if err != nil {
		return fmt.Errorf("レートキャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RateCache = (*RedisRateCache)(nil)
