package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "vgrab:ratelimit:"

// Redis 是基于有序集合的分布式滑动窗口，多实例共享同一份计数。
//
// 约束：
// - 一次 MULTI 内完成：剔除窗口外成员、写入本次请求、计数、续期
// - 超限时删除本次写入的成员（被拒绝的请求不计入窗口）
type Redis struct {
	client redis.UniversalClient
	limit  int
	period time.Duration
	prefix string

	now       func() time.Time
	newMember func() string
}

// NewRedis 解析 redis:// URL 并创建客户端。
func NewRedis(url string, limit int, period time.Duration) (*Redis, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis 限流需要 redis_url")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisWithClient(redis.NewClient(opts), limit, period), nil
}

func NewRedisWithClient(c redis.UniversalClient, limit int, period time.Duration) *Redis {
	return &Redis{
		client:    c,
		limit:     limit,
		period:    period,
		prefix:    defaultRedisPrefix,
		now:       time.Now,
		newMember: uuid.NewString,
	}
}

func (r *Redis) Allow(ctx context.Context, clientID string) (bool, error) {
	key := r.prefix + clientID
	now := r.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + r.newMember()
	cutoff := strconv.FormatInt(now.Add(-r.period).UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, r.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if card.Val() > int64(r.limit) {
		// 删除失败只会让该客户端多计一次，拒绝本身仍然成立。
		_ = r.client.ZRem(ctx, key, member).Err()
		return false, nil
	}
	return true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
