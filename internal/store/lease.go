package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lease 分布式同步租约
// 进程内的 idle/running 标志只能防止单实例内的并发；
// 多实例部署时通过共享缓存里的 TTL 键（SETNX + owner id）协调，
// 对调用方暴露同样的"同步进行中"语义
type Lease interface {
	// Acquire 尝试获取租约；已被持有时返回 false
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放租约（仅持有者可释放）
	Release(ctx context.Context, key string) error
}

type RedisLease struct {
	c     *redis.Client
	owner string
}

func NewRedisLease(c *redis.Client) *RedisLease {
	return &RedisLease{c: c, owner: uuid.NewString()}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.c.SetNX(ctx, key, l.owner, ttl).Result()
}

// releaseScript 只有 owner 匹配时才删除，避免释放掉他人续期后的租约
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLease) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.c, []string{key}, l.owner).Err()
}
