package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"board-sync/domain"
)

type backend interface {
	FetchTasks(ctx context.Context) ([]domain.Task, error)
	FetchSettings(ctx context.Context) (domain.Settings, error)
	MoveTask(ctx context.Context, id, category string, order int) error
}

// Cache wraps the remote client with Redis-backed caching of the task list
// and settings, partitioned by user. A successful move evicts both entries
// so the next refresh hits the server. Redis being down or misconfigured
// degrades to the remote without failing the call.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	userID string
}

// NewCache creates a caching wrapper. A nil client or zero TTL disables
// caching entirely.
func NewCache(base backend, client *redis.Client, ttl time.Duration, userID string) *Cache {
	if base == nil {
		panic("storage.NewCache: base is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, userID: userID}
}

func (c *Cache) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	if data, ok := c.load(ctx, boardCacheKey(c.userID)); ok {
		var tasks []domain.Task
		if err := sonic.Unmarshal(data, &tasks); err == nil {
			return tasks, nil
		}
		c.drop(ctx, boardCacheKey(c.userID))
	}

	tasks, err := c.base.FetchTasks(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, boardCacheKey(c.userID), tasks)
	return tasks, nil
}

func (c *Cache) FetchSettings(ctx context.Context) (domain.Settings, error) {
	if data, ok := c.load(ctx, settingsCacheKey(c.userID)); ok {
		var settings domain.Settings
		if err := sonic.Unmarshal(data, &settings); err == nil {
			return settings, nil
		}
		c.drop(ctx, settingsCacheKey(c.userID))
	}

	settings, err := c.base.FetchSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	c.store(ctx, settingsCacheKey(c.userID), settings)
	return settings, nil
}

// MoveTask forwards to the remote and, on success, evicts the cached board
// so the refresh triggered by the coordinator sees server-computed orders.
func (c *Cache) MoveTask(ctx context.Context, id, category string, order int) error {
	if err := c.base.MoveTask(ctx, id, category, order); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) load(ctx context.Context, key string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.drop(ctx, key)
		}
		return nil, false
	}
	return data, true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) drop(ctx context.Context, key string) {
	_ = c.redis.Del(ctx, key).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(c.userID), settingsCacheKey(c.userID)).Result()
}

func boardCacheKey(userID string) string {
	return "board:" + userID
}

func settingsCacheKey(userID string) string {
	return "board-settings:" + userID
}
