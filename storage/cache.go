package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

type backend interface {
	FindByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	FindByOwnerAndRange(ctx context.Context, owner string, from, to domain.Date) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, t domain.Task) error
}

// Cache wraps a Storage instance with Redis-backed caching for task reads.
// Owner list queries and whole-month range queries are cached; mutations
// evict the keys the mutated task can appear under. Redis outages degrade to
// the backing store.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FindByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	key := listCacheKey(owner)
	if tasks, ok := c.loadTasks(ctx, key); ok {
		return tasks, nil
	}

	tasks, err := c.base.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) FindByOwnerAndRange(ctx context.Context, owner string, from, to domain.Date) ([]domain.Task, error) {
	key, cacheable := monthCacheKeyForRange(owner, from, to)
	if cacheable {
		if tasks, ok := c.loadTasks(ctx, key); ok {
			return tasks, nil
		}
	}

	tasks, err := c.base.FindByOwnerAndRange(ctx, owner, from, to)
	if err != nil {
		return nil, err
	}

	if cacheable {
		c.storeTasks(ctx, key, tasks)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.CreateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, t domain.Task) error {
	if err := c.base.DeleteTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t)
	return nil
}

func (c *Cache) loadTasks(ctx context.Context, key string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, key string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// evict drops the keys a mutated task can be served from: the owner's list
// and, when the task is dated, the month grid it falls in.
func (c *Cache) evict(ctx context.Context, t domain.Task) {
	if c.redis == nil {
		return
	}
	keys := []string{listCacheKey(t.Owner)}
	if t.Due != nil {
		keys = append(keys, monthCacheKey(t.Owner, t.Due.Year, int(t.Due.Month)))
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func ownerKey(owner string) string {
	if owner == "" {
		return "anon"
	}
	return owner
}

func listCacheKey(owner string) string {
	return "tasks:" + ownerKey(owner)
}

func monthCacheKey(owner string, year, month int) string {
	return "cal:" + ownerKey(owner) + ":" + domain.NewDate(year, time.Month(month), 1).String()[:7]
}

// monthCacheKeyForRange recognizes whole-month ranges, the only range shape
// the calendar issues; anything else bypasses the cache.
func monthCacheKeyForRange(owner string, from, to domain.Date) (string, bool) {
	if from.Day != 1 || from.Year != to.Year || from.Month != to.Month {
		return "", false
	}
	last := time.Date(from.Year, from.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if to.Day != last {
		return "", false
	}
	return monthCacheKey(owner, from.Year, int(from.Month)), true
}
