package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"board-sync/domain"
)

type stubBackend struct {
	fetchTasksFn    func(ctx context.Context) ([]domain.Task, error)
	fetchSettingsFn func(ctx context.Context) (domain.Settings, error)
	moveTaskFn      func(ctx context.Context, id, category string, order int) error
}

func (s *stubBackend) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	if s.fetchTasksFn == nil {
		return nil, errors.New("unexpected FetchTasks call")
	}
	return s.fetchTasksFn(ctx)
}

func (s *stubBackend) FetchSettings(ctx context.Context) (domain.Settings, error) {
	if s.fetchSettingsFn == nil {
		return domain.Settings{}, errors.New("unexpected FetchSettings call")
	}
	return s.fetchSettingsFn(ctx)
}

func (s *stubBackend) MoveTask(ctx context.Context, id, category string, order int) error {
	if s.moveTaskFn == nil {
		return errors.New("unexpected MoveTask call")
	}
	return s.moveTaskFn(ctx, id, category, order)
}

func newCacheWithRedis(t *testing.T, base backend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(base, client, time.Minute, "user-1"), mr
}

func TestCacheFetchTasksMissThenHit(t *testing.T) {
	expected := []domain.Task{{ID: "t1", Title: "write code", Category: "todo", Order: 0}}
	var calls int
	cache, mr := newCacheWithRedis(t, &stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	})
	ctx := context.Background()

	tasks, err := cache.FetchTasks(ctx)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
	if ttl := mr.TTL(boardCacheKey("user-1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchTasks(ctx)
	if err != nil {
		t.Fatalf("fetch cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheFetchSettingsMissThenHit(t *testing.T) {
	var calls int
	cache, _ := newCacheWithRedis(t, &stubBackend{
		fetchSettingsFn: func(ctx context.Context) (domain.Settings, error) {
			calls++
			return domain.Settings{TasksPerCategory: 5}, nil
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		settings, err := cache.FetchSettings(ctx)
		if err != nil {
			t.Fatalf("fetch settings: %v", err)
		}
		if settings.TasksPerCategory != 5 {
			t.Fatalf("unexpected settings: %+v", settings)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
}

func TestCacheMoveEvictsBoard(t *testing.T) {
	var fetches int
	var moved []string
	cache, mr := newCacheWithRedis(t, &stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			fetches++
			return []domain.Task{{ID: "t1", Category: "todo"}}, nil
		},
		moveTaskFn: func(ctx context.Context, id, category string, order int) error {
			moved = append(moved, id)
			return nil
		},
	})
	ctx := context.Background()

	if _, err := cache.FetchTasks(ctx); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !mr.Exists(boardCacheKey("user-1")) {
		t.Fatalf("expected primed cache entry")
	}

	if err := cache.MoveTask(ctx, "t1", "done", 0); err != nil {
		t.Fatalf("move task: %v", err)
	}
	if !reflect.DeepEqual(moved, []string{"t1"}) {
		t.Fatalf("move not forwarded: %v", moved)
	}
	if mr.Exists(boardCacheKey("user-1")) {
		t.Fatalf("expected board cache to be evicted after move")
	}

	if _, err := cache.FetchTasks(ctx); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("expected refetch to hit the backend, fetches=%d", fetches)
	}
}

func TestCacheFailedMoveKeepsEntry(t *testing.T) {
	moveErr := errors.New("rejected")
	cache, mr := newCacheWithRedis(t, &stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			return []domain.Task{{ID: "t1"}}, nil
		},
		moveTaskFn: func(ctx context.Context, id, category string, order int) error {
			return moveErr
		},
	})
	ctx := context.Background()

	if _, err := cache.FetchTasks(ctx); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := cache.MoveTask(ctx, "t1", "done", 0); !errors.Is(err, moveErr) {
		t.Fatalf("expected move error, got %v", err)
	}
	if !mr.Exists(boardCacheKey("user-1")) {
		t.Fatalf("failed move must not evict the cache")
	}
}

func TestCacheDegradesWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close() // redis is unreachable from the start

	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1"}}, nil
		},
	}, client, time.Minute, "user-1")

	tasks, err := cache.FetchTasks(context.Background())
	if err != nil {
		t.Fatalf("fetch with redis down: %v", err)
	}
	if len(tasks) != 1 || calls != 1 {
		t.Fatalf("unexpected result: tasks=%v calls=%d", tasks, calls)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	var calls int
	cache, mr := newCacheWithRedis(t, &stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1"}}, nil
		},
	})
	if err := mr.Set(boardCacheKey("user-1"), "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	tasks, err := cache.FetchTasks(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 1 || calls != 1 {
		t.Fatalf("corrupt entry not bypassed: tasks=%v calls=%d", tasks, calls)
	}
}

func TestCacheNilClientPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute, "user-1")

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchTasks(context.Background()); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("nil client must disable caching, calls=%d", calls)
	}
}
