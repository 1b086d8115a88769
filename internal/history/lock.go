package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
)

// Locker 保证同一个对话同一时间只有一个运行在写入。
type Locker interface {
	// Lock 阻塞直到获得 key 对应的锁或 ctx 结束，返回的 unlock 必须调用且只调用一次。
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ConversationKey 返回对话锁使用的 key。
func ConversationKey(id uint64) string {
	return fmt.Sprintf("conversation:%d", id)
}

// LocalLocker 为进程内锁，每个 key 对应一个容量为 1 的 channel。
// 没有持有者和等待者的 key 会被移除。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.release(key, lk)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, lk)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lk.refs--; lk.refs == 0 {
		delete(l.locks, key)
	}
}

// size 返回当前记录的 key 数。
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// releaseScript 只有在锁仍属于自己时才删除，避免误删过期后被他人持有的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	redisLockPrefix = "paperfast:lock:"
	redisRetryDelay = 100 * time.Millisecond
)

// RedisLocker 基于 Redis SET NX PX 的分布式锁，用于多个进程共享同一个数据库的场景。
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) (*RedisLocker, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := redisLockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisRetryDelay):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 使用独立的 context，调用方的 ctx 可能已经结束
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				log.Error(ctx, err, log.KV{K: "msg", V: "release lock failed"}, log.KV{K: "key", V: key})
			}
		})
	}, nil
}
