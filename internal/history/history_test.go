package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/storage"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msgs := []agent.Message{
		{Role: agent.RoleUser, Content: "Summarize this paper"},
		{Role: string(agent.SummaryAgent), Content: "It proposes ..."},
	}
	id, err := s.Save(ctx, msgs, nil)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	// 更新已有对话不会新建
	msgs = append(msgs, agent.Message{Role: agent.RoleUser, Content: "more"})
	id2, err := s.Save(ctx, msgs, &id)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].MessageCount)
	assert.Equal(t, "Summarize this paper", list[0].Name)
}

func TestSaveRoundtripProperty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 30
	properties := gopter.NewProperties(params)

	roles := gen.OneConstOf(agent.RoleUser, agent.RoleAssistant, string(agent.RAGAgent), string(agent.GeneralAgent))
	content := gen.OneGenOf(gen.AlphaString(), gen.UnicodeString(unicode.Hangul))
	msgGen := gopter.CombineGens(roles, content).Map(func(v []interface{}) agent.Message {
		return agent.Message{Role: v[0].(string), Content: v[1].(string)}
	})

	properties.Property("load(save(msgs)) == msgs", prop.ForAll(
		func(msgs []agent.Message) bool {
			id, err := s.Save(ctx, msgs, nil)
			if err != nil {
				return false
			}
			got, err := s.Load(ctx, id)
			if err != nil {
				return false
			}
			if len(got) != len(msgs) {
				return false
			}
			for i := range msgs {
				if got[i] != msgs[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(msgGen),
	))

	properties.TestingRun(t)
}

func TestSaveUnknownIDCreatesNew(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	missing := uint64(42)
	id, err := s.Save(ctx, []agent.Message{{Role: agent.RoleUser, Content: "hi"}}, &missing)
	require.NoError(t, err)
	assert.NotEqual(t, missing, id)

	_, err = s.Load(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameDeleteList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, []agent.Message{{Role: agent.RoleUser, Content: "first"}}, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.Save(ctx, []agent.Message{{Role: agent.RoleUser, Content: "second"}}, nil)
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)

	require.NoError(t, s.Rename(ctx, first, "  Attention paper  "))
	assert.Error(t, s.Rename(ctx, first, " "))
	assert.ErrorIs(t, s.Rename(ctx, 999, "x"), ErrNotFound)

	// 重命名后再次保存不会覆盖名称
	_, err = s.Save(ctx, []agent.Message{{Role: agent.RoleUser, Content: "first"}, {Role: agent.RoleUser, Content: "again"}}, &first)
	require.NoError(t, err)
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, "Attention paper", list[0].Name)

	require.NoError(t, s.Delete(ctx, first))
	assert.ErrorIs(t, s.Delete(ctx, first), ErrNotFound)

	n, err := s.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeleteBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, []agent.Message{{Role: agent.RoleUser, Content: "old"}}, nil)
	require.NoError(t, err)

	n, err := s.DeleteBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "New conversation", DefaultName(nil))
	assert.Equal(t, "New conversation", DefaultName([]agent.Message{{Role: agent.RoleAssistant, Content: "hello"}}))
	assert.Equal(t, "short question", DefaultName([]agent.Message{
		{Role: agent.RoleAssistant, Content: "hello"},
		{Role: agent.RoleUser, Content: "  short\n question "},
	}))

	long := strings.Repeat("가", 40)
	assert.Equal(t, strings.Repeat("가", 30)+"...", DefaultName([]agent.Message{{Role: agent.RoleUser, Content: long}}))
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, ConversationKey(1))
	require.NoError(t, err)

	// 另一个 key 不受影响
	other, err := l.Lock(ctx, ConversationKey(2))
	require.NoError(t, err)
	other()

	// 同一个 key 在超时前拿不到锁
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, ConversationKey(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // 重复调用是安全的

	again, err := l.Lock(ctx, ConversationKey(1))
	require.NoError(t, err)
	again()
	assert.Zero(t, l.size())
}

func TestLocalLockerForgetsIdleKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	for i := uint64(0); i < 100; i++ {
		unlock, err := l.Lock(ctx, ConversationKey(i))
		require.NoError(t, err)
		unlock()
	}
	assert.Zero(t, l.size())

	// 等待中被取消的调用者不会留下记录
	unlock, err := l.Lock(ctx, "busy")
	require.NoError(t, err)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, "busy")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.size())

	unlock()
	assert.Zero(t, l.size())
}

func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}

// TestRedisLocker 需要一个可用的 Redis，未设置 PAPERFAST_TEST_REDIS_ADDR 时跳过。
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("PAPERFAST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PAPERFAST_TEST_REDIS_ADDR 未设置，跳过 Redis 锁测试")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := NewRedisLocker(rdb, time.Second)
	require.NoError(t, err)
	ctx := context.Background()
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := l.Lock(ctx, key)
	require.NoError(t, err)
	again()
}
