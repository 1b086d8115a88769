package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/history"
	"github.com/wwwzy/PaperFast/internal/llm/llmtest"
	"github.com/wwwzy/PaperFast/internal/storage"
	"github.com/wwwzy/PaperFast/internal/trace"
	"github.com/wwwzy/PaperFast/internal/workflow"
)

func newService(t *testing.T, store history.Store) *Service {
	t.Helper()
	wf, err := workflow.New(context.Background(), agent.Deps{
		Gateway:   &llmtest.Gateway{},
		Retrieval: config.DefaultConfig().Retrieval,
	})
	require.NoError(t, err)
	return NewService(wf, store, nil)
}

func openStore(t *testing.T) *history.SQLStore {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "session.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return history.NewSQLStore(db)
}

func TestTurn_NewAndContinue(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc := newService(t, store)

	res, err := svc.Turn(ctx, TurnRequest{Query: "What's the weather today?"})
	require.NoError(t, err)
	require.NotZero(t, res.ConversationID)
	assert.NotEmpty(t, res.TraceID)
	assert.Equal(t, string(agent.GeneralAgent), res.Reply().Role)

	id := res.ConversationID
	res, err = svc.Turn(ctx, TurnRequest{ConversationID: &id, Query: "And tomorrow?"})
	require.NoError(t, err)
	assert.Equal(t, id, res.ConversationID)

	msgs, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "And tomorrow?", msgs[2].Content)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "What's the weather today?", list[0].Name)
}

func TestTurn_EmptyQuery(t *testing.T) {
	_, err := newService(t, openStore(t)).Turn(context.Background(), TurnRequest{Query: "  "})
	assert.Error(t, err)
}

func TestTurn_UnknownConversation(t *testing.T) {
	id := uint64(404)
	_, err := newService(t, openStore(t)).Turn(context.Background(), TurnRequest{ConversationID: &id, Query: "hi"})
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestTurn_TraceIDFromContext(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "trace-1")
	res, err := newService(t, openStore(t)).Turn(ctx, TurnRequest{Query: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "trace-1", res.TraceID)
}

// failingStore 的 Save 总是失败。
type failingStore struct {
	history.Store
}

func (failingStore) Save(context.Context, []agent.Message, *uint64) (uint64, error) {
	return 0, errors.New("database is locked")
}

func TestTurn_PersistFailureKeepsState(t *testing.T) {
	svc := newService(t, failingStore{Store: openStore(t)})

	res, err := svc.Turn(context.Background(), TurnRequest{Query: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorContains(t, err, "database is locked")
	require.Len(t, res.State.Messages, 2)
	assert.Equal(t, "ok", res.Reply().Content)
}

func TestTurn_SerializesSameConversation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc := newService(t, store)

	res, err := svc.Turn(ctx, TurnRequest{Query: "first"})
	require.NoError(t, err)
	id := res.ConversationID

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Turn(ctx, TurnRequest{ConversationID: &id, Query: "again"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 没有任何一轮覆盖掉其他轮的写入
	msgs, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, msgs, 2+2*n)
}

func TestNewLocker(t *testing.T) {
	l, closeFn, err := NewLocker(context.Background(), config.LockConfig{Backend: "local"})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	unlock, err := l.Lock(context.Background(), history.ConversationKey(1))
	require.NoError(t, err)
	unlock()

	_, _, err = NewLocker(context.Background(), config.LockConfig{Backend: "zookeeper"})
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err = NewLocker(ctx, config.LockConfig{Backend: "redis", Redis: config.RedisConfig{Addr: "127.0.0.1:1"}})
	assert.Error(t, err)
}
