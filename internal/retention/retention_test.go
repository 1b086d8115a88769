package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/storage"
)

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "retention.db"), EnableWAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *storage.Storage, conversations, audits int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < conversations; i++ {
		require.NoError(t, store.CreateConversation(ctx, &storage.Conversation{Name: "c", MessagesJSON: "[]"}))
	}
	for i := 0; i < audits; i++ {
		require.NoError(t, store.InsertAuditRecord(ctx, &storage.AuditRecord{Action: "search_papers", Status: "success"}))
	}
}

func TestRunOnce(t *testing.T) {
	store := openTestStorage(t)
	seed(t, store, 2, 4)
	ctx := context.Background()

	p, err := NewPruner(config.RetentionConfig{ConversationDays: 30, AuditKeep: 1}, store)
	require.NoError(t, err)

	// 现在的数据都还新，不会删除对话
	res, err := p.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Conversations)
	assert.Equal(t, int64(3), res.AuditRecords)

	res, err = p.RunOnce(ctx, time.Now().UTC().AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Conversations)
	assert.Equal(t, int64(0), res.AuditRecords)

	n, err := store.CountConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.CountAuditRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunOnce_AuditDays(t *testing.T) {
	store := openTestStorage(t)
	seed(t, store, 1, 3)

	p, err := NewPruner(config.RetentionConfig{AuditDays: 7}, store)
	require.NoError(t, err)

	res, err := p.RunOnce(context.Background(), time.Now().UTC().AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Equal(t, Result{AuditRecords: 3}, res)
}

func TestStartStop(t *testing.T) {
	store := openTestStorage(t)
	seed(t, store, 0, 3)

	p, err := NewPruner(config.RetentionConfig{AuditKeep: 1, Interval: 10 * time.Millisecond}, store)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		n, err := store.CountAuditRecords(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	assert.NoError(t, p.Wait())
}

func TestNewPruner_RequiresStorage(t *testing.T) {
	_, err := NewPruner(config.RetentionConfig{}, nil)
	assert.Error(t, err)
}
