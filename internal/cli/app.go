package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/history"
	"github.com/wwwzy/PaperFast/internal/llm"
	"github.com/wwwzy/PaperFast/internal/retrieval"
	"github.com/wwwzy/PaperFast/internal/session"
	"github.com/wwwzy/PaperFast/internal/storage"
	"github.com/wwwzy/PaperFast/internal/tools"
	"github.com/wwwzy/PaperFast/internal/workflow"
)

// app 持有一次命令执行期间共享的资源。
type app struct {
	store   *storage.Storage
	index   *retrieval.Index
	history *history.SQLStore

	closers []func() error
}

// openApp 打开数据库与文档索引；对话相关组件由 newWorkflow/newService 按需创建。
func openApp(ctx context.Context) (*app, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	emb, err := retrieval.NewEmbedderFromConfig(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("创建 embedding 客户端失败: %w", err)
	}
	// 未配置 embedding 时传入 nil 接口，索引按关闭处理
	var embedder embedding.Embedder
	if emb != nil {
		embedder = emb
	}

	splitter := retrieval.Splitter{Size: cfg.Retrieval.ChunkSize, Overlap: cfg.Retrieval.ChunkOverlap}
	return &app{
		store:   store,
		index:   retrieval.NewIndex(store, embedder, splitter),
		history: history.NewSQLStore(store),
		closers: []func() error{store.Close},
	}, nil
}

func (a *app) newWorkflow(ctx context.Context) (*workflow.Workflow, error) {
	gw, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建模型失败: %w", err)
	}
	wf, err := workflow.New(ctx, agent.Deps{
		Gateway:   gw,
		Retriever: a.index,
		Retrieval: cfg.Retrieval,
		Tools:     tools.BuildProviders(cfg.Tools, a.store),
	})
	if err != nil {
		return nil, fmt.Errorf("构建工作流失败: %w", err)
	}
	return wf, nil
}

func (a *app) newService(ctx context.Context) (*session.Service, error) {
	wf, err := a.newWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	locker, closeLocker, err := session.NewLocker(ctx, cfg.Lock)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)
	return session.NewService(wf, a.history, locker), nil
}

// Close 按打开的逆序释放资源。
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
