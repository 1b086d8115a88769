// Package retention 在后台按配置定期清理旧对话与工具审计记录。
package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/storage"
	"goa.design/clue/log"
)

// Result 是一次清理删除的记录数。
type Result struct {
	Conversations int64
	AuditRecords  int64
}

// Pruner 按 RetentionConfig 清理 storage 中的数据。
type Pruner struct {
	cfg   config.RetentionConfig
	store *storage.Storage

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewPruner(cfg config.RetentionConfig, store *storage.Storage) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Pruner{cfg: cfg, store: store}, nil
}

// RunOnce 以 now 为基准执行一次清理，各项任务并发进行。
func (p *Pruner) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	var (
		res   Result
		tasks []func(context.Context) error
	)

	if days := p.cfg.ConversationDays; days > 0 {
		before := now.AddDate(0, 0, -days)
		tasks = append(tasks, func(ctx context.Context) error {
			n, err := p.store.DeleteConversationsBefore(ctx, before)
			atomic.AddInt64(&res.Conversations, n)
			return err
		})
	}
	// 审计记录的两种条件都会改动同一张表，放在同一个任务里顺序执行
	if p.cfg.AuditDays > 0 || p.cfg.AuditKeep > 0 {
		tasks = append(tasks, func(ctx context.Context) error {
			if p.cfg.AuditKeep > 0 {
				n, err := p.store.DeleteAuditRecordsKeepLatest(ctx, p.cfg.AuditKeep)
				atomic.AddInt64(&res.AuditRecords, n)
				if err != nil {
					return err
				}
			}
			if p.cfg.AuditDays > 0 {
				n, err := p.store.DeleteAuditRecordsBefore(ctx, now.AddDate(0, 0, -p.cfg.AuditDays))
				atomic.AddInt64(&res.AuditRecords, n)
				return err
			}
			return nil
		})
	}

	errs := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	if err := errors.Join(all...); err != nil {
		return res, err
	}
	log.Info(ctx, log.KV{K: "msg", V: "retention pass"},
		log.KV{K: "conversations", V: res.Conversations},
		log.KV{K: "audit_records", V: res.AuditRecords})
	return res, nil
}

func (p *Pruner) run(ctx context.Context) error {
	if _, err := p.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// Start 在后台周期性执行清理，直到 Stop 或 ctx 结束。
func (p *Pruner) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pruner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.run(runCtx); err != nil {
			log.Error(runCtx, err, log.KV{K: "msg", V: "retention stopped"})
			p.runErrMu.Lock()
			p.runErr = err
			p.runErrMu.Unlock()
		}
	}()
	return nil
}

func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait 等待后台任务退出并返回其错误。
func (p *Pruner) Wait() error {
	p.wg.Wait()
	p.runErrMu.Lock()
	defer p.runErrMu.Unlock()
	return p.runErr
}
