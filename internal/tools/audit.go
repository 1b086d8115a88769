package tools

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/PaperFast/internal/storage"
	"github.com/wwwzy/PaperFast/internal/trace"
	"goa.design/clue/log"
)

const auditTruncateLimit = 2048

const (
	statusRunning = "running"
	statusSuccess = "success"
	statusFailed  = "failed"
)

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志并发出进度事件
type AuditedTool struct {
	impl  tool.InvokableTool
	store *storage.Storage
}

// wrapWithAudit 将普通工具包装为带审计功能的工具
func wrapWithAudit(t tool.BaseTool, store *storage.Storage) tool.BaseTool {
	if store == nil {
		return t
	}
	if it, ok := t.(tool.InvokableTool); ok {
		return &AuditedTool{impl: it, store: store}
	}
	return t
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	action := "unknown"
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		action = info.Name
	}
	trace.Emit(ctx, trace.Event{Kind: trace.EventTool, Stage: action, Detail: statusRunning})

	id := t.begin(ctx, action, argumentsInJSON)

	// 模型偶尔给出不完整的参数（例如只有 { ）
	args := argumentsInJSON
	if args == "" || args == "{" {
		args = "{}"
	}
	start := time.Now()
	result, runErr := t.impl.InvokableRun(ctx, args, opts...)

	status := t.finish(ctx, id, action, result, runErr)
	log.Debug(ctx, log.KV{K: "msg", V: "tool call"}, log.KV{K: "action", V: action},
		log.KV{K: "status", V: status}, log.KV{K: "duration_ms", V: time.Since(start).Milliseconds()})
	trace.Emit(ctx, trace.Event{Kind: trace.EventTool, Stage: action, Detail: status})
	return result, runErr
}

// begin 写入一条 running 记录并返回其 ID；写入失败返回 0，只记录日志，不阻断工具执行。
func (t *AuditedTool) begin(ctx context.Context, action, args string) uint64 {
	rec := &storage.AuditRecord{
		TraceID:    trace.GetTraceID(ctx),
		Agent:      trace.GetAgent(ctx),
		Action:     action,
		ParamsJSON: truncate(args, auditTruncateLimit),
		Status:     statusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := t.store.InsertAuditRecord(ctx, rec); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "insert audit record failed"}, log.KV{K: "action", V: action})
		return 0
	}
	return rec.ID
}

func (t *AuditedTool) finish(ctx context.Context, id uint64, action, result string, runErr error) string {
	finishedAt := time.Now().UTC()
	up := storage.AuditUpdate{FinishedAt: &finishedAt}
	status := statusSuccess
	if runErr != nil {
		status = statusFailed
		msg := truncate(runErr.Error(), auditTruncateLimit)
		up.ErrorMessage = &msg
	} else {
		r := truncate(result, auditTruncateLimit)
		up.ResultJSON = &r
	}
	up.Status = &status

	if id == 0 {
		return status
	}
	if err := t.store.UpdateAuditRecord(ctx, id, up); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "update audit record failed"}, log.KV{K: "action", V: action})
	}
	return status
}

type auditedProvider struct {
	inner Provider
	store *storage.Storage
}

// WithAudit 包装 Provider，使其返回的所有工具都带审计。
func WithAudit(p Provider, store *storage.Storage) Provider {
	if store == nil {
		return p
	}
	return &auditedProvider{inner: p, store: store}
}

func (p *auditedProvider) Name() string { return p.inner.Name() }

func (p *auditedProvider) Tools(ctx context.Context) ([]tool.BaseTool, error) {
	ts, err := p.inner.Tools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tool.BaseTool, 0, len(ts))
	for _, t := range ts {
		out = append(out, wrapWithAudit(t, p.store))
	}
	return out, nil
}

// truncate 按字节截断，但不会切断一个 UTF-8 字符。
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "...(truncated)"
}
