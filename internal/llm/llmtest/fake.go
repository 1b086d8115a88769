// Package llmtest 提供测试用的 llm.Gateway 实现。
package llmtest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/PaperFast/internal/llm"
)

// Call 记录一次 Gateway 调用。
type Call struct {
	Method       string
	SystemPrompt string
	Messages     []*schema.Message
	Choices      []string
	Tools        []tool.BaseTool
}

// Gateway 是可编程的假网关：未设置的回调返回固定值，所有调用都会被记录。
type Gateway struct {
	CompleteFunc   func(ctx context.Context, msgs []*schema.Message) (string, error)
	StructuredFunc func(ctx context.Context, msgs []*schema.Message, choices []string) (string, error)
	AgenticFunc    func(ctx context.Context, systemPrompt string, msgs []*schema.Message, tools []tool.BaseTool) (string, error)

	mu    sync.Mutex
	calls []Call
}

var _ llm.Gateway = (*Gateway)(nil)

func (g *Gateway) Complete(ctx context.Context, msgs []*schema.Message) (string, error) {
	g.record(Call{Method: "Complete", Messages: msgs})
	if g.CompleteFunc != nil {
		return g.CompleteFunc(ctx, msgs)
	}
	return "ok", nil
}

func (g *Gateway) CompleteStructured(ctx context.Context, msgs []*schema.Message, choices []string) (string, error) {
	g.record(Call{Method: "CompleteStructured", Messages: msgs, Choices: choices})
	if g.StructuredFunc != nil {
		return g.StructuredFunc(ctx, msgs, choices)
	}
	if len(choices) == 0 {
		return "", llm.ErrNoDecision
	}
	return choices[0], nil
}

func (g *Gateway) RunAgentic(ctx context.Context, systemPrompt string, msgs []*schema.Message, tools []tool.BaseTool) (string, error) {
	g.record(Call{Method: "RunAgentic", SystemPrompt: systemPrompt, Messages: msgs, Tools: tools})
	if g.AgenticFunc != nil {
		return g.AgenticFunc(ctx, systemPrompt, msgs, tools)
	}
	return "ok", nil
}

func (g *Gateway) record(c Call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

// Calls 返回目前为止的调用记录。
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Last 返回最近一次指定方法的调用，没有时 ok 为 false。
func (g *Gateway) Last(method string) (Call, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.calls) - 1; i >= 0; i-- {
		if g.calls[i].Method == method {
			return g.calls[i], true
		}
	}
	return Call{}, false
}

// Reset 清空调用记录。
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// LastUserContent 返回消息列表中最后一条 user 消息的内容。
func LastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.User {
			return msgs[i].Content
		}
	}
	return ""
}
