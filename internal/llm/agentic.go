package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"goa.design/clue/log"
)

func (g *ChatGateway) RunAgentic(ctx context.Context, systemPrompt string, msgs []*schema.Message, tools []tool.BaseTool) (string, error) {
	// 没有工具时退化为一次普通调用
	if len(tools) == 0 {
		return g.Complete(ctx, withSystemPrompt(systemPrompt, msgs))
	}

	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: g.model,
		ToolsConfig:      compose.ToolsNodeConfig{Tools: tools},
		MessageModifier:  messageModifier(systemPrompt),
		MaxStep:          g.opts.MaxStep,
	})
	if err != nil {
		return "", fmt.Errorf("create react agent failed: %w", err)
	}

	ctx, cancel := withTimeout(ctx, g.opts.AgenticTimeout)
	defer cancel()

	log.Debug(ctx, log.KV{K: "msg", V: "agentic session started"}, log.KV{K: "tools", V: len(tools)})
	out, err := agent.Generate(ctx, stripSystem(msgs))
	if err != nil {
		return "", fmt.Errorf("agentic session failed: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Content, nil
}

// messageModifier 在每次调用 ChatModel 之前执行：修复不合法的工具调用参数，并在最前面放上 system message。
func messageModifier(systemPrompt string) react.MessageModifier {
	return func(ctx context.Context, input []*schema.Message) []*schema.Message {
		return withSystemPrompt(systemPrompt, sanitizeToolCalls(input))
	}
}

// sanitizeToolCalls 把空的或不合法的工具调用参数替换为 "{}"，不修改入参。
func sanitizeToolCalls(input []*schema.Message) []*schema.Message {
	sanitized := input
	changed := false
	for i, m := range input {
		if m == nil || m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		var calls []schema.ToolCall
		for j := range m.ToolCalls {
			args := strings.TrimSpace(m.ToolCalls[j].Function.Arguments)
			if args != "" && args != "null" && json.Valid([]byte(args)) {
				continue
			}
			if calls == nil {
				calls = append([]schema.ToolCall(nil), m.ToolCalls...)
			}
			calls[j].Function.Arguments = "{}"
		}
		if calls == nil {
			continue
		}
		if !changed {
			sanitized = append([]*schema.Message(nil), input...)
			changed = true
		}
		nm := *m
		nm.ToolCalls = calls
		sanitized[i] = &nm
	}
	return sanitized
}

// withSystemPrompt 返回以 systemPrompt 开头的新消息列表；已有的 system message 会被替换。
func withSystemPrompt(systemPrompt string, msgs []*schema.Message) []*schema.Message {
	rest := stripSystem(msgs)
	if systemPrompt == "" {
		return rest
	}
	out := make([]*schema.Message, 0, len(rest)+1)
	out = append(out, schema.SystemMessage(systemPrompt))
	out = append(out, rest...)
	return out
}

func stripSystem(msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Role == schema.System {
			continue
		}
		out = append(out, m)
	}
	return out
}
