package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

var (
	// ErrEmptyResponse 表示模型返回了空内容。
	ErrEmptyResponse = errors.New("model returned empty response")
	// ErrNoDecision 表示结构化输出无法解析为任何一个候选值。
	ErrNoDecision = errors.New("model returned no valid decision")
)

// Gateway 是核心调用文本生成能力的唯一入口。
type Gateway interface {
	// Complete 根据消息列表生成一段文本。
	Complete(ctx context.Context, msgs []*schema.Message) (string, error)
	// CompleteStructured 让模型从 choices 中选出一个值并返回。
	CompleteStructured(ctx context.Context, msgs []*schema.Message, choices []string) (string, error)
	// RunAgentic 运行一个可调用工具的子会话，直到模型给出最终回答。
	RunAgentic(ctx context.Context, systemPrompt string, msgs []*schema.Message, tools []tool.BaseTool) (string, error)
}

type Options struct {
	GenerateTimeout time.Duration
	AgenticTimeout  time.Duration
	MaxStep         int
}

// ChatGateway 基于 eino 的 ToolCallingChatModel 实现 Gateway。
type ChatGateway struct {
	model model.ToolCallingChatModel
	opts  Options
}

func NewChatGateway(cm model.ToolCallingChatModel, opts Options) (*ChatGateway, error) {
	if cm == nil {
		return nil, errors.New("chat model is nil")
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = 12
	}
	return &ChatGateway{model: cm, opts: opts}, nil
}

func (g *ChatGateway) Complete(ctx context.Context, msgs []*schema.Message) (string, error) {
	ctx, cancel := withTimeout(ctx, g.opts.GenerateTimeout)
	defer cancel()

	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("chat model generate failed: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Content, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
