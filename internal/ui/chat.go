package ui

import (
	"context"

	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/session"
)

// ChatBackend 处理一轮对话，*session.Service 实现了它。
type ChatBackend interface {
	Turn(ctx context.Context, req session.TurnRequest) (session.TurnResult, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// ConversationID 为 nil 时开始新对话
	ConversationID *uint64
	// History 为继续已有对话时预先展示的消息
	History    []agent.Message
	RAGEnabled bool
	Sources    []string
	// ShowProgress 展示当前运行的 Agent 与阶段
	ShowProgress bool
}

// Session 是一个界面中的对话状态，两种界面共用。
type Session struct {
	ConversationID *uint64
	Messages       []agent.Message
	RAGEnabled     bool
	Sources        []string
}

func NewSession(opts ChatOptions) *Session {
	return &Session{
		ConversationID: opts.ConversationID,
		Messages:       append([]agent.Message(nil), opts.History...),
		RAGEnabled:     opts.RAGEnabled,
		Sources:        append([]string(nil), opts.Sources...),
	}
}

func (s *Session) Request(query string) session.TurnRequest {
	return session.TurnRequest{
		ConversationID: s.ConversationID,
		Query:          query,
		RAGEnabled:     s.RAGEnabled,
		Sources:        s.Sources,
	}
}

// Apply 记录一轮的结果；保存失败时 res 中仍然带有本轮的消息。
func (s *Session) Apply(res session.TurnResult) {
	if len(res.State.Messages) > 0 {
		s.Messages = res.State.Messages
	}
	if res.ConversationID != 0 {
		id := res.ConversationID
		s.ConversationID = &id
	}
}

// Reset 开始新对话，保留 RAG 设置与文档选择。
func (s *Session) Reset() {
	s.ConversationID = nil
	s.Messages = nil
}
