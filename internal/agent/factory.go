package agent

import (
	"context"
	"fmt"

	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/llm"
	"github.com/wwwzy/PaperFast/internal/retrieval"
	"github.com/wwwzy/PaperFast/internal/tools"
)

// Deps 是创建各 Agent 需要的外部能力；Retriever 可以为 nil。
type Deps struct {
	Gateway   llm.Gateway
	Retriever retrieval.Retriever
	Retrieval config.RetrievalConfig
	Tools     tools.Sets
}

// NewByRole 按角色标识创建对应的 Agent。
func NewByRole(role AgentType, deps Deps) (*Agent, error) {
	switch role {
	case MasterAgent:
		return NewRouter(deps.Gateway)
	case GeneralAgent:
		return New(Config{Role: role, SystemPrompt: GeneralSystemPrompt, Gateway: deps.Gateway},
			&general{retriever: deps.Retriever, opts: deps.Retrieval, agentic: agentic{providers: deps.Tools.General}})
	case SearchAgent:
		return New(Config{Role: role, SystemPrompt: SearchSystemPrompt, Gateway: deps.Gateway},
			&search{agentic: agentic{providers: deps.Tools.Search}})
	case SummaryAgent:
		return New(Config{Role: role, SystemPrompt: SummarySystemPrompt, Gateway: deps.Gateway},
			&summary{retriever: deps.Retriever, opts: deps.Retrieval})
	case RAGAgent:
		return New(Config{Role: role, SystemPrompt: RAGSystemPrompt, Gateway: deps.Gateway},
			&rag{retriever: deps.Retriever, opts: deps.Retrieval})
	default:
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
}

// agentic 让 Agent 在一个可调用工具的子会话中生成回复。
// 没有配置工具提供方时退化为一次普通生成；所有提供方都不可用时返回错误，由 pipeline 转为致歉回复。
type agentic struct {
	providers []tools.Provider
}

func (g agentic) GenerateResponse(ctx context.Context, gw llm.Gateway, in GenerateInput) (Response, error) {
	if len(g.providers) == 0 {
		text, err := gw.Complete(ctx, in.Messages)
		return Response{Text: text}, err
	}

	ts, err := tools.Discover(ctx, g.providers)
	if err != nil {
		return Response{}, fmt.Errorf("discover tools: %w", err)
	}
	text, err := gw.RunAgentic(ctx, in.SystemPrompt, in.Messages, ts)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text}, nil
}
