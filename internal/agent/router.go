package agent

import (
	"context"

	"github.com/wwwzy/PaperFast/internal/llm"
	"goa.design/clue/log"
)

// router 只产出路由信号：不检索上下文，不向对话追加消息。
type router struct{}

// NewRouter 创建 Master Agent。
func NewRouter(gw llm.Gateway) (*Agent, error) {
	return New(Config{Role: MasterAgent, SystemPrompt: MasterSystemPrompt, Gateway: gw}, router{})
}

func (router) CreatePrompt(in PromptInput) string {
	return routePrompt(in.RAGEnabled)
}

func (router) GenerateResponse(ctx context.Context, gw llm.Gateway, in GenerateInput) (Response, error) {
	choices := routeChoices(in.State.RAGEnabled)
	out, err := gw.CompleteStructured(ctx, in.Messages, choices)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "routing decision failed, falling back"}, log.KV{K: "fallback", V: GeneralAgent}, log.KV{K: "err", V: err.Error()})
		return Response{Decision: GeneralAgent}, nil
	}
	return Response{Decision: decide(out)}, nil
}

func (router) UpdateState(state ConversationState, resp Response) ConversationState {
	state.NextNode = decide(string(resp.Decision))
	state.PrevNode = MasterAgent
	return state
}

// decide 把模型输出解析为 Agent 标识，不在枚举内时回退到 GENERAL_AGENT。
func decide(out string) AgentType {
	t, ok := ParseAgentType(out)
	if !ok {
		return GeneralAgent
	}
	return t
}
