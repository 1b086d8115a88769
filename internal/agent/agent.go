package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/PaperFast/internal/llm"
	"github.com/wwwzy/PaperFast/internal/trace"
	"goa.design/clue/log"
)

const (
	StageRetrieveContext  = "retrieve_context"
	StagePrepareMessages  = "prepare_messages"
	StageGenerateResponse = "generate_response"
	StageUpdateState      = "update_state"
)

// ApologyMessage 在生成失败时代替模型回复写入对话。
const ApologyMessage = "Sorry, I couldn't generate a response right now. Please try again in a moment."

var (
	// ErrNoPrompter 表示构造 Agent 时没有提供提示词策略。
	ErrNoPrompter = errors.New("agent requires a prompt strategy")
	// ErrNoGateway 表示构造 Agent 时没有提供生成网关。
	ErrNoGateway = errors.New("agent requires a generation gateway")
)

// PromptInput 是 CreatePrompt 能看到的扁平化状态。
type PromptInput struct {
	Messages   []Message
	Context    string
	RAGEnabled bool
	Query      string
	Sources    []string
}

// Prompter 生成追加在对话末尾的指令文本，每个 Agent 都必须提供。
type Prompter interface {
	CreatePrompt(in PromptInput) string
}

// ContextRetriever 为需要文档上下文的 Agent 检索上下文。
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, state ConversationState, query string) (string, error)
}

type GenerateInput struct {
	Role         AgentType
	SystemPrompt string
	Messages     []*schema.Message
	State        ConversationState
}

// ResponseGenerator 替换默认的单次 Gateway.Complete 调用。
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, gw llm.Gateway, in GenerateInput) (Response, error)
}

// StateUpdater 替换默认的“追加一条消息”写回逻辑。
type StateUpdater interface {
	UpdateState(state ConversationState, resp Response) ConversationState
}

type Config struct {
	Role         AgentType
	SystemPrompt string
	Gateway      llm.Gateway
}

// Agent 按 retrieve_context -> prepare_messages -> generate_response -> update_state 的固定顺序运行。
type Agent struct {
	cfg      Config
	strategy Prompter
	template prompt.ChatTemplate
	runnable compose.Runnable[Scratch, Scratch]
}

func New(cfg Config, strategy Prompter) (*Agent, error) {
	if strategy == nil {
		return nil, ErrNoPrompter
	}
	if cfg.Gateway == nil {
		return nil, ErrNoGateway
	}
	if cfg.Role == "" {
		return nil, errors.New("agent role is empty")
	}

	a := &Agent{cfg: cfg, strategy: strategy, template: newChatTemplate()}
	runnable, err := a.buildGraph(context.Background())
	if err != nil {
		return nil, fmt.Errorf("build %s pipeline: %w", cfg.Role, err)
	}
	a.runnable = runnable
	return a, nil
}

func (a *Agent) Role() AgentType { return a.cfg.Role }

// newChatTemplate 组装 system + history + prompt；system 与 prompt 都作为变量传入，内容里的花括号不会被当成占位符。
func newChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{prompt}"),
	)
}

func (a *Agent) buildGraph(ctx context.Context) (compose.Runnable[Scratch, Scratch], error) {
	g := compose.NewGraph[Scratch, Scratch]()

	nodes := []struct {
		name string
		fn   func(context.Context, Scratch) (Scratch, error)
	}{
		{StageRetrieveContext, a.retrieveContext},
		{StagePrepareMessages, a.prepareMessages},
		{StageGenerateResponse, a.generateResponse},
		{StageUpdateState, a.updateState},
	}

	prev := compose.START
	for _, n := range nodes {
		fn := n.fn
		name := n.name
		if err := g.AddLambdaNode(name, compose.InvokableLambda(func(ctx context.Context, s Scratch) (Scratch, error) {
			trace.Emit(ctx, trace.Event{Kind: trace.EventStage, Stage: name})
			return fn(ctx, s)
		})); err != nil {
			return nil, err
		}
		if err := g.AddEdge(prev, name); err != nil {
			return nil, err
		}
		prev = name
	}
	if err := g.AddEdge(prev, compose.END); err != nil {
		return nil, err
	}

	return g.Compile(ctx)
}

// Run 执行一次完整的 pipeline 并返回新的状态，传入的 state 不会被修改。
// 内部失败会降级为一条致歉回复，只有 ctx 被取消时才返回错误。
func (a *Agent) Run(ctx context.Context, state ConversationState) (ConversationState, error) {
	ctx = trace.WithAgent(ctx, string(a.cfg.Role))

	out, err := a.runnable.Invoke(ctx, Scratch{State: state.Clone()})
	if err != nil {
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		log.Error(ctx, err, log.KV{K: "msg", V: "agent pipeline failed"}, log.KV{K: "agent", V: a.cfg.Role})
		return a.update(state, Response{Text: ApologyMessage}), nil
	}
	if ctx.Err() != nil {
		return state, ctx.Err()
	}
	return out.State, nil
}

func (a *Agent) retrieveContext(ctx context.Context, s Scratch) (Scratch, error) {
	s.Query = s.State.LatestUserQuery()

	r, ok := a.strategy.(ContextRetriever)
	if !ok {
		return s, nil
	}
	text, err := r.RetrieveContext(ctx, s.State, s.Query)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "retrieve context failed"}, log.KV{K: "agent", V: a.cfg.Role}, log.KV{K: "err", V: err.Error()})
		text = ""
	}
	s.Context = text
	return s, nil
}

func (a *Agent) prepareMessages(ctx context.Context, s Scratch) (Scratch, error) {
	history := make([]*schema.Message, 0, len(s.State.Messages))
	for _, m := range s.State.Messages {
		history = append(history, toSchemaMessage(m))
	}

	text := a.strategy.CreatePrompt(PromptInput{
		Messages:   s.State.Messages,
		Context:    s.Context,
		RAGEnabled: s.State.RAGEnabled,
		Query:      s.Query,
		Sources:    s.State.Sources,
	})

	msgs, err := a.template.Format(ctx, map[string]any{
		"system":  a.cfg.SystemPrompt,
		"history": history,
		"prompt":  text,
	})
	if err != nil {
		return s, fmt.Errorf("format messages: %w", err)
	}
	s.Messages = msgs
	return s, nil
}

// toSchemaMessage 把对话记录转换为模型消息：assistant 保持 assistant，其余角色作为 user 发送并带上角色前缀。
func toSchemaMessage(m Message) *schema.Message {
	switch m.Role {
	case RoleAssistant:
		return schema.AssistantMessage(m.Content, nil)
	case RoleUser:
		return schema.UserMessage(m.Content)
	default:
		return schema.UserMessage(m.Role + ": " + m.Content)
	}
}

func (a *Agent) generateResponse(ctx context.Context, s Scratch) (Scratch, error) {
	var (
		resp Response
		err  error
	)
	if g, ok := a.strategy.(ResponseGenerator); ok {
		resp, err = g.GenerateResponse(ctx, a.cfg.Gateway, GenerateInput{
			Role:         a.cfg.Role,
			SystemPrompt: a.cfg.SystemPrompt,
			Messages:     s.Messages,
			State:        s.State,
		})
	} else {
		resp.Text, err = a.cfg.Gateway.Complete(ctx, s.Messages)
	}
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "generate response failed"}, log.KV{K: "agent", V: a.cfg.Role}, log.KV{K: "err", V: err.Error()})
		resp = Response{Text: ApologyMessage}
	}
	s.Response = resp
	return s, nil
}

func (a *Agent) updateState(ctx context.Context, s Scratch) (Scratch, error) {
	s.State = a.update(s.State, s.Response)
	return s, nil
}

func (a *Agent) update(state ConversationState, resp Response) ConversationState {
	if u, ok := a.strategy.(StateUpdater); ok {
		return u.UpdateState(state.Clone(), resp)
	}
	out := state.withMessage(Message{Role: string(a.cfg.Role), Content: resp.Text})
	out.PrevNode = a.cfg.Role
	return out
}
