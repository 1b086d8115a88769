package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/trace"
	"goa.design/clue/log"
)

// Request 是一次运行的输入，调用方提供完整的对话记录。
type Request struct {
	Messages   []agent.Message
	RAGEnabled bool
	Sources    []string
}

// Workflow 把 Router 与各 Specialized Agent 编排为 START -> MASTER -> 分支 -> Agent -> END 的单跳图。
type Workflow struct {
	runnable compose.Runnable[agent.ConversationState, agent.ConversationState]
}

func New(ctx context.Context, deps agent.Deps) (*Workflow, error) {
	router, err := agent.NewByRole(agent.MasterAgent, deps)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	g := compose.NewGraph[agent.ConversationState, agent.ConversationState]()
	if err := g.AddLambdaNode(string(agent.MasterAgent), compose.InvokableLambda(runNode(router))); err != nil {
		return nil, err
	}
	if err := g.AddEdge(compose.START, string(agent.MasterAgent)); err != nil {
		return nil, err
	}

	ends := make(map[string]bool)
	for _, role := range agent.SpecializedAgents() {
		a, err := agent.NewByRole(role, deps)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", role, err)
		}
		if err := g.AddLambdaNode(string(role), compose.InvokableLambda(runNode(a))); err != nil {
			return nil, err
		}
		if err := g.AddEdge(string(role), compose.END); err != nil {
			return nil, err
		}
		ends[string(role)] = true
	}

	// 按 Router 写入的 NextNode 分支，未知值走 GENERAL_AGENT
	if err := g.AddBranch(string(agent.MasterAgent), compose.NewGraphBranch(func(ctx context.Context, s agent.ConversationState) (string, error) {
		if s.NextNode.IsSpecialized() {
			return string(s.NextNode), nil
		}
		return string(agent.GeneralAgent), nil
	}, ends)); err != nil {
		return nil, err
	}

	runnable, err := g.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile workflow: %w", err)
	}
	return &Workflow{runnable: runnable}, nil
}

// runNode 把一个 Agent 包装为图节点，并在前后发出 node_start / node_end 事件。
func runNode(a *agent.Agent) func(context.Context, agent.ConversationState) (agent.ConversationState, error) {
	role := string(a.Role())
	return func(ctx context.Context, s agent.ConversationState) (agent.ConversationState, error) {
		trace.Emit(ctx, trace.Event{Kind: trace.EventNodeStart, Node: role})
		out, err := a.Run(ctx, s)
		if err != nil {
			return s, err
		}

		detail := ""
		if a.Role() == agent.MasterAgent {
			detail = string(out.NextNode)
			log.Info(ctx, log.KV{K: "msg", V: "routed"}, log.KV{K: "next_node", V: out.NextNode}, log.KV{K: "rag_enabled", V: out.RAGEnabled})
		}
		trace.Emit(ctx, trace.Event{Kind: trace.EventNodeEnd, Node: role, Detail: detail})
		return out, nil
	}
}

// Invoke 运行一次完整的工作流并返回新的对话状态，req.Messages 不会被修改。
func (w *Workflow) Invoke(ctx context.Context, req Request) (agent.ConversationState, error) {
	if trace.GetTraceID(ctx) == "" {
		ctx = trace.WithTraceID(ctx, uuid.NewString())
	}
	ctx = log.With(ctx, log.KV{K: "trace_id", V: trace.GetTraceID(ctx)})

	in := agent.ConversationState{
		Messages:   slices.Clone(req.Messages),
		RAGEnabled: req.RAGEnabled,
		Sources:    slices.Clone(req.Sources),
	}
	out, err := w.runnable.Invoke(ctx, in)
	if ctx.Err() != nil {
		return in, ctx.Err()
	}
	if err != nil {
		return in, fmt.Errorf("run workflow: %w", err)
	}
	return out, nil
}

// Stream 在后台运行工作流，返回的事件流依次产出各节点与阶段的进度，最后给出结果。
func (w *Workflow) Stream(ctx context.Context, req Request) *EventStream {
	s := newEventStream()
	go func() {
		runCtx := trace.WithEmitter(ctx, func(ev trace.Event) { s.push(ev) })
		out, err := w.Invoke(runCtx, req)
		s.end(out, err)
	}()
	return s
}
