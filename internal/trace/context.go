package trace

import (
	"context"
)

type traceIDKey struct{}

type agentKey struct{}

type emitterKey struct{}

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithAgent 记录当前正在执行的 Agent 角色，工具审计记录会带上它。
func WithAgent(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, agentKey{}, role)
}

func GetAgent(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey{}).(string); ok {
		return v
	}
	return ""
}

// EventKind 标识进度事件的类型。
type EventKind string

const (
	EventNodeStart EventKind = "node_start"
	EventStage     EventKind = "stage"
	EventTool      EventKind = "tool"
	EventNodeEnd   EventKind = "node_end"
)

// Event 是一次运行中的进度事件，供 UI 展示当前活跃的 Agent 与阶段。
type Event struct {
	Kind EventKind `json:"kind"`
	// Node 为当前活跃的 Agent 角色。
	Node string `json:"node"`
	// Stage 为 pipeline 阶段名或工具名。
	Stage string `json:"stage,omitempty"`
	// Detail 为可选的补充说明（例如路由结果、工具调用状态）。
	Detail string `json:"detail,omitempty"`
}

// Emitter 接收进度事件，实现必须可以被并发调用。
type Emitter func(Event)

// WithEmitter 将事件接收者注入 context；未注入时 Emit 为空操作。
func WithEmitter(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, e)
}

func Emit(ctx context.Context, ev Event) {
	if e, ok := ctx.Value(emitterKey{}).(Emitter); ok && e != nil {
		if ev.Node == "" {
			ev.Node = GetAgent(ctx)
		}
		e(ev)
	}
}
