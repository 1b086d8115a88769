package llm

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PaperFast/internal/config"
)

// fakeChatModel 按顺序返回预设的回复，并记录每次收到的输入。
type fakeChatModel struct {
	mu      sync.Mutex
	replies []*schema.Message
	err     error
	inputs  [][]*schema.Message
	tools   []*schema.ToolInfo
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	out := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return out, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
	return f, nil
}

type echoTool struct {
	calls int
}

func (e *echoTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "echo",
		Desc: "Echo the query back.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"q": {Type: schema.String, Required: true},
		}),
	}, nil
}

func (e *echoTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	e.calls++
	return "echo:" + argumentsInJSON, nil
}

func newGateway(t *testing.T, cm *fakeChatModel) *ChatGateway {
	t.Helper()
	g, err := NewChatGateway(cm, Options{})
	require.NoError(t, err)
	return g
}

func TestComplete(t *testing.T) {
	cm := &fakeChatModel{replies: []*schema.Message{schema.AssistantMessage("hello", nil)}}
	g := newGateway(t, cm)

	out, err := g.Complete(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestComplete_Errors(t *testing.T) {
	g := newGateway(t, &fakeChatModel{err: errors.New("boom")})
	_, err := g.Complete(context.Background(), nil)
	assert.ErrorContains(t, err, "boom")

	g = newGateway(t, &fakeChatModel{replies: []*schema.Message{schema.AssistantMessage("  ", nil)}})
	_, err = g.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCompleteStructured_ToolCall(t *testing.T) {
	reply := schema.AssistantMessage("", []schema.ToolCall{{
		ID:   "call-1",
		Type: "function",
		Function: schema.FunctionCall{
			Name:      decisionToolName,
			Arguments: `{"next_node":"rag_agent"}`,
		},
	}})
	cm := &fakeChatModel{replies: []*schema.Message{reply}}
	g := newGateway(t, cm)

	choices := []string{"SUMMARY_AGENT", "RAG_AGENT"}
	out, err := g.CompleteStructured(context.Background(), []*schema.Message{schema.UserMessage("q")}, choices)
	require.NoError(t, err)
	assert.Equal(t, "RAG_AGENT", out)

	require.Len(t, cm.tools, 1)
	assert.Equal(t, decisionToolName, cm.tools[0].Name)
}

func TestParseDecision(t *testing.T) {
	choices := []string{"GENERAL_AGENT", "SEARCH_AGENT"}

	cases := []struct {
		name    string
		msg     *schema.Message
		want    string
		wantErr bool
	}{
		{name: "json content", msg: schema.AssistantMessage(`{"next_node":"SEARCH_AGENT"}`, nil), want: "SEARCH_AGENT"},
		{name: "plain content", msg: schema.AssistantMessage("general_agent.", nil), want: "GENERAL_AGENT"},
		{name: "out of enum", msg: schema.AssistantMessage("RAG_AGENT", nil), wantErr: true},
		{name: "free text", msg: schema.AssistantMessage("I think the search agent fits", nil), wantErr: true},
		{name: "empty", msg: schema.AssistantMessage("", nil), wantErr: true},
		{name: "nil", msg: nil, wantErr: true},
		{name: "bad tool args", msg: schema.AssistantMessage("", []schema.ToolCall{{
			Function: schema.FunctionCall{Name: decisionToolName, Arguments: "{"},
		}}), wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDecision(tc.msg, choices)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoDecision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRunAgentic_NoToolsFallsBackToComplete(t *testing.T) {
	cm := &fakeChatModel{replies: []*schema.Message{schema.AssistantMessage("plain", nil)}}
	g := newGateway(t, cm)

	out, err := g.RunAgentic(context.Background(), "be helpful", []*schema.Message{schema.UserMessage("q")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	require.Len(t, cm.inputs, 1)
	require.Len(t, cm.inputs[0], 2)
	assert.Equal(t, schema.System, cm.inputs[0][0].Role)
	assert.Equal(t, "be helpful", cm.inputs[0][0].Content)
}

func TestRunAgentic_CallsTools(t *testing.T) {
	call := schema.AssistantMessage("", []schema.ToolCall{{
		ID:   "call-1",
		Type: "function",
		Function: schema.FunctionCall{
			Name:      "echo",
			Arguments: `{"q":"attention"}`,
		},
	}})
	cm := &fakeChatModel{replies: []*schema.Message{call, schema.AssistantMessage("final answer", nil)}}
	g := newGateway(t, cm)
	echo := &echoTool{}

	out, err := g.RunAgentic(context.Background(), "sys", []*schema.Message{schema.UserMessage("find papers")}, []tool.BaseTool{echo})
	require.NoError(t, err)
	assert.Equal(t, "final answer", out)
	assert.Equal(t, 1, echo.calls)

	// 第二次调用模型时应带上工具输出，并且 system prompt 始终在最前面
	require.Len(t, cm.inputs, 2)
	second := cm.inputs[1]
	assert.Equal(t, schema.System, second[0].Role)
	var sawTool bool
	for _, m := range second {
		if m.Role == schema.Tool && strings.HasPrefix(m.Content, "echo:") {
			sawTool = true
		}
	}
	assert.True(t, sawTool)
}

func TestSanitizeToolCalls(t *testing.T) {
	orig := schema.AssistantMessage("", []schema.ToolCall{
		{Function: schema.FunctionCall{Name: "a", Arguments: ""}},
		{Function: schema.FunctionCall{Name: "b", Arguments: `{"x":1}`}},
	})
	in := []*schema.Message{schema.UserMessage("q"), orig}

	out := sanitizeToolCalls(in)
	assert.Equal(t, "{}", out[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, `{"x":1}`, out[1].ToolCalls[1].Function.Arguments)
	// 入参保持不变
	assert.Equal(t, "", orig.ToolCalls[0].Function.Arguments)
}

func TestWithSystemPrompt_ReplacesExisting(t *testing.T) {
	msgs := []*schema.Message{schema.SystemMessage("old"), schema.UserMessage("q")}
	out := withSystemPrompt("new", msgs)
	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].Content)
	assert.Equal(t, "old", msgs[0].Content)
}

// TestRealArkGateway 使用真实的 Ark 模型，未设置 ARK_API_KEY / ARK_MODEL_ID 时跳过。
func TestRealArkGateway(t *testing.T) {
	apiKey := strings.TrimSpace(os.Getenv("ARK_API_KEY"))
	modelID := strings.TrimSpace(os.Getenv("ARK_MODEL_ID"))
	if apiKey == "" || modelID == "" {
		t.Skip("ARK_API_KEY 或 ARK_MODEL_ID 未设置，跳过真实模型测试")
	}

	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Ark.APIKey = apiKey
	cfg.Ark.ModelID = modelID
	if base := os.Getenv("ARK_BASE_URL"); base != "" {
		cfg.Ark.BaseURL = base
	}

	g, err := NewFromConfig(ctx, &cfg)
	require.NoError(t, err)

	out, err := g.CompleteStructured(ctx, []*schema.Message{
		schema.SystemMessage("Pick the agent for the user's message."),
		schema.UserMessage("What's the weather today?"),
	}, []string{"GENERAL_AGENT", "SEARCH_AGENT", "SUMMARY_AGENT", "RAG_AGENT"})
	require.NoError(t, err)
	t.Logf("decision: %s", out)
}
