package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/llm/llmtest"
	"github.com/wwwzy/PaperFast/internal/retrieval"
	"github.com/wwwzy/PaperFast/internal/storage"
	"github.com/wwwzy/PaperFast/internal/trace"
)

// letterEmbedder 以字母频率作为向量。
type letterEmbedder struct{}

func (letterEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, 27)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		v[26] = 0.01
		out[i] = v
	}
	return out, nil
}

// routingGateway 模拟模型的路由行为：按关键词在允许的候选中选择。
func routingGateway() *llmtest.Gateway {
	return &llmtest.Gateway{
		StructuredFunc: func(_ context.Context, msgs []*schema.Message, choices []string) (string, error) {
			var query string
			// 最后一条是路由指令，倒数第二条是用户问题
			if len(msgs) >= 2 {
				query = strings.ToLower(msgs[len(msgs)-2].Content)
			}
			pick := func(want agent.AgentType, fallback string) string {
				if slices.Contains(choices, string(want)) {
					return string(want)
				}
				return fallback
			}
			switch {
			case strings.Contains(query, "summarize"):
				return pick(agent.SummaryAgent, choices[0]), nil
			case strings.Contains(query, "find papers"):
				return pick(agent.SearchAgent, choices[0]), nil
			default:
				return pick(agent.GeneralAgent, choices[len(choices)-1]), nil
			}
		},
		CompleteFunc: func(_ context.Context, msgs []*schema.Message) (string, error) {
			return "response to: " + llmtest.LastUserContent(msgs), nil
		},
	}
}

func newTestIndex(t *testing.T) *retrieval.Index {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "wf.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx := retrieval.NewIndex(store, letterEmbedder{}, retrieval.Splitter{Size: 200, Overlap: 20})
	path := filepath.Join(t.TempDir(), "attention.txt")
	require.NoError(t, os.WriteFile(path, []byte("The Transformer relies entirely on self attention to compute representations of its input and output."), 0o644))
	_, err = idx.AddDocument(ctx, path)
	require.NoError(t, err)
	return idx
}

func newWorkflow(t *testing.T, gw *llmtest.Gateway, r retrieval.Retriever) *Workflow {
	t.Helper()
	wf, err := New(context.Background(), agent.Deps{
		Gateway:   gw,
		Retriever: r,
		Retrieval: config.DefaultConfig().Retrieval,
	})
	require.NoError(t, err)
	return wf
}

func TestInvoke_SummarizePaperInRAGMode(t *testing.T) {
	gw := routingGateway()
	wf := newWorkflow(t, gw, newTestIndex(t))

	out, err := wf.Invoke(context.Background(), Request{
		Messages:   []agent.Message{{Role: agent.RoleUser, Content: "Summarize this paper"}},
		RAGEnabled: true,
	})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)

	last := out.Messages[1]
	assert.Contains(t, []string{string(agent.SummaryAgent), string(agent.RAGAgent)}, last.Role)
	assert.NotEmpty(t, last.Content)
	assert.Equal(t, agent.AgentType(last.Role), out.PrevNode)
	assert.Equal(t, out.PrevNode, out.NextNode)

	// RAG 模式只允许文档相关的两个 Agent
	call, ok := gw.Last("CompleteStructured")
	require.True(t, ok)
	assert.Equal(t, []string{string(agent.SummaryAgent), string(agent.RAGAgent)}, call.Choices)

	// 检索到的文档内容进入了提示词
	assert.Contains(t, last.Content, "Original PDF name: attention.txt")
}

func TestInvoke_WeatherRoutesToGeneral(t *testing.T) {
	wf := newWorkflow(t, routingGateway(), nil)

	out, err := wf.Invoke(context.Background(), Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "What's the weather today?"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, string(agent.GeneralAgent), out.Messages[1].Role)
	assert.Equal(t, agent.GeneralAgent, out.NextNode)
}

func TestInvoke_SearchRoute(t *testing.T) {
	wf := newWorkflow(t, routingGateway(), nil)

	out, err := wf.Invoke(context.Background(), Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "Find papers about retrieval augmented generation"}},
	})
	require.NoError(t, err)
	assert.Equal(t, string(agent.SearchAgent), out.Messages[len(out.Messages)-1].Role)
}

func TestInvoke_RouterFailureFallsBackToGeneral(t *testing.T) {
	gw := &llmtest.Gateway{StructuredFunc: func(context.Context, []*schema.Message, []string) (string, error) {
		return "", errors.New("503 service unavailable")
	}}
	wf := newWorkflow(t, gw, nil)

	out, err := wf.Invoke(context.Background(), Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, string(agent.GeneralAgent), out.Messages[1].Role)
}

func TestInvoke_GenerationFailureStillCompletes(t *testing.T) {
	gw := routingGateway()
	gw.CompleteFunc = func(context.Context, []*schema.Message) (string, error) {
		return "", errors.New("connection refused")
	}
	wf := newWorkflow(t, gw, nil)

	out, err := wf.Invoke(context.Background(), Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "What's the weather today?"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, agent.ApologyMessage, out.Messages[1].Content)
}

func TestInvoke_OneMessagePerRun(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("each run appends exactly one specialized-agent message", prop.ForAll(
		func(decision string, history []string) bool {
			gw := &llmtest.Gateway{StructuredFunc: func(context.Context, []*schema.Message, []string) (string, error) {
				return decision, nil
			}}
			wf, err := New(context.Background(), agent.Deps{Gateway: gw, Retrieval: config.DefaultConfig().Retrieval})
			if err != nil {
				return false
			}

			msgs := make([]agent.Message, 0, len(history)+4)
			for _, h := range history {
				msgs = append(msgs, agent.Message{Role: agent.RoleUser, Content: h})
			}
			req := Request{Messages: msgs}
			out, err := wf.Invoke(context.Background(), req)
			if err != nil || len(out.Messages) != len(msgs)+1 || len(req.Messages) != len(history) {
				return false
			}
			role := agent.AgentType(out.Messages[len(out.Messages)-1].Role)
			return role.IsSpecialized() && role == out.PrevNode
		},
		gen.OneGenOf(gen.AlphaString(), gen.OneConstOf("SEARCH_AGENT", "SUMMARY_AGENT", "RAG_AGENT", "MASTER_AGENT")),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestStream_Events(t *testing.T) {
	wf := newWorkflow(t, routingGateway(), nil)

	s := wf.Stream(context.Background(), Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "What's the weather today?"}},
	})

	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	out, err := s.Result()
	require.NoError(t, err)
	assert.Len(t, out.Messages, 2)

	// 再次获取结果得到相同的值
	again, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, out, again)

	require.NotEmpty(t, events)
	assert.Equal(t, Event{Kind: trace.EventNodeStart, Node: string(agent.MasterAgent)}, events[0])
	assert.Equal(t, trace.EventNodeEnd, events[len(events)-1].Kind)
	assert.Equal(t, string(agent.GeneralAgent), events[len(events)-1].Node)

	var nodeEnds []Event
	stages := 0
	for _, ev := range events {
		switch ev.Kind {
		case trace.EventNodeEnd:
			nodeEnds = append(nodeEnds, ev)
		case trace.EventStage:
			stages++
		}
	}
	require.Len(t, nodeEnds, 2)
	assert.Equal(t, string(agent.GeneralAgent), nodeEnds[0].Detail)
	assert.Equal(t, 8, stages)
}

func TestStream_Canceled(t *testing.T) {
	gw := routingGateway()
	gw.CompleteFunc = func(ctx context.Context, _ []*schema.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	wf := newWorkflow(t, gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := wf.Stream(ctx, Request{Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}}})
	for ev := range s.Events() {
		if ev.Kind == trace.EventStage && ev.Stage == agent.StageGenerateResponse && ev.Node == string(agent.GeneralAgent) {
			cancel()
		}
	}
	_, err := s.Result()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventStream_ResultWithoutReading(t *testing.T) {
	s := newEventStream()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < streamBuffer+36; i++ {
			s.push(Event{Kind: trace.EventStage, Node: string(agent.GeneralAgent), Stage: agent.StagePrepareMessages})
		}
		s.end(agent.ConversationState{}, nil)
	}()

	// 没有人读取事件时运行也能结束
	_, err := s.Result()
	require.NoError(t, err)
	<-done
	assert.EqualValues(t, 36, s.Dropped())

	n := 0
	for range s.Events() {
		n++
	}
	assert.Equal(t, streamBuffer, n)
}

func TestStream_ResultOnly(t *testing.T) {
	wf := newWorkflow(t, routingGateway(), nil)

	s := wf.Stream(context.Background(), Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "What's the weather today?"}},
	})
	out, err := s.Result()
	require.NoError(t, err)
	assert.Len(t, out.Messages, 2)
	assert.Zero(t, s.Dropped())
}
