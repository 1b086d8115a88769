package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/storage"
	"github.com/wwwzy/PaperFast/internal/trace"
)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models ...  </summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
</feed>`

func TestArxivTool(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		assert.Equal(t, "3", r.URL.Query().Get("max_results"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = io.WriteString(w, arxivFeed)
	}))
	defer srv.Close()

	at := NewArxivTool(config.ArxivConfig{Endpoint: srv.URL, MaxResults: 3}, srv.Client())
	info, err := at.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "search_papers", info.Name)

	out, err := at.InvokableRun(context.Background(), `{"query":"transformer"}`)
	require.NoError(t, err)
	assert.Equal(t, "all:transformer", gotQuery)

	var body struct {
		Papers []Paper `json:"papers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Papers, 1)
	p := body.Papers[0]
	assert.Equal(t, "Attention Is All You Need", p.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, p.Authors)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", p.PDFURL)
	assert.Equal(t, "The dominant sequence transduction models ...", p.Summary)

	_, err = at.InvokableRun(context.Background(), `{"query":" "}`)
	assert.Error(t, err)
}

func TestArxivTool_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, arxivFeed)
	}))
	defer srv.Close()

	at := NewArxivTool(config.ArxivConfig{Endpoint: srv.URL, RateInterval: time.Hour}, srv.Client())
	_, err := at.InvokableRun(context.Background(), `{"query":"a"}`)
	require.NoError(t, err)

	// 第二次调用需要等待一个小时，ctx 先超时
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = at.InvokableRun(ctx, `{"query":"b"}`)
	assert.ErrorContains(t, err, "rate limit")
}

func TestWebSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_ = json.NewEncoder(w).Encode(ddgResponse{
			Heading:      "Transformer",
			AbstractText: "A transformer is a deep learning architecture.",
			AbstractURL:  "https://en.wikipedia.org/wiki/Transformer",
			RelatedTopics: []ddgTopic{
				{Text: "BERT", FirstURL: "https://example.com/bert"},
				{Name: "Group", Topics: []ddgTopic{{Text: "GPT", FirstURL: "https://example.com/gpt"}}},
				{Text: "T5", FirstURL: "https://example.com/t5"},
			},
		})
	}))
	defer srv.Close()

	wt := NewWebSearchTool(srv.URL, srv.Client())
	out, err := wt.InvokableRun(context.Background(), `{"query":"transformer","max_results":3}`)
	require.NoError(t, err)

	var body struct {
		Results []WebResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Results, 3)
	assert.Equal(t, "Transformer", body.Results[0].Title)
	assert.Equal(t, "GPT", body.Results[2].Snippet)

	_, err = wt.InvokableRun(context.Background(), `not json`)
	assert.Error(t, err)
}

func TestWebSearchTool_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebSearchTool(srv.URL, srv.Client()).InvokableRun(context.Background(), `{"query":"x"}`)
	assert.ErrorContains(t, err, "502")
}

func TestRemoteProvider(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Manifest{
			Endpoint: srvURL + "/invoke",
			Tools: []ManifestTool{{
				Name:        "code_context",
				Description: "Look up code snippets",
				Parameters: map[string]ManifestParam{
					"symbol": {Type: "string", Description: "symbol name", Required: true},
				},
			}},
		})
	})
	mux.HandleFunc("/invoke/code_context", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Arguments struct {
				Symbol string `json:"symbol"`
			} `json:"arguments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Arguments.Symbol == "" {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "symbol is required"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "func " + req.Arguments.Symbol + "()"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	p := NewRemoteProvider("code", srv.URL+"/manifest", srv.Client())
	ts, err := p.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, ts, 1)

	info, err := ts[0].Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "code_context", info.Name)

	it := ts[0].(tool.InvokableTool)
	out, err := it.InvokableRun(context.Background(), `{"symbol":"Run"}`)
	require.NoError(t, err)
	assert.Equal(t, "func Run()", out)

	_, err = it.InvokableRun(context.Background(), `{}`)
	assert.ErrorContains(t, err, "symbol is required")
}

func TestRemoteProvider_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewRemoteProvider("code", srv.URL+"/manifest", srv.Client()).Tools(context.Background())
	assert.ErrorContains(t, err, "404")
}

type failingProvider struct{ name string }

func (p failingProvider) Name() string { return p.name }
func (p failingProvider) Tools(context.Context) ([]tool.BaseTool, error) {
	return nil, errors.New("connection refused")
}

type stubTool struct {
	name string
	err  error
}

func (s *stubTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: s.name}, nil
}

func (s *stubTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "ok:" + args, nil
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	ts, err := Discover(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ts)

	// 部分失败：继续使用可用的工具
	ts, err = Discover(ctx, []Provider{failingProvider{"remote"}, NewStaticProvider("s", &stubTool{name: "a"})})
	require.NoError(t, err)
	assert.Len(t, ts, 1)

	// 全部失败
	_, err = Discover(ctx, []Provider{failingProvider{"a"}, failingProvider{"b"}})
	assert.ErrorIs(t, err, ErrNoTools)
	assert.ErrorContains(t, err, "connection refused")
}

func TestAuditedTool(t *testing.T) {
	store, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var (
		mu     sync.Mutex
		events []trace.Event
	)
	ctx := trace.WithTraceID(context.Background(), "trace-42")
	ctx = trace.WithAgent(ctx, "SEARCH_AGENT")
	ctx = trace.WithEmitter(ctx, func(ev trace.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	p := WithAudit(NewStaticProvider("s", &stubTool{name: "search_papers"}, &stubTool{name: "broken", err: errors.New("boom")}), store)
	ts, err := p.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 2)

	out, err := ts[0].(tool.InvokableTool).InvokableRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "ok:{}", out)

	_, err = ts[1].(tool.InvokableTool).InvokableRun(ctx, `{"q":1}`)
	assert.ErrorContains(t, err, "boom")

	recs, err := store.QueryAuditRecords(ctx, storage.AuditQuery{TraceID: "trace-42"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "search_papers", recs[0].Action)
	assert.Equal(t, "SEARCH_AGENT", recs[0].Agent)
	assert.Equal(t, "success", recs[0].Status)
	assert.Equal(t, "failed", recs[1].Status)
	assert.Equal(t, "boom", recs[1].ErrorMessage)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 4)
	assert.Equal(t, trace.EventTool, events[0].Kind)
	assert.Equal(t, "SEARCH_AGENT", events[0].Node)
	assert.Equal(t, "running", events[0].Detail)
	assert.Equal(t, "failed", events[3].Detail)
}

func TestBuildProviders(t *testing.T) {
	cfg := config.DefaultConfig().Tools
	cfg.Remote = []config.RemoteToolsConfig{{Name: "code", ManifestURL: "http://localhost:1/manifest"}}

	sets := BuildProviders(cfg, nil)
	require.Len(t, sets.General, 2)
	require.Len(t, sets.Search, 1)
	assert.Equal(t, "web_search", sets.General[0].Name())
	assert.Equal(t, "code", sets.General[1].Name())
	assert.Equal(t, "arxiv", sets.Search[0].Name())

	cfg.WebSearch.Enabled = false
	cfg.Arxiv.Enabled = false
	cfg.Remote = nil
	sets = BuildProviders(cfg, nil)
	assert.Empty(t, sets.General)
	assert.Empty(t, sets.Search)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab...(truncated)", truncate("abcdef", 2))
	// 不会切断多字节字符
	assert.Equal(t, "요...(truncated)", truncate("요약", 4))
}
