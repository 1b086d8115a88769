package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const defaultWebResults = 5

// WebSearchTool 通过 DuckDuckGo Instant Answer API 搜索网页。
type WebSearchTool struct {
	endpoint string
	client   *http.Client
}

func NewWebSearchTool(endpoint string, client *http.Client) *WebSearchTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebSearchTool{endpoint: endpoint, client: client}
}

func (t *WebSearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for general knowledge, definitions and recent facts. Returns short abstracts with source URLs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Search keywords",
				Type:     schema.String,
				Required: true,
			},
			"max_results": {
				Desc:     "Maximum number of results (default 5)",
				Type:     schema.Integer,
				Required: false,
			},
		}),
	}, nil
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type WebResult struct {
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	Definition    string     `json:"Definition"`
	DefinitionURL string     `json:"DefinitionURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func (t *WebSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args webSearchArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if args.MaxResults <= 0 {
		args.MaxResults = defaultWebResults
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid web search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", args.Query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("web search http %d: %s", resp.StatusCode, string(bs))
	}

	var body ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode web search response: %w", err)
	}

	results := collectWebResults(body, args.MaxResults)
	data, err := json.Marshal(map[string]any{"query": args.Query, "results": results})
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

func collectWebResults(body ddgResponse, limit int) []WebResult {
	out := make([]WebResult, 0, limit)
	add := func(r WebResult) {
		if len(out) < limit && strings.TrimSpace(r.Snippet) != "" {
			out = append(out, r)
		}
	}
	if body.Answer != "" {
		add(WebResult{Title: "Answer", Snippet: body.Answer})
	}
	if body.AbstractText != "" {
		add(WebResult{Title: body.Heading, Snippet: body.AbstractText, URL: body.AbstractURL})
	}
	if body.Definition != "" {
		add(WebResult{Title: "Definition", Snippet: body.Definition, URL: body.DefinitionURL})
	}

	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, tp := range topics {
			if len(tp.Topics) > 0 {
				walk(tp.Topics)
				continue
			}
			add(WebResult{Snippet: tp.Text, URL: tp.FirstURL})
		}
	}
	walk(body.RelatedTopics)
	return out
}
