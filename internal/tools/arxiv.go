package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/PaperFast/internal/config"
	"golang.org/x/time/rate"
)

const maxArxivResults = 20

// ArxivTool 调用 arXiv 查询接口搜索论文；arXiv 要求客户端限速，所有调用共享一个 limiter。
type ArxivTool struct {
	endpoint   string
	maxResults int
	client     *http.Client
	limiter    *rate.Limiter
}

func NewArxivTool(cfg config.ArxivConfig, client *http.Client) *ArxivTool {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	if cfg.RateInterval > 0 {
		limit = rate.Every(cfg.RateInterval)
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &ArxivTool{
		endpoint:   cfg.Endpoint,
		maxResults: maxResults,
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (t *ArxivTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_papers",
		Desc: "Search arXiv for academic papers. Returns title, authors, publication date, abstract and links for each paper.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Search keywords, e.g. 'retrieval augmented generation'",
				Type:     schema.String,
				Required: true,
			},
			"max_results": {
				Desc:     "Maximum number of papers to return",
				Type:     schema.Integer,
				Required: false,
			},
			"sort_by": {
				Desc:     "Sort order of the results",
				Type:     schema.String,
				Enum:     []string{"relevance", "lastUpdatedDate", "submittedDate"},
				Required: false,
			},
		}),
	}, nil
}

type arxivArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	SortBy     string `json:"sort_by"`
}

type Paper struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Published string   `json:"published"`
	Summary   string   `json:"summary"`
	URL       string   `json:"url"`
	PDFURL    string   `json:"pdf_url,omitempty"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
}

func (t *ArxivTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args arxivArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if args.MaxResults <= 0 {
		args.MaxResults = t.maxResults
	}
	args.MaxResults = min(args.MaxResults, maxArxivResults)
	if args.SortBy == "" {
		args.SortBy = "relevance"
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("arxiv rate limit: %w", err)
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid arxiv endpoint: %w", err)
	}
	q := u.Query()
	q.Set("search_query", "all:"+args.Query)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(args.MaxResults))
	q.Set("sortBy", args.SortBy)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("arxiv request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("arxiv http %d: %s", resp.StatusCode, string(bs))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return "", fmt.Errorf("decode arxiv feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		papers = append(papers, toPaper(e))
	}
	data, err := json.Marshal(map[string]any{"query": args.Query, "papers": papers})
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

func toPaper(e atomEntry) Paper {
	p := Paper{
		ID:        strings.TrimSpace(e.ID),
		Title:     collapse(e.Title),
		Summary:   collapse(e.Summary),
		Published: strings.TrimSpace(e.Published),
		URL:       strings.TrimSpace(e.ID),
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	for _, l := range e.Links {
		switch {
		case l.Title == "pdf":
			p.PDFURL = l.Href
		case l.Rel == "alternate":
			p.URL = l.Href
		}
	}
	return p
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
