package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/components/tool"
	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/storage"
	"goa.design/clue/log"
)

// ErrNoTools 表示所有工具提供方都初始化失败。
var ErrNoTools = errors.New("no tools available")

// Provider 是一个工具提供方，会话开始时通过 Tools 动态获取工具列表。
type Provider interface {
	Name() string
	Tools(ctx context.Context) ([]tool.BaseTool, error)
}

// Discover 合并所有提供方的工具：部分失败时记录警告并继续，全部失败时返回 ErrNoTools。
// providers 为空时返回 (nil, nil)。
func Discover(ctx context.Context, providers []Provider) ([]tool.BaseTool, error) {
	if len(providers) == 0 {
		return nil, nil
	}

	var (
		out  []tool.BaseTool
		errs []error
	)
	for _, p := range providers {
		ts, err := p.Tools(ctx)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "tool provider unavailable"}, log.KV{K: "provider", V: p.Name()}, log.KV{K: "err", V: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		out = append(out, ts...)
	}
	if len(errs) == len(providers) {
		return nil, fmt.Errorf("%w: %w", ErrNoTools, errors.Join(errs...))
	}
	return out, nil
}

type staticProvider struct {
	name  string
	tools []tool.BaseTool
}

// NewStaticProvider 返回一个总是提供固定工具的 Provider。
func NewStaticProvider(name string, tools ...tool.BaseTool) Provider {
	return &staticProvider{name: name, tools: tools}
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Tools(context.Context) ([]tool.BaseTool, error) {
	return p.tools, nil
}

// Sets 为两个工具增强型 Agent 分别准备的工具提供方。
type Sets struct {
	// General 供通用 Agent 使用：网页搜索与远程工具。
	General []Provider
	// Search 供论文检索 Agent 使用：arXiv 搜索。
	Search []Provider
}

// BuildProviders 按配置创建工具提供方；store 不为 nil 时每次工具调用都会写审计记录。
func BuildProviders(cfg config.ToolsConfig, store *storage.Storage) Sets {
	client := &http.Client{Timeout: cfg.Timeout}

	var sets Sets
	if cfg.WebSearch.Enabled {
		sets.General = append(sets.General, NewStaticProvider("web_search", NewWebSearchTool(cfg.WebSearch.Endpoint, client)))
	}
	for _, r := range cfg.Remote {
		sets.General = append(sets.General, NewRemoteProvider(r.Name, r.ManifestURL, client))
	}
	if cfg.Arxiv.Enabled {
		sets.Search = append(sets.Search, NewStaticProvider("arxiv", NewArxivTool(cfg.Arxiv, client)))
	}

	if store != nil {
		for i, p := range sets.General {
			sets.General[i] = WithAudit(p, store)
		}
		for i, p := range sets.Search {
			sets.Search[i] = WithAudit(p, store)
		}
	}
	return sets
}
