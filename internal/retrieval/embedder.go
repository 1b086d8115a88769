package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	openai "github.com/sashabaranov/go-openai"
	"github.com/wwwzy/PaperFast/internal/config"
)

// EmbeddingClient 为 go-openai 客户端中本包用到的部分。
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder 通过 OpenAI 兼容的 embeddings 接口实现 eino 的 embedding.Embedder。
type OpenAIEmbedder struct {
	client EmbeddingClient
	model  string
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(client EmbeddingClient, model string) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("embedding client is required")
	}
	if model == "" {
		return nil, errors.New("embedding model is required")
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

// NewEmbedderFromConfig 在未配置 api key 时返回 (nil, nil)，此时检索功能关闭。
func NewEmbedderFromConfig(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return NewOpenAIEmbedder(openai.NewClientWithConfig(oc), cfg.Model)
}

func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		v := make([]float64, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float64(f)
		}
		out[d.Index] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}
