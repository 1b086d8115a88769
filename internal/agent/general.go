package agent

import (
	"context"

	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/retrieval"
)

// general 处理其余所有问题，可以调用网页搜索与远程工具；有文档索引时附带检索结果作为备用上下文。
type general struct {
	agentic
	retriever retrieval.Retriever
	opts      config.RetrievalConfig
}

func (g *general) RetrieveContext(ctx context.Context, state ConversationState, query string) (string, error) {
	if g.retriever == nil {
		return "", nil
	}
	chunks, err := g.retriever.SimilaritySearch(ctx, query, g.opts.TopK, state.Sources)
	if err != nil {
		return "", err
	}
	return retrieval.FormatContext(chunks, g.opts.MaxContextChars), nil
}

func (g *general) CreatePrompt(in PromptInput) string {
	var b promptBuilder
	b.add("Make your answer as explainable as possible when you answer the user query.")
	b.add("User Query: " + in.Query)
	b.section("If it helps, you may also use the following content from the user's documents", in.Context)
	return withLocale(b.String(), in.Query)
}
