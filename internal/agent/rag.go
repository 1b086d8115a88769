package agent

import (
	"context"

	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/retrieval"
)

// rag 根据检索到的片段回答关于文档细节的问题。
type rag struct {
	retriever retrieval.Retriever
	opts      config.RetrievalConfig
}

func (r *rag) RetrieveContext(ctx context.Context, state ConversationState, query string) (string, error) {
	if r.retriever == nil {
		return "", nil
	}
	chunks, err := r.retriever.SimilaritySearch(ctx, query, r.opts.TopK, state.Sources)
	if err != nil {
		return "", err
	}
	return retrieval.FormatContext(chunks, r.opts.MaxContextChars), nil
}

func (r *rag) CreatePrompt(in PromptInput) string {
	var b promptBuilder
	if in.Context == "" {
		b.add("No relevant document content was found. Answer the user query as well as you can and say that the documents did not contain the answer.")
		b.add("User Query: " + in.Query)
	} else {
		b.add("Please give detailed information about the user query using the following content explicitly and comprehensively.")
		b.add("User Query: " + in.Query)
		b.section("Content", in.Context)
	}
	return withLocale(b.String(), in.Query)
}
