package agent

import (
	"context"
	"errors"

	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/retrieval"
	"goa.design/clue/log"
)

// chunkHeaderReserve 是 FormatContext 为每个片段生成的标题大致占用的字符数。
const chunkHeaderReserve = 80

// summary 总结选中的文档；没有选中文档时按查询检索 summary_top_k 个片段。
type summary struct {
	retriever retrieval.Retriever
	opts      config.RetrievalConfig
}

func (s *summary) RetrieveContext(ctx context.Context, state ConversationState, query string) (string, error) {
	if s.retriever == nil {
		return "", nil
	}
	if len(state.Sources) == 0 {
		chunks, err := s.retriever.SimilaritySearch(ctx, query, s.opts.SummaryTopK, nil)
		if err != nil {
			return "", err
		}
		return retrieval.FormatContext(chunks, s.opts.MaxContextChars), nil
	}

	// 每个文档分到相同的字符预算，并为片段标题留出余量
	share := 0
	if s.opts.MaxContextChars > 0 {
		share = max((s.opts.MaxContextChars-len(state.Sources)*chunkHeaderReserve)/len(state.Sources), 1)
	}
	var chunks []retrieval.Chunk
	for _, src := range state.Sources {
		cs, err := s.retriever.FullDocument(ctx, src, share)
		if errors.Is(err, retrieval.ErrSourceNotFound) {
			log.Warn(ctx, log.KV{K: "msg", V: "selected document not indexed"}, log.KV{K: "source", V: src})
			continue
		}
		if err != nil {
			return "", err
		}
		chunks = append(chunks, cs...)
	}
	return retrieval.FormatContext(chunks, s.opts.MaxContextChars), nil
}

func (s *summary) CreatePrompt(in PromptInput) string {
	var b promptBuilder
	if in.Context == "" {
		b.add("No document content is available. Summarize what you can from the conversation and say that no document content was found.")
		b.add("User Query: " + in.Query)
	} else {
		b.add("Please summarize the following content explicitly and comprehensively.")
		b.add("User Query: " + in.Query)
		b.section("Content", in.Context)
	}
	return withLocale(b.String(), in.Query)
}
