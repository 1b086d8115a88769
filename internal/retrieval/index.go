package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/wwwzy/PaperFast/internal/storage"
	"goa.design/clue/log"
)

const embedBatchSize = 64

var (
	// ErrNoEmbedder 表示没有配置 embedding 服务，无法写入索引。
	ErrNoEmbedder = errors.New("embedding is not configured")
	// ErrSourceNotFound 表示索引中没有该源文档。
	ErrSourceNotFound = errors.New("source not found in index")
)

// Chunk 是一次检索返回的片段。
type Chunk struct {
	Content string
	Source  string
	Locator string
	Score   float64
}

// Retriever 是核心读取文档索引的唯一入口，实现必须可以被并发调用。
type Retriever interface {
	// SimilaritySearch 返回与 query 最相似的至多 k 个片段；sources 非空时只在这些文档中检索。
	SimilaritySearch(ctx context.Context, query string, k int, sources []string) ([]Chunk, error)
	// FullDocument 按顺序返回某个文档的片段，总长度不超过 maxChars（<=0 表示不限制）。
	FullDocument(ctx context.Context, source string, maxChars int) ([]Chunk, error)
}

// Index 是基于 sqlite 存储的向量索引：片段与 embedding 存在 document_chunks 表中，检索时做暴力余弦相似度。
//
// 查询之间共享读锁；写入（add/delete/rename/rebuild）持有写锁，所以一次查询看到的总是某个一致的快照。
type Index struct {
	mu       sync.RWMutex
	store    *storage.Storage
	embedder embedding.Embedder
	splitter Splitter
}

var _ Retriever = (*Index)(nil)

// NewIndex 创建索引；embedder 可以为 nil，此时检索总是返回空结果。
func NewIndex(store *storage.Storage, embedder embedding.Embedder, splitter Splitter) *Index {
	return &Index{store: store, embedder: embedder, splitter: splitter}
}

func (x *Index) SimilaritySearch(ctx context.Context, query string, k int, sources []string) ([]Chunk, error) {
	if x == nil || x.embedder == nil || x.store == nil {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.store.QueryChunks(ctx, storage.ChunkQuery{Sources: sources, WithEmbedding: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	vecs, err := x.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	qv := vecs[0]

	type scored struct {
		row   *storage.DocumentChunk
		score float64
	}
	ranked := make([]scored, 0, len(rows))
	for i := range rows {
		if len(rows[i].Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{row: &rows[i], score: cosine(qv, rows[i].Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].row.ID < ranked[j].row.ID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]Chunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, Chunk{
			Content: r.row.Content,
			Source:  r.row.Source,
			Locator: r.row.Locator,
			Score:   r.score,
		})
	}
	return out, nil
}

func (x *Index) FullDocument(ctx context.Context, source string, maxChars int) ([]Chunk, error) {
	if x == nil || x.store == nil {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.store.QueryChunks(ctx, storage.ChunkQuery{Sources: []string{source}})
	if err != nil {
		return nil, err
	}

	var (
		out  []Chunk
		used int
	)
	for _, r := range rows {
		content := r.Content
		n := utf8.RuneCountInString(content)
		if maxChars > 0 && used+n > maxChars {
			if len(out) > 0 {
				break
			}
			// 第一个片段就超出预算时截断，而不是整段放入
			content = string([]rune(content)[:maxChars])
			n = maxChars
		}
		out = append(out, Chunk{Content: content, Source: r.Source, Locator: r.Locator})
		used += n
	}
	return out, nil
}

// AddDocument 读取、切分并向量化一个文件，替换索引中同名文档的旧片段，返回写入的片段数。
func (x *Index) AddDocument(ctx context.Context, path string) (int, error) {
	if x.embedder == nil {
		return 0, ErrNoEmbedder
	}

	pages, err := LoadDocument(path)
	if err != nil {
		return 0, err
	}

	source := filepath.Base(path)
	var chunks []storage.DocumentChunk
	for _, p := range pages {
		for _, text := range x.splitter.Split(p.Text) {
			chunks = append(chunks, storage.DocumentChunk{
				Source:  source,
				Path:    path,
				Locator: p.Locator,
				Seq:     len(chunks),
				Content: text,
			})
		}
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text extracted from %s", path)
	}

	// 向量化在锁外进行，只有写库时才持有写锁
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := x.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", source, err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("embed %s: expected %d vectors, got %d", source, len(texts), len(vecs))
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.store.ReplaceSourceChunks(ctx, source, chunks); err != nil {
		return 0, err
	}

	log.Info(ctx, log.KV{K: "msg", V: "document indexed"}, log.KV{K: "source", V: source}, log.KV{K: "chunks", V: len(chunks)})
	return len(chunks), nil
}

// DeleteDocument 删除某个源文档的所有片段。
func (x *Index) DeleteDocument(ctx context.Context, source string) (int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n, err := x.store.DeleteChunksBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	return n, nil
}

// RenameDocument 删除旧文档的片段并从 newPath 重新建立索引。
func (x *Index) RenameDocument(ctx context.Context, oldSource, newPath string) (int, error) {
	if _, err := x.DeleteDocument(ctx, oldSource); err != nil {
		return 0, err
	}
	return x.AddDocument(ctx, newPath)
}

// Rebuild 清空索引并重新加入 dir 下所有支持的文件，单个文件失败只记录日志。
func (x *Index) Rebuild(ctx context.Context, dir string) (int, error) {
	if x.embedder == nil {
		return 0, ErrNoEmbedder
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read docs dir: %w", err)
	}

	x.mu.Lock()
	_, err = x.store.DeleteAllChunks(ctx)
	x.mu.Unlock()
	if err != nil {
		return 0, err
	}

	added := 0
	for _, e := range entries {
		if e.IsDir() || !SupportedFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := x.AddDocument(ctx, path); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "index document failed"}, log.KV{K: "path", V: path})
			continue
		}
		added++
	}
	return added, nil
}

// Sources 返回索引中的源文档列表。
func (x *Index) Sources(ctx context.Context) ([]storage.SourceInfo, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.store.ListSources(ctx)
}

func cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
