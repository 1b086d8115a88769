package agent

import (
	"strings"
	"unicode"
)

// 各 Agent 的系统提示词。
const (
	MasterSystemPrompt  = "You are a helpful assistant."
	GeneralSystemPrompt = "You are a helpful assistant."
	SearchSystemPrompt  = "You are a helpful research paper search agent. Use the paper search tool to find relevant papers and list each one with its title, authors, publication date, a short summary and a link."
	SummarySystemPrompt = "You are a helpful assistant that summarizes research papers. Use the provided context to create a comprehensive summary."
	RAGSystemPrompt     = "You are a helpful assistant that answers questions about research papers. Use the provided context to give a detailed and accurate answer."
)

const koreanDirective = "The latest user query is written in Korean. Answer in Korean."

const routeRAGPrompt = `The user has explicitly requested to strictly use the selected documents (RAG mode).
Based on the conversation, you MUST route the query to one of the following document-aware agents:

- SUMMARY_AGENT: requests to summarize the selected PDFs as a whole or to explain their main idea.
  Examples: "Summarize this paper", "What is the main contribution of these documents?"
- RAG_AGENT: specific questions about details within the selected PDFs.
  Examples: "What dataset did they use?", "Explain the loss function in section 3."

**DO NOT** choose SEARCH_AGENT or GENERAL_AGENT. They are DISABLED in this mode.
DEFAULT to RAG_AGENT if unsure.`

const routeDefaultPrompt = `Based on the conversation, decide which agent should handle the latest user query:

- SEARCH_AGENT: ONLY explicit requests to search for or find new research papers.
  Examples: "Find recent papers about diffusion models", "Search arXiv for RAG surveys"
- SUMMARY_AGENT: requests to summarize a paper or document, or explain its main idea.
  Examples: "Summarize this paper", "Give me the gist of the attention paper"
- GENERAL_AGENT: everything else, such as weather, current events, definitions and general web searches.
  Examples: "What's the weather today?", "Who won the match yesterday?"
- RAG_AGENT: specific questions about details within indexed documents.
  Examples: "What learning rate did the authors use?"

DEFAULT to GENERAL_AGENT if unsure.`

// routePrompt 返回 Router 的指令文本，RAG 模式下只列出文档相关的两个 Agent。
func routePrompt(ragEnabled bool) string {
	if ragEnabled {
		return routeRAGPrompt
	}
	return routeDefaultPrompt
}

// routeChoices 返回当前模式下允许的路由目标。
func routeChoices(ragEnabled bool) []string {
	if ragEnabled {
		return []string{string(SummaryAgent), string(RAGAgent)}
	}
	out := make([]string, 0, 4)
	for _, t := range SpecializedAgents() {
		out = append(out, string(t))
	}
	return out
}

// ContainsHangul 判断文本中是否有韩文字符。
func ContainsHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

// withLocale 在查询为韩文时追加语言指令。
func withLocale(prompt, query string) string {
	if !ContainsHangul(query) {
		return prompt
	}
	return prompt + "\n\n" + koreanDirective
}

// promptBuilder 拼接段落，跳过空段落。
type promptBuilder struct {
	parts []string
}

func (b *promptBuilder) add(s string) *promptBuilder {
	if s = strings.TrimSpace(s); s != "" {
		b.parts = append(b.parts, s)
	}
	return b
}

func (b *promptBuilder) section(title, body string) *promptBuilder {
	if strings.TrimSpace(body) == "" {
		return b
	}
	return b.add(title + ":\n" + body)
}

func (b *promptBuilder) String() string {
	return strings.Join(b.parts, "\n\n")
}
