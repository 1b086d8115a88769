package agent

import (
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// AgentType 是 Agent 的角色标识，也是对话记录中的 role。
type AgentType string

const (
	MasterAgent  AgentType = "MASTER_AGENT"
	GeneralAgent AgentType = "GENERAL_AGENT"
	SearchAgent  AgentType = "SEARCH_AGENT"
	SummaryAgent AgentType = "SUMMARY_AGENT"
	RAGAgent     AgentType = "RAG_AGENT"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SpecializedAgents 为 Router 可以选择的全部 Agent，顺序固定。
func SpecializedAgents() []AgentType {
	return []AgentType{GeneralAgent, SearchAgent, SummaryAgent, RAGAgent}
}

// IsSpecialized 判断 t 是否为可被路由到的 Agent。
func (t AgentType) IsSpecialized() bool {
	return slices.Contains(SpecializedAgents(), t)
}

// ParseAgentType 大小写不敏感地解析角色标识，只接受可被路由的 Agent。
func ParseAgentType(s string) (AgentType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, t := range SpecializedAgents() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Message 是对话中的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationState 是一次运行中在各节点之间传递的共享状态。
type ConversationState struct {
	// 对话消息，每个 Specialized Agent 追加且只追加一条
	Messages []Message `json:"messages"`

	// 最后一次写入状态的 Agent
	PrevNode AgentType `json:"prev_node,omitempty"`
	// Router 选出的下一个 Agent，Router 运行前为空
	NextNode AgentType `json:"next_node,omitempty"`

	// 调用方传入，运行期间只读
	RAGEnabled bool     `json:"rag_enabled"`
	Sources    []string `json:"sources,omitempty"`
}

// LatestUserQuery 返回最近一条 user 消息的内容，没有时返回空字符串。
func (s ConversationState) LatestUserQuery() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Clone 返回一份不与 s 共享底层数组的拷贝。
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Messages = slices.Clone(s.Messages)
	out.Sources = slices.Clone(s.Sources)
	return out
}

// withMessage 在新的切片上追加消息，不会修改 s.Messages 的底层数组。
func (s ConversationState) withMessage(m Message) ConversationState {
	out := s.Clone()
	out.Messages = append(out.Messages, m)
	return out
}

// Response 是 generate_response 阶段的原始输出。
type Response struct {
	Text     string
	Decision AgentType
}

// Scratch 是单次 Agent.Run 内部的临时状态，运行结束后丢弃。
type Scratch struct {
	State    ConversationState
	Context  string
	Query    string
	Messages []*schema.Message
	Response Response
}
