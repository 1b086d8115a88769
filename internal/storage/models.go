package storage

import "time"

// Conversation 表示一次被持久化的完整对话。
//
// 消息列表整体以 JSON 存放（[{role, content}, ...]），每轮对话结束后整体覆盖写入；
// 对话本身不做增量追加，这样读出的永远是某一轮结束时的完整快照。
type Conversation struct {
	// ID 为自增主键，同时作为对外的对话 ID。
	ID uint64 `gorm:"primaryKey"`
	// Name 为展示名称；为空时由第一条用户消息生成。
	Name string `gorm:"size:255"`
	// MessagesJSON 为消息列表的 JSON 编码。
	MessagesJSON string `gorm:"type:text;not null"`
	// MessageCount 冗余保存消息条数，列表展示时无需解码 JSON。
	MessageCount int `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	// UpdatedAt 为最后一次保存时间，列表按它倒序。
	UpdatedAt time.Time `gorm:"not null;index"`
}

// DocumentChunk 是文档索引中的一个片段。
//
// 一个源文档（Source，通常是 PDF 文件名）被切分为若干片段，每个片段带有定位信息
// （Locator，例如页码）以及 embedding 向量。检索时只读；写入只发生在 docs 管理命令中。
type DocumentChunk struct {
	ID uint64 `gorm:"primaryKey"`
	// Source 为源文档名（不含目录），与 Seq 组成联合索引。
	Source string `gorm:"size:512;not null;index:idx_document_chunks_source_seq,priority:1"`
	// Path 为入库时的原始路径，rename/rebuild 时使用。
	Path string `gorm:"size:1024"`
	// Locator 为可选的定位信息（例如 "3" 表示第 3 页）。
	Locator string `gorm:"size:64"`
	// Seq 为片段在源文档中的顺序。
	Seq int `gorm:"not null;index:idx_document_chunks_source_seq,priority:2"`
	// Content 为片段原文。
	Content string `gorm:"type:text;not null"`
	// Embedding 以 JSON 数组保存。
	Embedding []float64 `gorm:"serializer:json;type:text"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计与追溯。
//
// 一条记录对应 tool-augmented 生成过程中的一次外部工具调用（例如 web_search、search_papers），
// 通过 TraceID 与某一轮对话关联。
type AuditRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 用于串联一次对话轮次。
	TraceID string `gorm:"size:64;index"`
	// Agent 为发起调用的 Agent 角色。
	Agent string `gorm:"size:64;index"`
	// Action 为工具名。
	Action     string `gorm:"size:128;not null;index"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status 为 running/success/failed。
	Status       string    `gorm:"size:32;not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}
