package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900

	insertBatchSize = 200
)

// ErrNotFound 在按 ID 查找/更新的记录不存在时返回，可用 errors.Is 判断。
var ErrNotFound = errors.New("record not found")

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

type ConversationQuery struct {
	// Before 只返回 UpdatedAt 早于该时间的对话（可选）。
	Before *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
}

// CreateConversation 写入一条新对话，成功后 conv.ID 被回填。
func (s *Storage) CreateConversation(ctx context.Context, conv *Conversation) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if conv == nil {
		return errors.New("conversation is nil")
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

type ConversationUpdate struct {
	Name         *string
	MessagesJSON *string
	MessageCount *int
	UpdatedAt    *time.Time
}

func (s *Storage) UpdateConversation(ctx context.Context, id uint64, up ConversationUpdate) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	updates := make(map[string]interface{})
	if up.Name != nil {
		updates["name"] = *up.Name
	}
	if up.MessagesJSON != nil {
		updates["messages_json"] = *up.MessagesJSON
	}
	if up.MessageCount != nil {
		updates["message_count"] = *up.MessageCount
	}
	if up.UpdatedAt != nil {
		updates["updated_at"] = *up.UpdatedAt
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("conversation", id)
	}
	return nil
}

func (s *Storage) GetConversation(ctx context.Context, id uint64) (*Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var conv Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gormNotFoundError("conversation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations 按最后更新时间倒序返回对话（不含消息正文）。
func (s *Storage) ListConversations(ctx context.Context, q ConversationQuery) ([]Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&Conversation{}).
		Select("id", "name", "message_count", "created_at", "updated_at")
	if q.Before != nil {
		db = db.Where("updated_at < ?", *q.Before)
	}
	db = db.Order("updated_at DESC").Order("id DESC").Limit(normalizeLimit(q.Limit))

	var out []Conversation
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// ConversationMessagesJSON 只读取消息 JSON 列。
func (s *Storage) ConversationMessagesJSON(ctx context.Context, id uint64) (string, error) {
	if s == nil || s.db == nil {
		return "", errNotInitialized
	}
	var raw []string
	if err := s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", id).Pluck("messages_json", &raw).Error; err != nil {
		return "", fmt.Errorf("get conversation messages: %w", err)
	}
	if len(raw) == 0 {
		return "", gormNotFoundError("conversation", id)
	}
	return raw[0], nil
}

func (s *Storage) DeleteConversation(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotInitialized
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Conversation{})
	if res.Error != nil {
		return false, fmt.Errorf("delete conversation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Storage) DeleteAllConversations(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Conversation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete all conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) DeleteConversationsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&Conversation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountConversations(ctx context.Context) (int64, error) {
	return s.count(ctx, &Conversation{})
}

// ---------------------------------------------------------------------------
// Document chunks
// ---------------------------------------------------------------------------

type ChunkQuery struct {
	// Sources 为可选的源文档过滤条件（精确匹配）；为空表示全部文档。
	Sources []string
	// WithEmbedding 为 false 时不读取 embedding 列。
	WithEmbedding bool
	// Limit 限制返回条数；<=0 表示不限制。
	Limit int
}

func (s *Storage) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range chunks {
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(chunks, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert document chunks: %w", err)
	}
	return nil
}

// ReplaceSourceChunks 在一个事务内删除某个源文档的旧片段并写入新片段。
func (s *Storage) ReplaceSourceChunks(ctx context.Context, source string, chunks []DocumentChunk) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", source).Delete(&DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("delete document chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(chunks, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert document chunks: %w", err)
		}
		return nil
	})
}

func (s *Storage) QueryChunks(ctx context.Context, q ChunkQuery) ([]DocumentChunk, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&DocumentChunk{})
	if !q.WithEmbedding {
		db = db.Omit("embedding")
	}
	if len(q.Sources) > 0 {
		db = db.Where("source IN ?", q.Sources)
	}
	db = db.Order("source ASC").Order("seq ASC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var out []DocumentChunk
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	return out, nil
}

type SourceInfo struct {
	Source string
	Path   string
	Chunks int64
}

// ListSources 返回索引中的所有源文档及其片段数量。
func (s *Storage) ListSources(ctx context.Context) ([]SourceInfo, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var out []SourceInfo
	err := s.db.WithContext(ctx).Model(&DocumentChunk{}).
		Select("source, MAX(path) AS path, COUNT(*) AS chunks").
		Group("source").
		Order("source ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list document sources: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteChunksBySource(ctx context.Context, source string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Where("source = ?", source).Delete(&DocumentChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete document chunks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) DeleteAllChunks(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DocumentChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete all document chunks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, &DocumentChunk{})
}

// ---------------------------------------------------------------------------
// Audit records
// ---------------------------------------------------------------------------

// AuditQuery 用于查询审计记录的过滤条件，所有字段零值表示不参与过滤。
type AuditQuery struct {
	TraceID string
	Agent   string
	Action  string
	Status  string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	Desc  bool
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	db := s.db.WithContext(ctx).Model(&AuditRecord{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.Agent != "" {
		db = db.Where("agent = ?", q.Agent)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC").Order("id DESC")
	} else {
		db = db.Order("created_at ASC").Order("id ASC")
	}
	db = db.Limit(normalizeLimit(q.Limit))

	var out []AuditRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update audit record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("audit record", id)
	}
	return nil
}

func (s *Storage) DeleteAuditRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAuditRecordsKeepLatest 只保留最新的 keep 条审计记录，分批删除其余记录。
func (s *Storage) DeleteAuditRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if keep < 0 {
		keep = 0
	}

	var total int64
	for {
		var ids []uint64
		err := s.db.WithContext(ctx).Model(&AuditRecord{}).
			Order("id DESC").
			Offset(keep).
			Limit(normalizeDeleteLimit(0)).
			Pluck("id", &ids).Error
		if err != nil {
			return total, fmt.Errorf("select audit record ids: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&AuditRecord{})
		if res.Error != nil {
			return total, fmt.Errorf("delete audit records: %w", res.Error)
		}
		total += res.RowsAffected
	}
}

func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &AuditRecord{})
}

func (s *Storage) count(ctx context.Context, model interface{}) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     uint64
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

func (e notFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func gormNotFoundError(entity string, id uint64) error {
	return notFoundError{Entity: entity, ID: id}
}
