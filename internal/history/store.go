package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/storage"
	"goa.design/clue/log"
)

const (
	defaultNameRunes = 30
	// 没有任何用户消息时使用
	placeholderName = "New conversation"
)

// ErrNotFound 表示对话不存在。
var ErrNotFound = storage.ErrNotFound

// Summary 是对话列表中的一项。
type Summary struct {
	ID           uint64
	Name         string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store 是对话持久化能力。
type Store interface {
	// Save 保存完整的消息列表；id 为 nil 或对应的对话不存在时新建对话。返回对话 ID。
	Save(ctx context.Context, msgs []agent.Message, id *uint64) (uint64, error)
	// List 按最后更新时间倒序返回对话。
	List(ctx context.Context) ([]Summary, error)
	Load(ctx context.Context, id uint64) ([]agent.Message, error)
	Rename(ctx context.Context, id uint64, name string) error
	Delete(ctx context.Context, id uint64) error
	DeleteAll(ctx context.Context) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLStore 基于 storage 包（gorm + sqlite）实现 Store。
type SQLStore struct {
	db *storage.Storage
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *storage.Storage) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, msgs []agent.Message, id *uint64) (uint64, error) {
	raw, err := json.Marshal(nonNil(msgs))
	if err != nil {
		return 0, fmt.Errorf("encode messages: %w", err)
	}
	payload := string(raw)
	count := len(msgs)
	now := time.Now().UTC()

	if id != nil {
		existing, err := s.db.GetConversation(ctx, *id)
		switch {
		case err == nil:
			up := storage.ConversationUpdate{
				MessagesJSON: &payload,
				MessageCount: &count,
				UpdatedAt:    &now,
			}
			if existing.Name == "" {
				name := DefaultName(msgs)
				up.Name = &name
			}
			if err := s.db.UpdateConversation(ctx, *id, up); err != nil {
				return 0, err
			}
			return *id, nil
		case errors.Is(err, storage.ErrNotFound):
			log.Warn(ctx, log.KV{K: "msg", V: "conversation not found, creating a new one"}, log.KV{K: "id", V: *id})
		default:
			return 0, err
		}
	}

	conv := storage.Conversation{
		Name:         DefaultName(msgs),
		MessagesJSON: payload,
		MessageCount: count,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateConversation(ctx, &conv); err != nil {
		return 0, err
	}
	return conv.ID, nil
}

func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.ListConversations(ctx, storage.ConversationQuery{})
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{
			ID:           r.ID,
			Name:         r.Name,
			MessageCount: r.MessageCount,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *SQLStore) Load(ctx context.Context, id uint64) ([]agent.Message, error) {
	raw, err := s.db.ConversationMessagesJSON(ctx, id)
	if err != nil {
		return nil, err
	}
	var msgs []agent.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages of conversation %d: %w", id, err)
	}
	return nonNil(msgs), nil
}

func (s *SQLStore) Rename(ctx context.Context, id uint64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name must not be empty")
	}
	return s.db.UpdateConversation(ctx, id, storage.ConversationUpdate{Name: &name})
}

func (s *SQLStore) Delete(ctx context.Context, id uint64) error {
	ok, err := s.db.DeleteConversation(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) DeleteAll(ctx context.Context) (int64, error) {
	return s.db.DeleteAllConversations(ctx)
}

func (s *SQLStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.db.DeleteConversationsBefore(ctx, before)
}

// DefaultName 取第一条用户消息的前 30 个字符作为对话名称。
func DefaultName(msgs []agent.Message) string {
	for _, m := range msgs {
		if m.Role != agent.RoleUser {
			continue
		}
		content := strings.Join(strings.Fields(m.Content), " ")
		if content == "" {
			continue
		}
		runes := []rune(content)
		if len(runes) <= defaultNameRunes {
			return content
		}
		return string(runes[:defaultNameRunes]) + "..."
	}
	return placeholderName
}

func nonNil(msgs []agent.Message) []agent.Message {
	if msgs == nil {
		return []agent.Message{}
	}
	return msgs
}
