package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/config"
	"github.com/wwwzy/PaperFast/internal/history"
	"github.com/wwwzy/PaperFast/internal/trace"
	"github.com/wwwzy/PaperFast/internal/workflow"
	"goa.design/clue/log"
)

// ErrPersist 表示本轮对话已经生成但没能保存；返回的状态仍然可以展示给用户。
var ErrPersist = errors.New("conversation was not saved")

// Runner 运行一次工作流，*workflow.Workflow 实现了它。
type Runner interface {
	Invoke(ctx context.Context, req workflow.Request) (agent.ConversationState, error)
}

// TurnRequest 是一轮用户输入。ConversationID 为 nil 时开始一个新对话。
type TurnRequest struct {
	ConversationID *uint64
	Query          string
	RAGEnabled     bool
	Sources        []string
}

type TurnResult struct {
	ConversationID uint64
	TraceID        string
	State          agent.ConversationState
}

// Reply 返回本轮新追加的 Agent 回复。
func (r TurnResult) Reply() agent.Message {
	if n := len(r.State.Messages); n > 0 {
		return r.State.Messages[n-1]
	}
	return agent.Message{}
}

// Service 串起 加锁 -> 读取历史 -> 运行工作流 -> 保存 -> 解锁。
type Service struct {
	runner Runner
	store  history.Store
	locker history.Locker
}

func NewService(runner Runner, store history.Store, locker history.Locker) *Service {
	if locker == nil {
		locker = history.NewLocalLocker()
	}
	return &Service{runner: runner, store: store, locker: locker}
}

// Turn 处理一轮对话。保存失败时返回完整的结果与包装了 ErrPersist 的错误。
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return TurnResult{}, errors.New("query is empty")
	}

	traceID := trace.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = trace.WithTraceID(ctx, traceID)
	}
	ctx = log.With(ctx, log.KV{K: "trace_id", V: traceID})

	var prior []agent.Message
	if req.ConversationID != nil {
		unlock, err := s.locker.Lock(ctx, history.ConversationKey(*req.ConversationID))
		if err != nil {
			return TurnResult{}, fmt.Errorf("lock conversation %d: %w", *req.ConversationID, err)
		}
		defer unlock()

		prior, err = s.store.Load(ctx, *req.ConversationID)
		if err != nil {
			return TurnResult{}, fmt.Errorf("load conversation %d: %w", *req.ConversationID, err)
		}
	}

	msgs := append(prior, agent.Message{Role: agent.RoleUser, Content: query})
	state, err := s.runner.Invoke(ctx, workflow.Request{
		Messages:   msgs,
		RAGEnabled: req.RAGEnabled,
		Sources:    req.Sources,
	})
	if err != nil {
		return TurnResult{TraceID: traceID}, err
	}

	res := TurnResult{TraceID: traceID, State: state}
	if req.ConversationID != nil {
		res.ConversationID = *req.ConversationID
	}

	id, err := s.store.Save(ctx, state.Messages, req.ConversationID)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "save conversation failed"})
		return res, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	res.ConversationID = id
	log.Info(ctx, log.KV{K: "msg", V: "turn completed"}, log.KV{K: "conversation_id", V: id}, log.KV{K: "agent", V: state.PrevNode})
	return res, nil
}

// NewLocker 按配置创建会话锁；返回的 close 用于释放 Redis 连接。
func NewLocker(ctx context.Context, cfg config.LockConfig) (history.Locker, func() error, error) {
	switch cfg.Backend {
	case "", "local":
		return history.NewLocalLocker(), func() error { return nil }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		l, err := history.NewRedisLocker(rdb, cfg.TTL)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return l, rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
