package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/wwwzy/PaperFast/internal/config"
)

// NewArkChatModel 初始化 Ark ChatModel
func NewArkChatModel(ctx context.Context, cfg config.ArkConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" || cfg.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.ModelID,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init ark chat model failed: %w", err)
	}
	return cm, nil
}

// NewFromConfig 使用配置中的 Ark 模型构建 Gateway。
func NewFromConfig(ctx context.Context, cfg *config.Config) (*ChatGateway, error) {
	cm, err := NewArkChatModel(ctx, cfg.Ark)
	if err != nil {
		return nil, err
	}
	return NewChatGateway(cm, Options{
		GenerateTimeout: cfg.Agent.GenerateTimeout,
		AgenticTimeout:  cfg.Agent.AgenticTimeout,
		MaxStep:         cfg.Agent.MaxStep,
	})
}
