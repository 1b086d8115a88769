package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	decisionToolName  = "route_decision"
	decisionParamName = "next_node"
)

// decisionTool 把候选值约束为一个只有 enum 参数的工具，模型通过调用它给出结构化结果。
func decisionTool(choices []string) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: decisionToolName,
		Desc: "Report which agent should handle the user's latest message. Always call this tool exactly once.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			decisionParamName: {
				Desc:     "Identifier of the selected agent",
				Type:     schema.String,
				Enum:     choices,
				Required: true,
			},
		}),
	}
}

func (g *ChatGateway) CompleteStructured(ctx context.Context, msgs []*schema.Message, choices []string) (string, error) {
	if len(choices) == 0 {
		return "", errors.New("no choices given")
	}

	ctx, cancel := withTimeout(ctx, g.opts.GenerateTimeout)
	defer cancel()

	cm, err := g.model.WithTools([]*schema.ToolInfo{decisionTool(choices)})
	if err != nil {
		return "", fmt.Errorf("bind decision tool failed: %w", err)
	}
	out, err := cm.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("chat model generate failed: %w", err)
	}
	return parseDecision(out, choices)
}

// parseDecision 依次尝试：decision 工具调用参数、JSON 文本、纯文本精确匹配。
func parseDecision(out *schema.Message, choices []string) (string, error) {
	if out == nil {
		return "", ErrNoDecision
	}

	for _, tc := range out.ToolCalls {
		if tc.Function.Name != decisionToolName {
			continue
		}
		v, err := decodeDecision(tc.Function.Arguments)
		if err != nil {
			return "", err
		}
		return matchChoice(v, choices)
	}

	content := strings.TrimSpace(out.Content)
	if content == "" {
		return "", ErrNoDecision
	}
	if v, err := decodeDecision(content); err == nil {
		return matchChoice(v, choices)
	}
	return matchChoice(strings.Trim(content, "\"'`. \n"), choices)
}

func decodeDecision(raw string) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("%w: invalid decision arguments: %v", ErrNoDecision, err)
	}
	v, ok := payload[decisionParamName].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrNoDecision, decisionParamName)
	}
	return v, nil
}

func matchChoice(v string, choices []string) (string, error) {
	v = strings.TrimSpace(v)
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoDecision, v)
}
