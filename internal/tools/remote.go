package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Manifest 是远程工具服务暴露的工具清单。
//
//	GET <manifest_url> -> {"endpoint": "...", "tools": [{"name": "...", "description": "...", "parameters": {...}}]}
//
// 调用时 POST <endpoint>/<name>，请求体为 {"arguments": {...}}，响应为 {"result": ..., "error": "..."}。
// endpoint 为空时使用 manifest_url。
type Manifest struct {
	Endpoint string         `json:"endpoint"`
	Tools    []ManifestTool `json:"tools"`
}

type ManifestTool struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  map[string]ManifestParam `json:"parameters"`
}

type ManifestParam struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// RemoteProvider 在每次会话开始时从远程服务拉取工具清单。
type RemoteProvider struct {
	name        string
	manifestURL string
	client      *http.Client
}

func NewRemoteProvider(name, manifestURL string, client *http.Client) *RemoteProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteProvider{name: name, manifestURL: manifestURL, client: client}
}

func (p *RemoteProvider) Name() string { return p.name }

func (p *RemoteProvider) Tools(ctx context.Context) ([]tool.BaseTool, error) {
	if p.manifestURL == "" {
		return nil, errors.New("manifest url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.manifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch manifest: http %d: %s", resp.StatusCode, string(bs))
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	endpoint := m.Endpoint
	if endpoint == "" {
		endpoint = p.manifestURL
	}

	out := make([]tool.BaseTool, 0, len(m.Tools))
	for _, mt := range m.Tools {
		if mt.Name == "" {
			continue
		}
		invokeURL, err := url.JoinPath(endpoint, mt.Name)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", mt.Name, err)
		}
		out = append(out, &RemoteTool{def: mt, invokeURL: invokeURL, client: p.client})
	}
	return out, nil
}

// RemoteTool 把一次工具调用转发给远程服务。
type RemoteTool struct {
	def       ManifestTool
	invokeURL string
	client    *http.Client
}

func (t *RemoteTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	params := make(map[string]*schema.ParameterInfo, len(t.def.Parameters))
	for name, mp := range t.def.Parameters {
		params[name] = &schema.ParameterInfo{
			Type:     dataType(mp.Type),
			Desc:     mp.Description,
			Enum:     mp.Enum,
			Required: mp.Required,
		}
	}
	return &schema.ToolInfo{
		Name:        t.def.Name,
		Desc:        t.def.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

type remoteResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (t *RemoteTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if !json.Valid([]byte(argumentsInJSON)) {
		return "", fmt.Errorf("invalid arguments: %q", argumentsInJSON)
	}
	body, err := json.Marshal(map[string]json.RawMessage{"arguments": json.RawMessage(argumentsInJSON)})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.invokeURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", t.def.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("invoke %s: http %d: %s", t.def.Name, resp.StatusCode, string(bs))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode %s response: %w", t.def.Name, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%s: %s", t.def.Name, out.Error)
	}
	var s string
	if err := json.Unmarshal(out.Result, &s); err == nil {
		return s, nil
	}
	return string(out.Result), nil
}

func dataType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
