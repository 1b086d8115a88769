package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wwwzy/PaperFast/internal/storage"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

// EmbeddingConfig 为 OpenAI 兼容的 embedding 服务配置；APIKey 为空时检索功能关闭。
type EmbeddingConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type RetrievalConfig struct {
	// DocsDir 为原始文档目录，rebuild 时从这里重新建索引。
	DocsDir         string `mapstructure:"docs_dir"`
	TopK            int    `mapstructure:"top_k"`
	SummaryTopK     int    `mapstructure:"summary_top_k"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	ChunkOverlap    int    `mapstructure:"chunk_overlap"`
}

type AgentConfig struct {
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	AgenticTimeout  time.Duration `mapstructure:"agentic_timeout"`
	MaxStep         int           `mapstructure:"max_step"`
}

type WebSearchConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type ArxivConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`
	MaxResults   int           `mapstructure:"max_results"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

// RemoteToolsConfig 描述一个远程工具提供方，启动会话时从 ManifestURL 拉取工具清单。
type RemoteToolsConfig struct {
	Name        string `mapstructure:"name"`
	ManifestURL string `mapstructure:"manifest_url"`
}

type ToolsConfig struct {
	Timeout   time.Duration       `mapstructure:"timeout"`
	WebSearch WebSearchConfig     `mapstructure:"web_search"`
	Arxiv     ArxivConfig         `mapstructure:"arxiv"`
	Remote    []RemoteToolsConfig `mapstructure:"remote"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockConfig 控制同一会话的串行写入；Backend 为 local 或 redis。
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RetentionConfig 控制后台清理：0 表示不按该条件清理。
type RetentionConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	ConversationDays int           `mapstructure:"conversation_days"`
	AuditDays        int           `mapstructure:"audit_days"`
	AuditKeep        int           `mapstructure:"audit_keep"`
}

type Config struct {
	Storage   storage.Config  `mapstructure:"storage"`
	Ark       ArkConfig       `mapstructure:"ark"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Lock      LockConfig      `mapstructure:"lock"`
	Retention RetentionConfig `mapstructure:"retention"`
	LogLevel  string          `mapstructure:"log_level"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.paperfast")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PAPERFAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只会处理 viper 已知的 key，所以所有字段都需要先有默认值。
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}
	switch c.Lock.Backend {
	case "", "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required when lock.backend=redis")
		}
	default:
		return fmt.Errorf("unknown lock.backend %q (supported: local, redis)", c.Lock.Backend)
	}
	if c.Retention.ConversationDays < 0 || c.Retention.AuditDays < 0 || c.Retention.AuditKeep < 0 {
		return fmt.Errorf("retention values must not be negative")
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap must be smaller than retrieval.chunk_size")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.max_open_conns", 0)
	v.SetDefault("storage.max_idle_conns", 0)
	v.SetDefault("storage.conn_max_lifetime", 0)

	// -------------------------------------------------------------------------
	// Ark AI Defaults
	// -------------------------------------------------------------------------
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)

	v.BindEnv("ark.api_key", "ARK_API_KEY")
	v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	v.BindEnv("ark.base_url", "ARK_BASE_URL")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.model", d.Embedding.Model)

	v.BindEnv("embedding.api_key", "OPENAI_API_KEY")
	v.BindEnv("embedding.base_url", "OPENAI_BASE_URL")

	v.SetDefault("retrieval.docs_dir", d.Retrieval.DocsDir)
	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.summary_top_k", d.Retrieval.SummaryTopK)
	v.SetDefault("retrieval.max_context_chars", d.Retrieval.MaxContextChars)
	v.SetDefault("retrieval.chunk_size", d.Retrieval.ChunkSize)
	v.SetDefault("retrieval.chunk_overlap", d.Retrieval.ChunkOverlap)

	v.SetDefault("agent.generate_timeout", d.Agent.GenerateTimeout)
	v.SetDefault("agent.agentic_timeout", d.Agent.AgenticTimeout)
	v.SetDefault("agent.max_step", d.Agent.MaxStep)

	v.SetDefault("tools.timeout", d.Tools.Timeout)
	v.SetDefault("tools.web_search.enabled", d.Tools.WebSearch.Enabled)
	v.SetDefault("tools.web_search.endpoint", d.Tools.WebSearch.Endpoint)
	v.SetDefault("tools.arxiv.enabled", d.Tools.Arxiv.Enabled)
	v.SetDefault("tools.arxiv.endpoint", d.Tools.Arxiv.Endpoint)
	v.SetDefault("tools.arxiv.max_results", d.Tools.Arxiv.MaxResults)
	v.SetDefault("tools.arxiv.rate_interval", d.Tools.Arxiv.RateInterval)
	v.SetDefault("tools.remote", []map[string]any{})

	v.SetDefault("lock.backend", d.Lock.Backend)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.redis.addr", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)

	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.conversation_days", d.Retention.ConversationDays)
	v.SetDefault("retention.audit_days", d.Retention.AuditDays)
	v.SetDefault("retention.audit_keep", d.Retention.AuditKeep)
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: storage.Config{
			Path:        "paperfast.db",
			BusyTimeout: 5 * time.Second,
			EnableWAL:   true,
		},
		Ark: ArkConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-large",
		},
		Retrieval: RetrievalConfig{
			DocsDir:         "data/papers",
			TopK:            5,
			SummaryTopK:     10,
			MaxContextChars: 12000,
			ChunkSize:       1000,
			ChunkOverlap:    200,
		},
		Agent: AgentConfig{
			GenerateTimeout: 2 * time.Minute,
			AgenticTimeout:  3 * time.Minute,
			MaxStep:         12,
		},
		Tools: ToolsConfig{
			Timeout: 20 * time.Second,
			WebSearch: WebSearchConfig{
				Enabled:  true,
				Endpoint: "https://api.duckduckgo.com/",
			},
			Arxiv: ArxivConfig{
				Enabled:      true,
				Endpoint:     "https://export.arxiv.org/api/query",
				MaxResults:   5,
				RateInterval: 3 * time.Second,
			},
		},
		Lock: LockConfig{
			Backend: "local",
			TTL:     5 * time.Minute,
		},
		Retention: RetentionConfig{
			Interval:  time.Hour,
			AuditDays: 30,
		},
	}
}
