package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

const (
	VectorStoreLevelDB  = "leveldb"
	VectorStorePGVector = "pgvector"

	RecordStoreLocal = "local"
	RecordStoreS3    = "s3"
)

type Config struct {
	Port               int               `json:"port"`
	LogConfig          logger.LogConfig  `json:"log_config"`
	VectorStore        VectorStoreConfig `json:"vector_store"`
	Database           DatabaseConfig    `json:"database"`
	RecordStore        RecordStoreConfig `json:"record_store"`
	AI                 AIConfig          `json:"ai"`
	EmbedCache         EmbedCacheConfig  `json:"embed_cache"`
	Search             SearchConfig      `json:"search"`
	CORSAllowlist      []string          `json:"cors_allowlist"`
	CopilotRateLimitMs int               `json:"copilot_rate_limit_ms"`
	Jobs               JobsConfig        `json:"jobs"`
}

type VectorStoreConfig struct {
	Type    string `json:"type"`
	Dir     string `json:"dir"`
	MaxOpen int    `json:"max_open"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

type RecordStoreConfig struct {
	Type string   `json:"type"`
	Dir  string   `json:"dir"`
	S3   S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

// AIConfig selects the generation and embedding providers. Data holds
// per-provider arguments keyed by provider name.
type AIConfig struct {
	Provider      string                 `json:"provider"`
	Model         string                 `json:"model"`
	EmbedProvider string                 `json:"embed_provider"`
	EmbedModel    string                 `json:"embed_model"`
	Fallbacks     []AIModelRef           `json:"fallbacks"`
	Data          map[string]interface{} `json:"data"`
	Timeout       int                    `json:"timeout"`
	Temperature   float32                `json:"temperature"`
	TopP          float32                `json:"top_p"`
	MaxTokens     int                    `json:"max_tokens"`
}

type AIModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type EmbedCacheConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
}

// JobsConfig holds cron specs for background jobs. An empty spec disables
// the job.
type JobsConfig struct {
	IndexRepair     string `json:"index_repair"`
	CacheCleanup    string `json:"cache_cleanup"`
	CacheMaxAgeDays int    `json:"cache_max_age_days"`
}

type SearchConfig struct {
	TopK    int `json:"top_k"`
	MaxTopK int `json:"max_top_k"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}

	c.VectorStore.Type = strings.ToLower(strings.TrimSpace(c.VectorStore.Type))
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = VectorStoreLevelDB
	}
	switch c.VectorStore.Type {
	case VectorStoreLevelDB:
		if c.VectorStore.Dir == "" {
			return fmt.Errorf("vector_store.dir is required for leveldb store")
		}
	case VectorStorePGVector:
		if !c.Database.Enabled() {
			return fmt.Errorf("database is required for pgvector store")
		}
	default:
		return fmt.Errorf("vector_store.type must be leveldb or pgvector")
	}

	c.RecordStore.Type = strings.ToLower(strings.TrimSpace(c.RecordStore.Type))
	if c.RecordStore.Type == "" {
		c.RecordStore.Type = RecordStoreLocal
	}
	switch c.RecordStore.Type {
	case RecordStoreLocal:
		if c.RecordStore.Dir == "" {
			return fmt.Errorf("record_store.dir is required for local store")
		}
	case RecordStoreS3:
		s3 := c.RecordStore.S3
		if s3.Endpoint == "" || s3.Bucket == "" || s3.SecretID == "" || s3.SecretKey == "" {
			return fmt.Errorf("record_store.s3 endpoint/bucket/secret_id/secret_key are required for s3 store")
		}
		if c.RecordStore.S3.Region == "" {
			c.RecordStore.S3.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("record_store.type must be local or s3")
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "gemini"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.0-flash"
	}
	if c.AI.EmbedProvider == "" {
		c.AI.EmbedProvider = c.AI.Provider
	}
	if c.AI.EmbedModel == "" {
		c.AI.EmbedModel = "text-embedding-004"
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60
	}
	if c.AI.Temperature <= 0 {
		c.AI.Temperature = 0.3
	}
	if c.AI.TopP <= 0 {
		c.AI.TopP = 0.8
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 2048
	}

	if c.Search.TopK <= 0 {
		c.Search.TopK = 5
	}
	if c.Search.MaxTopK <= 0 {
		c.Search.MaxTopK = 50
	}
	if c.Search.TopK > c.Search.MaxTopK {
		c.Search.TopK = c.Search.MaxTopK
	}
	return nil
}

// ProviderArgs returns the argument block configured for a provider.
func (c AIConfig) ProviderArgs(name string) interface{} {
	if c.Data == nil {
		return map[string]interface{}{}
	}
	if v, ok := c.Data[strings.ToLower(strings.TrimSpace(name))]; ok && v != nil {
		return v
	}
	return map[string]interface{}{}
}
