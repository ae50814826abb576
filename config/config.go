package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the RAG service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Providers ProvidersConfig `mapstructure:"providers"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
}

// ProvidersConfig groups upstream LLM provider settings
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig contains OpenAI provider settings
type OpenAIConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	CompletionModel     string        `mapstructure:"completion_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("providers.openai.api_key required")
	}
	if o.EmbeddingDimensions <= 0 {
		return fmt.Errorf("providers.openai.embedding_dimensions must be > 0")
	}
	return nil
}

// RAGConfig contains retrieval pipeline settings
type RAGConfig struct {
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	TopK           int    `mapstructure:"top_k"`
	ContentCap     int    `mapstructure:"content_cap"`
	SystemPersona  string `mapstructure:"system_persona"`
	RenderedFetch  bool   `mapstructure:"rendered_fetch"`
	IngestWorkers  int    `mapstructure:"ingest_workers"`
	UpsertBatch    int    `mapstructure:"upsert_batch"`
	KeywordEnabled bool   `mapstructure:"keyword_enabled"`
}

func (r RAGConfig) Validate() error {
	if r.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be > 0")
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size)")
	}
	if r.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be > 0")
	}
	return nil
}

// StorageConfig contains vector and session store settings
type StorageConfig struct {
	Vector   VectorConfig   `mapstructure:"vector"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// VectorConfig selects and parameterises the vector store backend
type VectorConfig struct {
	Driver     string `mapstructure:"driver"` // pgvector or qdrant
	Collection string `mapstructure:"collection"`
	QdrantURL  string `mapstructure:"qdrant_url"`
	QdrantKey  string `mapstructure:"qdrant_api_key"`
}

func (v VectorConfig) Validate() error {
	switch v.Driver {
	case "", "pgvector":
		return nil
	case "qdrant":
		if strings.TrimSpace(v.QdrantURL) == "" {
			return fmt.Errorf("storage.vector.qdrant_url required for qdrant driver")
		}
		return nil
	default:
		return fmt.Errorf("storage.vector.driver must be pgvector or qdrant")
	}
}

// SessionsConfig selects the session store backend
type SessionsConfig struct {
	Driver string `mapstructure:"driver"` // postgres or redis
}

func (s SessionsConfig) Validate() error {
	switch s.Driver {
	case "", "postgres", "redis":
		return nil
	default:
		return fmt.Errorf("storage.sessions.driver must be postgres or redis")
	}
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.listen", ":8000")
	viper.SetDefault("providers.openai.completion_model", "gpt-3.5-turbo")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.embedding_dimensions", 1536)
	viper.SetDefault("providers.openai.temperature", 0.7)
	viper.SetDefault("providers.openai.max_tokens", 500)
	viper.SetDefault("providers.openai.timeout", "30s")
	viper.SetDefault("rag.chunk_size", 1000)
	viper.SetDefault("rag.chunk_overlap", 100)
	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.content_cap", 500)
	viper.SetDefault("rag.ingest_workers", 4)
	viper.SetDefault("rag.upsert_batch", 50)
	viper.SetDefault("rag.keyword_enabled", true)
	viper.SetDefault("rag.system_persona", "You are a helpful assistant.")
	viper.SetDefault("storage.vector.driver", "pgvector")
	viper.SetDefault("storage.vector.collection", "document_chunks")
	viper.SetDefault("storage.sessions.driver", "postgres")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("BOOKRAG")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (BOOKRAG_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Validate(); err != nil {
		panic(err)
	}
	return &config
}

// Validate checks cross-section configuration consistency.
func (c *Config) Validate() error {
	if err := c.Providers.OpenAI.Validate(); err != nil {
		return err
	}
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Vector.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Sessions.Validate(); err != nil {
		return err
	}
	if c.Storage.Vector.Driver != "qdrant" || c.Storage.Sessions.Driver != "redis" {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	}
	if c.Storage.Sessions.Driver == "redis" {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}
