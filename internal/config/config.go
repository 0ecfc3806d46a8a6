// Package config provides configuration loading for geogated.
//
// Configuration is merged from three layers, later layers winning:
// built-in defaults, a YAML file, and GEOGATE_* environment variables.
// Secrets are wrapped in the Secret type so they never leak through
// logs or marshaled output.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the complete geogated configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Memory     MemoryConfig     `koanf:"memory"`
	Prompts    PromptsConfig    `koanf:"prompts"`
	Redact     RedactConfig     `koanf:"redact"`
	Events     EventsConfig     `koanf:"events"`
	Audit      AuditConfig      `koanf:"audit"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Workflows  WorkflowsConfig  `koanf:"workflows"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// LLMConfig holds model provider settings shared by all pipeline stages.
type LLMConfig struct {
	Provider    string   `koanf:"provider"` // anthropic or openai
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	BaseURL     string   `koanf:"base_url"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // fastembed or openai
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	BatchSize int    `koanf:"batch_size"`
}

// RetrievalConfig holds the regulation corpus index settings.
type RetrievalConfig struct {
	Provider string        `koanf:"provider"` // chromem or qdrant
	TopK     int           `koanf:"top_k"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded vector store settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds remote vector store settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     Secret `koanf:"api_key"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
	VectorSize uint64 `koanf:"vector_size"`
}

// MemoryConfig holds the learned-memory store settings.
type MemoryConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// PromptsConfig holds prompt template settings.
type PromptsConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// RedactConfig holds secret scanning settings for inbound artifacts.
type RedactConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// EventsConfig holds run event streaming settings.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// AuditConfig holds the decision audit trail settings.
type AuditConfig struct {
	Path string `koanf:"path"`
}

// IngestConfig holds regulation corpus ingestion settings.
type IngestConfig struct {
	CorpusDir    string       `koanf:"corpus_dir"`
	ChunkSize    int          `koanf:"chunk_size"`
	ChunkOverlap int          `koanf:"chunk_overlap"`
	GitHub       GitHubConfig `koanf:"github"`
}

// GitHubConfig identifies a remote corpus repository.
type GitHubConfig struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Ref   string `koanf:"ref"`
	Path  string `koanf:"path"`
	Token Secret `koanf:"token"`
}

// WorkflowsConfig holds Temporal worker settings for scheduled jobs.
type WorkflowsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// applyDefaults fills zero values with production defaults.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8099
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "geogated"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = "grpc"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1.0
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.Model = "gpt-4o-mini"
		default:
			c.LLM.Model = "claude-3-5-sonnet-20241022"
		}
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = Duration(60 * time.Second)
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}

	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "fastembed"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.CacheDir == "" {
		c.Embeddings.CacheDir = "data/models"
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = 32
	}

	if c.Retrieval.Provider == "" {
		c.Retrieval.Provider = "chromem"
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.Chromem.Path == "" {
		c.Retrieval.Chromem.Path = "data/index"
	}
	if c.Retrieval.Chromem.Collection == "" {
		c.Retrieval.Chromem.Collection = "regulations"
	}
	if c.Retrieval.Qdrant.Host == "" {
		c.Retrieval.Qdrant.Host = "localhost"
	}
	if c.Retrieval.Qdrant.Port == 0 {
		c.Retrieval.Qdrant.Port = 6334
	}
	if c.Retrieval.Qdrant.Collection == "" {
		c.Retrieval.Qdrant.Collection = "regulations"
	}
	if c.Retrieval.Qdrant.VectorSize == 0 {
		c.Retrieval.Qdrant.VectorSize = 384
	}

	if c.Memory.Path == "" {
		c.Memory.Path = "data/memory"
	}

	if c.Prompts.Dir == "" {
		c.Prompts.Dir = "prompts"
	}

	if c.Events.URL == "" {
		c.Events.URL = "nats://127.0.0.1:4222"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "geogate.runs"
	}

	if c.Audit.Path == "" {
		c.Audit.Path = "data/audit/decisions.jsonl"
	}

	if c.Ingest.CorpusDir == "" {
		c.Ingest.CorpusDir = "corpus"
	}
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 1000
	}
	if c.Ingest.ChunkOverlap == 0 {
		c.Ingest.ChunkOverlap = 150
	}
	if c.Ingest.GitHub.Ref == "" {
		c.Ingest.GitHub.Ref = "main"
	}

	if c.Workflows.HostPort == "" {
		c.Workflows.HostPort = "127.0.0.1:7233"
	}
	if c.Workflows.Namespace == "" {
		c.Workflows.Namespace = "default"
	}
	if c.Workflows.TaskQueue == "" {
		c.Workflows.TaskQueue = "geogate-maintenance"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0, 1], got %f", c.Telemetry.SampleRatio)
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
	}

	if c.LLM.Provider != "anthropic" && c.LLM.Provider != "openai" {
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %f", c.LLM.Temperature)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative, got %d", c.LLM.MaxRetries)
	}

	if c.Embeddings.Provider != "fastembed" && c.Embeddings.Provider != "openai" {
		return fmt.Errorf("embeddings.provider must be fastembed or openai, got %q", c.Embeddings.Provider)
	}

	if c.Retrieval.Provider != "chromem" && c.Retrieval.Provider != "qdrant" {
		return fmt.Errorf("retrieval.provider must be chromem or qdrant, got %q", c.Retrieval.Provider)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}

	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}

	if c.Events.Enabled && !strings.HasPrefix(c.Events.URL, "nats://") && !strings.HasPrefix(c.Events.URL, "tls://") {
		return fmt.Errorf("events.url must be a nats:// or tls:// URL, got %q", c.Events.URL)
	}

	return nil
}
