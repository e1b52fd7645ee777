// Package config loads the process-wide configuration record once at
// startup and threads it explicitly through every component (no
// process-wide singletons besides the graph-store driver handle).
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration.
type Config struct {
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`

	Database   DatabaseConfig
	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Queue      QueueConfig
	Ontology   OntologyConfig
	Otel       OtelConfig

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds graph store (PostgreSQL + pgvector) connection settings.
type DatabaseConfig struct {
	Host         string        `env:"GRAPH_STORE_HOST" envDefault:"localhost"`
	Port         int           `env:"GRAPH_STORE_PORT" envDefault:"5432"`
	User         string        `env:"GRAPH_STORE_USER" envDefault:"memgraph"`
	Password     string        `env:"GRAPH_STORE_PASSWORD" envDefault:""`
	Database     string        `env:"GRAPH_STORE_DB" envDefault:"memgraph"`
	SSLMode      string        `env:"GRAPH_STORE_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the graph store connection string. Named to match §6's
// graph_store_url/graph_store_user/graph_store_password config keys.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// LLMConfig holds LLM client configuration (§6 llm_model, llm_provider_base_url, llm_api_key).
type LLMConfig struct {
	Provider        string        `env:"LLM_PROVIDER" envDefault:"vertex"`
	GCPProjectID    string        `env:"GCP_PROJECT_ID" envDefault:""`
	VertexLocation  string        `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`
	Model           string        `env:"LLM_MODEL" envDefault:"gemini-2.0-flash"`
	BaseURL         string        `env:"LLM_PROVIDER_BASE_URL" envDefault:""`
	APIKey          string        `env:"LLM_API_KEY" envDefault:""`
	MaxOutputTokens int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"8192"`
	Temperature     float64       `env:"LLM_TEMPERATURE" envDefault:"0"`
	Timeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	NetworkDisabled bool          `env:"LLM_NETWORK_DISABLED" envDefault:"false"`

	RetryBaseMS    int `env:"LLM_RETRY_BASE_MS" envDefault:"2000"`
	RetryCapMS     int `env:"LLM_RETRY_CAP_MS" envDefault:"120000"`
	RetryMaxAttmps int `env:"LLM_RETRY_MAX_ATTEMPTS" envDefault:"5"`
}

// IsConfigured returns true if the LLM client has credentials to call out.
func (l *LLMConfig) IsConfigured() bool {
	if l.NetworkDisabled {
		return false
	}
	return l.UseVertexAI() || l.APIKey != ""
}

// UseVertexAI returns true if Vertex AI should be used over the direct GenAI backend.
func (l *LLMConfig) UseVertexAI() bool {
	return l.GCPProjectID != "" && l.VertexLocation != ""
}

// RetryBase returns the base retry delay as a Duration.
func (l *LLMConfig) RetryBase() time.Duration { return time.Duration(l.RetryBaseMS) * time.Millisecond }

// RetryCap returns the retry delay cap as a Duration.
func (l *LLMConfig) RetryCap() time.Duration { return time.Duration(l.RetryCapMS) * time.Millisecond }

// EmbeddingsConfig holds embedding client configuration (§6 embedding_model, vector_dim).
type EmbeddingsConfig struct {
	GCPProjectID    string `env:"GCP_PROJECT_ID" envDefault:""`
	VertexLocation  string `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`
	Model           string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`
	Dimension       int    `env:"VECTOR_DIM" envDefault:"768"`
	APIKey          string `env:"GOOGLE_API_KEY" envDefault:""`
	NetworkDisabled bool   `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if the embedding client is configured to call out.
func (e *EmbeddingsConfig) IsEnabled() bool {
	if e.NetworkDisabled {
		return false
	}
	return e.UseVertexAI() || e.APIKey != ""
}

// UseVertexAI returns true if Vertex AI should be used for embeddings.
func (e *EmbeddingsConfig) UseVertexAI() bool {
	return e.GCPProjectID != "" && e.VertexLocation != ""
}

// QueueConfig holds episode queue concurrency settings (§4.5, §6).
type QueueConfig struct {
	MaxInflightEpisodes int    `env:"MAX_INFLIGHT_EPISODES" envDefault:"10"`
	LLMSemaphore        int    `env:"LLM_SEMAPHORE" envDefault:"10"`
	EpisodeSpacingMS    int    `env:"EPISODE_SPACING_MS" envDefault:"0"`
	DefaultGroupID      string `env:"DEFAULT_GROUP_ID" envDefault:"default"`
}

// EpisodeSpacing returns the minimum inter-dispatch delay as a Duration.
func (q *QueueConfig) EpisodeSpacing() time.Duration {
	return time.Duration(q.EpisodeSpacingMS) * time.Millisecond
}

// OntologyConfig points at the static ontology declaration file (§9 redesign (a)).
type OntologyConfig struct {
	Path string `env:"ONTOLOGY_PATH" envDefault:"ontology.yaml"`
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("graph_store_host", cfg.Database.Host),
		slog.Int("max_inflight_episodes", cfg.Queue.MaxInflightEpisodes),
		slog.Int("llm_semaphore", cfg.Queue.LLMSemaphore),
	)

	return cfg, nil
}
