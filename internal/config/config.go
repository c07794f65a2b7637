package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`

	// PublicBaseURL is the externally reachable base URL of the API process,
	// used to build the parse callback URL handed to the provider.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	ServiceName string `mapstructure:"service_name"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

type ParserConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Version    string `mapstructure:"version"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

type IntakeConfig struct {
	MaxBytes     int64    `mapstructure:"max_bytes"`
	AllowedMIMEs []string `mapstructure:"allowed_mimes"`
}

type PipelineConfig struct {
	PollSchedule    string        `mapstructure:"poll_schedule"`
	ReaperSchedule  string        `mapstructure:"reaper_schedule"`
	Workers         int           `mapstructure:"workers"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	ChunkTarget     int           `mapstructure:"chunk_target"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
	ChunkLookahead  int           `mapstructure:"chunk_lookahead"`
}

type RetrievalConfig struct {
	MaxChunks           int     `mapstructure:"max_chunks"`
	SimilarityThreshold float32 `mapstructure:"similarity_threshold"`
	TokenBudget         int     `mapstructure:"token_budget"`
}

// Load reads configuration from an optional YAML file with environment
// variable overrides, applying defaults for every knob.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("parser.base_url", "PARSER_BASE_URL")
	v.BindEnv("parser.api_key", "PARSER_API_KEY")
	v.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service_name", "corpusd")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/corpusd.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "chunks")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "documents")
	v.SetDefault("storage.presign_expiry", "15m")

	v.SetDefault("parser.timeout", "30s")

	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.version", "1")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.batch_size", 16)

	v.SetDefault("intake.max_bytes", 25*1024*1024)
	v.SetDefault("intake.allowed_mimes", []string{
		"application/pdf",
		"text/plain",
		"text/markdown",
	})

	v.SetDefault("pipeline.poll_schedule", "@every 2s")
	v.SetDefault("pipeline.reaper_schedule", "@every 1m")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.backoff_base", "2s")
	v.SetDefault("pipeline.backoff_cap", "2m")
	v.SetDefault("pipeline.staleness_window", "10m")
	v.SetDefault("pipeline.chunk_target", 1200)
	v.SetDefault("pipeline.chunk_overlap", 150)
	v.SetDefault("pipeline.chunk_lookahead", 200)

	v.SetDefault("retrieval.max_chunks", 8)
	v.SetDefault("retrieval.similarity_threshold", 0.4)
	v.SetDefault("retrieval.token_budget", 2048)
}
