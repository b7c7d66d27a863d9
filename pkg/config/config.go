package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Catalog   CatalogConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
	AllowOrigins string
	Development  bool
}

type CatalogConfig struct {
	Driver           string
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
	MaxRows          int
	Bootstrap        bool
}

type MilvusConfig struct {
	Address        string
	APIKey         string
	CollectionName string
	VectorDim      int
	NProbe         int
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL time.Duration
}

type LLMConfig struct {
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	EmbeddingModel string
	EmbeddingDim   int
}

type EngineConfig struct {
	RequestTimeout      time.Duration
	ClassifyTimeout     time.Duration
	SynthesizeTimeout   time.Duration
	ExecuteTimeout      time.Duration
	RetrieveTimeout     time.Duration
	FuseTimeout         time.Duration
	RetryBackoff        time.Duration
	TopK                int
	MinSimilarity       float32
	MinConfidence       float64
	ContextTokenBudget  int
	MaxQueryLength      int
	ResynthesisAttempts int
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/prodlens")

	v.SetEnvPrefix("PRODLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Catalog.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("catalog.driver must be postgres or sqlite3, got %q", c.Catalog.Driver))
	}
	if c.Catalog.DSN == "" {
		errs = append(errs, errors.New("catalog.dsn is required"))
	}
	if c.Catalog.MaxRows <= 0 {
		errs = append(errs, errors.New("catalog.maxRows must be positive"))
	}
	if c.Catalog.StatementTimeout <= 0 {
		errs = append(errs, errors.New("catalog.statementTimeout must be positive"))
	}

	e := c.Engine
	if e.RequestTimeout <= 0 {
		errs = append(errs, errors.New("engine.requestTimeout must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"classifyTimeout":   e.ClassifyTimeout,
		"synthesizeTimeout": e.SynthesizeTimeout,
		"executeTimeout":    e.ExecuteTimeout,
		"retrieveTimeout":   e.RetrieveTimeout,
	} {
		if d <= 0 || d > e.RequestTimeout {
			errs = append(errs, fmt.Errorf("engine.%s must be in (0, requestTimeout]", name))
		}
	}
	if e.FuseTimeout <= 0 {
		errs = append(errs, errors.New("engine.fuseTimeout must be positive"))
	}
	if e.TopK < 1 || e.TopK > 50 {
		errs = append(errs, fmt.Errorf("engine.topK must be in [1, 50], got %d", e.TopK))
	}
	if e.MinSimilarity < 0 || e.MinSimilarity > 1 {
		errs = append(errs, errors.New("engine.minSimilarity must be in [0, 1]"))
	}
	if e.ContextTokenBudget <= 0 {
		errs = append(errs, errors.New("engine.contextTokenBudget must be positive"))
	}
	if e.MaxQueryLength <= 0 {
		errs = append(errs, errors.New("engine.maxQueryLength must be positive"))
	}
	if e.ResynthesisAttempts < 0 || e.ResynthesisAttempts > 1 {
		errs = append(errs, errors.New("engine.resynthesisAttempts must be 0 or 1"))
	}

	if c.LLM.EmbeddingDim != c.Milvus.VectorDim {
		errs = append(errs, fmt.Errorf("llm.embeddingDim (%d) must match milvus.vectorDim (%d)", c.LLM.EmbeddingDim, c.Milvus.VectorDim))
	}

	return errors.Join(errs...)
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowOrigins", "*")
	v.SetDefault("server.development", false)

	v.SetDefault("catalog.driver", "sqlite3")
	v.SetDefault("catalog.dsn", "./data/catalog.db")
	v.SetDefault("catalog.maxOpenConns", 10)
	v.SetDefault("catalog.maxIdleConns", 5)
	v.SetDefault("catalog.connMaxLifetime", "30m")
	v.SetDefault("catalog.statementTimeout", "5s")
	v.SetDefault("catalog.maxRows", 200)
	v.SetDefault("catalog.bootstrap", false)

	v.SetDefault("milvus.address", "localhost:19530")
	v.SetDefault("milvus.collectionName", "product_passages")
	v.SetDefault("milvus.vectorDim", 1536)
	v.SetDefault("milvus.nProbe", 16)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", "24h")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeout", "20s")
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("engine.requestTimeout", "30s")
	v.SetDefault("engine.classifyTimeout", "8s")
	v.SetDefault("engine.synthesizeTimeout", "12s")
	v.SetDefault("engine.executeTimeout", "6s")
	v.SetDefault("engine.retrieveTimeout", "8s")
	v.SetDefault("engine.fuseTimeout", "20s")
	v.SetDefault("engine.retryBackoff", "250ms")
	v.SetDefault("engine.topK", 5)
	v.SetDefault("engine.minSimilarity", 0.3)
	v.SetDefault("engine.minConfidence", 0.35)
	v.SetDefault("engine.contextTokenBudget", 3000)
	v.SetDefault("engine.maxQueryLength", 1000)
	v.SetDefault("engine.resynthesisAttempts", 1)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
