// Package config loads PayNews configuration from an optional file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/paynews/paynews/pkg/logx"
)

// Config holds all application configuration.
type Config struct {
	HTTP       HTTPConfig
	Perplexity PerplexityConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Redis      RedisConfig
	NATS       NATSConfig
	Qdrant     QdrantConfig
	Neo4j      Neo4jConfig
	Ollama     OllamaConfig
	Log        logx.Config
	Metrics    MetricsConfig
}

type HTTPConfig struct {
	Port       string
	CORSOrigin string
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

type PerplexityConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	RPS      float64
	Retries  int
	ChatTTL  time.Duration // reply cache lifetime for chat prompts
	NewsSize int           // articles requested per fetch
}

type DatabaseConfig struct {
	URL     string
	Migrate bool
	Trace   bool
}

type CacheConfig struct {
	Path string
}

type RedisConfig struct {
	URL string
}

type NATSConfig struct {
	URL string
}

type QdrantConfig struct {
	Addr       string
	Collection string
	VectorSize uint64
}

type Neo4jConfig struct {
	URL  string
	User string
	Pass string
}

type OllamaConfig struct {
	URL   string
	Model string
}

type MetricsConfig struct {
	Addr string // standalone metrics listener for background workers
}

// DefaultCachePath is the SQLite cache location under the user's XDG cache dir.
func DefaultCachePath() string {
	path, err := xdg.CacheFile("paynews/articles.db")
	if err != nil {
		return "paynews-articles.db"
	}
	return path
}

// Load reads configuration. file may be empty, in which case paynews.yaml is
// looked up in the working directory and the XDG config dir.
// Environment variables use the PAYNEWS_ prefix, e.g. PAYNEWS_HTTP_PORT.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("paynews")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(xdg.ConfigHome + "/paynews")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("PAYNEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:       v.GetString("http.port"),
			CORSOrigin: v.GetString("http.cors_origin"),
			RateLimit:  v.GetFloat64("http.rate_limit"),
			RateBurst:  v.GetInt("http.rate_burst"),
		},
		Perplexity: PerplexityConfig{
			APIKey:   strings.TrimSpace(v.GetString("perplexity.api_key")),
			BaseURL:  v.GetString("perplexity.base_url"),
			Model:    v.GetString("perplexity.model"),
			Timeout:  v.GetDuration("perplexity.timeout"),
			RPS:      v.GetFloat64("perplexity.rps"),
			Retries:  v.GetInt("perplexity.retries"),
			ChatTTL:  v.GetDuration("perplexity.chat_ttl"),
			NewsSize: v.GetInt("perplexity.news_size"),
		},
		Database: DatabaseConfig{
			URL:     v.GetString("database.url"),
			Migrate: v.GetBool("database.migrate"),
			Trace:   v.GetBool("database.trace"),
		},
		Cache: CacheConfig{Path: v.GetString("cache.path")},
		Redis: RedisConfig{URL: v.GetString("redis.url")},
		NATS:  NATSConfig{URL: v.GetString("nats.url")},
		Qdrant: QdrantConfig{
			Addr:       v.GetString("qdrant.addr"),
			Collection: v.GetString("qdrant.collection"),
			VectorSize: v.GetUint64("qdrant.vector_size"),
		},
		Neo4j: Neo4jConfig{
			URL:  v.GetString("neo4j.url"),
			User: v.GetString("neo4j.user"),
			Pass: v.GetString("neo4j.pass"),
		},
		Ollama: OllamaConfig{
			URL:   v.GetString("ollama.url"),
			Model: v.GetString("ollama.model"),
		},
		Log: logx.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metrics: MetricsConfig{Addr: v.GetString("metrics.addr")},
	}

	if cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.cors_origin", "*")
	v.SetDefault("http.rate_limit", 5.0)
	v.SetDefault("http.rate_burst", 20)

	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("perplexity.timeout", 60*time.Second)
	v.SetDefault("perplexity.rps", 1.0)
	v.SetDefault("perplexity.retries", 3)
	v.SetDefault("perplexity.chat_ttl", 10*time.Minute)
	v.SetDefault("perplexity.news_size", 5)

	v.SetDefault("database.migrate", true)
	v.SetDefault("qdrant.collection", "paynews_articles")
	v.SetDefault("qdrant.vector_size", 768)
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "nomic-embed-text")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("metrics.addr", ":9102")
}

// bindLegacyEnv accepts the variable names the web frontend deployment already uses.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("perplexity.api_key", "PAYNEWS_PERPLEXITY_API_KEY", "PERPLEXITY_API_KEY", "VITE_PERPLEXITY_API_KEY")
	_ = v.BindEnv("database.url", "PAYNEWS_DATABASE_URL", "DATABASE_URL", "SUPABASE_DB_URL")
	_ = v.BindEnv("http.port", "PAYNEWS_HTTP_PORT", "PORT")
	_ = v.BindEnv("redis.url", "PAYNEWS_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("nats.url", "PAYNEWS_NATS_URL", "NATS_URL")
}

// Validate checks values that would otherwise fail later and far from the cause.
func (c *Config) Validate() error {
	if c.HTTP.Port == "" {
		return errors.New("config: http.port is required")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("config: http.rate_limit must not be negative")
	}
	if c.Perplexity.Timeout <= 0 {
		return errors.New("config: perplexity.timeout must be positive")
	}
	if c.Perplexity.NewsSize <= 0 || c.Perplexity.NewsSize > 20 {
		return fmt.Errorf("config: perplexity.news_size must be within 1..20, got %d", c.Perplexity.NewsSize)
	}
	if _, err := url.ParseRequestURI(c.Perplexity.BaseURL); err != nil {
		return fmt.Errorf("config: perplexity.base_url: %w", err)
	}
	if c.Database.URL != "" {
		u, err := url.Parse(c.Database.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return errors.New("config: database.url must be a postgres:// URL")
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
