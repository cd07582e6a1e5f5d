package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkerPath is the route of the signed generation webhook.
const WorkerPath = "/api/generate/worker"

// Queue providers.
const (
	QueueQStash = "qstash"
	QueueRedis  = "redis"
)

// CMS backends.
const (
	CMSSanity   = "sanity"
	CMSPostgres = "postgres"
)

// Config holds all configuration for the service.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Queue   QueueConfig   `mapstructure:"queue"`
	CMS     CMSConfig     `mapstructure:"cms"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Storage StorageConfig `mapstructure:"storage"`
	Relay   RelayConfig   `mapstructure:"relay"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
}

// AppConfig describes where the service is reachable from the queue.
// An empty BaseURL means local development: the trigger calls the worker directly.
type AppConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// AdminTokenHash is a bcrypt hash guarding the trigger and sync endpoints. Empty leaves them open.
	AdminTokenHash string        `mapstructure:"admin_token_hash"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// QueueConfig selects and configures the queue/scheduler service.
type QueueConfig struct {
	Provider          string `mapstructure:"provider"`
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"`
	CurrentSigningKey string `mapstructure:"current_signing_key"`
	NextSigningKey    string `mapstructure:"next_signing_key"`
	Retries           int    `mapstructure:"retries"`
}

// CMSConfig selects and configures the content store.
type CMSConfig struct {
	Backend      string        `mapstructure:"backend"`
	ProjectID    string        `mapstructure:"project_id"`
	Dataset      string        `mapstructure:"dataset"`
	APIVersion   string        `mapstructure:"api_version"`
	WriteToken   string        `mapstructure:"write_token"`
	BaseURL      string        `mapstructure:"base_url"`
	PatchTimeout time.Duration `mapstructure:"patch_timeout"`
}

// LLMConfig configures the OpenAI-compatible completion provider.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.URL) != "" {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required when url is not provided")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when url is not provided")
	}
	return nil
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

// RelayConfig tunes the self-hosted Redis queue relay.
type RelayConfig struct {
	KeyPrefix           string        `mapstructure:"key_prefix"`
	Stream              string        `mapstructure:"stream"`
	Group               string        `mapstructure:"group"`
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	DeliveriesPerSecond float64       `mapstructure:"deliveries_per_second"`
	DeliveryTimeout     time.Duration `mapstructure:"delivery_timeout"`
	ClaimIdle           time.Duration `mapstructure:"claim_idle"`
}

// WorkerURL is the public webhook address the queue delivers to. Empty without app.base_url.
func (c *Config) WorkerURL() string {
	if c.App.BaseURL == "" {
		return ""
	}
	return c.App.BaseURL + WorkerPath
}

// OverrideListen replaces general.listen. Empty addr keeps the configured one.
// Apply it before building anything that derives LocalWorkerURL.
func (c *Config) OverrideListen(addr string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	c.General.Listen = addr
}

// LocalWorkerURL is the webhook address on this process, used when no public URL exists.
func (c *Config) LocalWorkerURL() string {
	host, port, err := net.SplitHostPort(c.General.Listen)
	if err != nil {
		return "http://127.0.0.1:8080" + WorkerPath
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + WorkerPath
}

// Validate checks structural settings. Missing secrets are not errors here:
// they are reported per request so the service can start without them.
func (c *Config) Validate() error {
	switch c.Queue.Provider {
	case QueueQStash:
	case QueueRedis:
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("queue.provider must be %q or %q, got %q", QueueQStash, QueueRedis, c.Queue.Provider)
	}
	switch c.CMS.Backend {
	case CMSSanity:
	case CMSPostgres:
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cms.backend must be %q or %q, got %q", CMSSanity, CMSPostgres, c.CMS.Backend)
	}
	if c.Queue.Retries < 0 {
		return fmt.Errorf("queue.retries cannot be negative")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.listen", ":8080")
	v.SetDefault("app.base_url", "")
	v.SetDefault("server.admin_token_hash", "")
	v.SetDefault("server.request_timeout", 5*time.Minute)
	v.SetDefault("queue.provider", QueueQStash)
	v.SetDefault("queue.base_url", "https://qstash.upstash.io")
	v.SetDefault("queue.token", "")
	v.SetDefault("queue.current_signing_key", "")
	v.SetDefault("queue.next_signing_key", "")
	v.SetDefault("queue.retries", 3)
	v.SetDefault("cms.backend", CMSSanity)
	v.SetDefault("cms.project_id", "")
	v.SetDefault("cms.dataset", "production")
	v.SetDefault("cms.api_version", "2024-01-01")
	v.SetDefault("cms.write_token", "")
	v.SetDefault("cms.base_url", "")
	v.SetDefault("cms.patch_timeout", 10*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("storage.redis.url", "")
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("relay.key_prefix", "seshat")
	v.SetDefault("relay.stream", "seshat.deliveries")
	v.SetDefault("relay.group", "seshat-relay")
	v.SetDefault("relay.tick_interval", 15*time.Second)
	v.SetDefault("relay.deliveries_per_second", 5.0)
	v.SetDefault("relay.delivery_timeout", 5*time.Minute)
	v.SetDefault("relay.claim_idle", 10*time.Minute)
}

// envAliases binds the variable names the hosted services document,
// in addition to the SESHAT_* names derived from each key.
var envAliases = map[string][]string{
	"app.base_url":              {"APP_URL", "NEXT_PUBLIC_APP_URL"},
	"queue.base_url":            {"QSTASH_URL"},
	"queue.token":               {"QSTASH_TOKEN"},
	"queue.current_signing_key": {"QSTASH_CURRENT_SIGNING_KEY"},
	"queue.next_signing_key":    {"QSTASH_NEXT_SIGNING_KEY"},
	"cms.project_id":            {"SANITY_PROJECT_ID", "NEXT_PUBLIC_SANITY_PROJECT_ID"},
	"cms.dataset":               {"SANITY_DATASET", "NEXT_PUBLIC_SANITY_DATASET"},
	"cms.write_token":           {"SANITY_API_WRITE_TOKEN"},
	"llm.api_key":               {"OPENAI_API_KEY"},
	"storage.postgres.url":      {"DATABASE_URL"},
	"storage.redis.url":         {"REDIS_URL"},
}

// LoadConfig loads config from an optional file, SESHAT_* variables and the
// conventional variable names above. An explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SESHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, "SESHAT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(c.App.BaseURL), "/")
	c.Queue.BaseURL = strings.TrimRight(strings.TrimSpace(c.Queue.BaseURL), "/")
	c.CMS.BaseURL = strings.TrimRight(strings.TrimSpace(c.CMS.BaseURL), "/")
	c.Queue.Provider = strings.ToLower(strings.TrimSpace(c.Queue.Provider))
	c.CMS.Backend = strings.ToLower(strings.TrimSpace(c.CMS.Backend))
	c.Queue.Token = strings.TrimSpace(c.Queue.Token)
	c.Queue.CurrentSigningKey = strings.TrimSpace(c.Queue.CurrentSigningKey)
	c.Queue.NextSigningKey = strings.TrimSpace(c.Queue.NextSigningKey)
	c.CMS.WriteToken = strings.TrimSpace(c.CMS.WriteToken)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.General.Listen != "" && !strings.Contains(c.General.Listen, ":") {
		c.General.Listen = ":" + c.General.Listen
	}
}
