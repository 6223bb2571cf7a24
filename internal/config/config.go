// Package config loads engine settings from a YAML file, a .env file and
// ALERTENGINE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"predixaai-alert-engine/internal/crypto"
)

const EnvPrefix = "ALERTENGINE"

type Config struct {
	EncryptionKey string         `mapstructure:"encryption_key"`
	Log           LogConfig      `mapstructure:"log"`
	HTTP          HTTPConfig     `mapstructure:"http"`
	Rules         RulesConfig    `mapstructure:"rules"`
	Database      DatabaseConfig `mapstructure:"database"`
	AlertLog      AlertLogConfig `mapstructure:"alert_log"`
	Dedup         DedupConfig    `mapstructure:"dedup"`
	Silence       SilenceConfig  `mapstructure:"silence"`
	NATS          NATSConfig     `mapstructure:"nats"`
	Webhook       WebhookConfig  `mapstructure:"webhook"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
	GitHub        GitHubConfig   `mapstructure:"github"`
	Executor      ExecutorConfig `mapstructure:"executor"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RulesConfig struct {
	// Source is one of file, postgres or none.
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type AlertLogConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type DedupConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SilenceConfig struct {
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	MaxDays       int    `mapstructure:"max_days"`
}

type NATSConfig struct {
	URL              string `mapstructure:"url"`
	IngestSubject    string `mapstructure:"ingest_subject"`
	QueueGroup       string `mapstructure:"queue_group"`
	ProcessedSubject string `mapstructure:"processed_subject"`
}

type WebhookConfig struct {
	AllowedHosts    []string      `mapstructure:"allowed_hosts"`
	AllowedSuffixes []string      `mapstructure:"allowed_suffixes"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes"`
}

type TelegramConfig struct {
	Token         string  `mapstructure:"token"`
	ChatID        string  `mapstructure:"chat_id"`
	APIBase       string  `mapstructure:"api_base"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	Repo    string `mapstructure:"repo"`
	APIBase string `mapstructure:"api_base"`
}

type ExecutorConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

var defaults = map[string]any{
	"encryption_key":            "",
	"log.level":                 "info",
	"log.format":                "text",
	"log.output":                "stdout",
	"log.file_path":             "",
	"log.max_size":              100,
	"log.max_backups":           5,
	"log.max_age":               30,
	"log.compress":              true,
	"http.port":                 8095,
	"http.read_timeout":         "10s",
	"http.write_timeout":        "10s",
	"http.shutdown_timeout":     "10s",
	"rules.source":              "file",
	"rules.file":                "rules.yaml",
	"database.url":              "",
	"alert_log.driver":          "",
	"alert_log.dsn":             "",
	"dedup.redis_url":           "",
	"dedup.prefix":              "alertengine:sig:",
	"dedup.ttl":                 "720h",
	"silence.mongo_uri":         "",
	"silence.mongo_database":    "alertengine",
	"silence.max_days":          7,
	"nats.url":                  "",
	"nats.ingest_subject":       "alerts.incoming",
	"nats.queue_group":          "alert-engine",
	"nats.processed_subject":    "alerts.processed",
	"webhook.allowed_hosts":     []string{},
	"webhook.allowed_suffixes":  []string{},
	"webhook.timeout":           "10s",
	"webhook.max_redirects":     3,
	"webhook.max_payload_bytes": 1048576,
	"telegram.token":            "",
	"telegram.chat_id":          "",
	"telegram.api_base":         "https://api.telegram.org",
	"telegram.rate_per_second":  1.0,
	"github.token":              "",
	"github.repo":               "",
	"github.api_base":           "https://api.github.com",
	"executor.workers":          4,
	"executor.queue_size":       128,
	"executor.action_timeout":   "15s",
}

// Load reads path (or alert-engine.yaml from ./configs or the working
// directory when path is empty), applies environment overrides and decrypts
// enc: prefixed secrets. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("alert-engine")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Webhook.AllowedHosts = splitList(cfg.Webhook.AllowedHosts)
	cfg.Webhook.AllowedSuffixes = splitList(cfg.Webhook.AllowedSuffixes)

	if err := cfg.revealSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Encryptor returns the configured secret encryptor, or nil when no key is set.
func (c *Config) Encryptor() (*crypto.AesGcmEncryptor, error) {
	if strings.TrimSpace(c.EncryptionKey) == "" {
		return nil, nil
	}
	key, err := crypto.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return crypto.NewAesGcmEncryptor(key)
}

func (c *Config) revealSecrets() error {
	enc, err := c.Encryptor()
	if err != nil {
		return err
	}
	var e crypto.Encryptor
	if enc != nil {
		e = enc
	}
	secrets := map[string]*string{
		"database.url":      &c.Database.URL,
		"alert_log.dsn":     &c.AlertLog.DSN,
		"dedup.redis_url":   &c.Dedup.RedisURL,
		"silence.mongo_uri": &c.Silence.MongoURI,
		"nats.url":          &c.NATS.URL,
		"telegram.token":    &c.Telegram.Token,
		"github.token":      &c.GitHub.Token,
	}
	for key, ptr := range secrets {
		plain, err := crypto.Reveal(e, *ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*ptr = plain
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Rules.Source {
	case "file":
		if strings.TrimSpace(c.Rules.File) == "" {
			problems = append(problems, "rules.file is required when rules.source is file")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			problems = append(problems, "database.url is required when rules.source is postgres")
		}
	case "none":
	default:
		problems = append(problems, fmt.Sprintf("rules.source must be file, postgres or none, got %q", c.Rules.Source))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port out of range: %d", c.HTTP.Port))
	}
	if (c.AlertLog.Driver == "") != (c.AlertLog.DSN == "") {
		problems = append(problems, "alert_log.driver and alert_log.dsn must be set together")
	}
	if c.Silence.MaxDays < 0 {
		problems = append(problems, "silence.max_days must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// splitList accepts both YAML lists and a single comma separated value from
// the environment.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
