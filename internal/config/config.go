package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gzhole/replyshield/internal/claimgate"
	"github.com/gzhole/replyshield/internal/flags"
	"github.com/gzhole/replyshield/internal/session"
	"github.com/gzhole/replyshield/internal/urlallow"
)

const (
	DefaultConfigDir    = ".replyshield"
	DefaultConfigFile   = "config.yaml"
	DefaultLogFile      = "audit.jsonl"
	DefaultPacksDir     = "packs"
	DefaultMessagesFile = "messages.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "REPLYSHIELD_"
	// flagEnvPrefix sets one feature flag, e.g. REPLYSHIELD_FLAG_FIREWALL_LOG_ONLY=true.
	flagEnvPrefix = EnvPrefix + "FLAG_"
)

// Session backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ConfigDir  string `yaml:"-"`
	ConfigPath string `yaml:"-"`

	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
	PacksDir     string `yaml:"packs_dir"`
	MessagesPath string `yaml:"messages_path"`

	// Flags is the flat feature-flag map decoded by flags.Decode.
	Flags map[string]any `yaml:"flags"`

	Server      ServerConfig                     `yaml:"server"`
	Session     SessionConfig                    `yaml:"session"`
	Postgres    PostgresConfig                   `yaml:"postgres"`
	Corrections CorrectionConfig                 `yaml:"corrections"`
	Intents     map[string]claimgate.Requirement `yaml:"intents"`
	URLPolicies map[string]urlallow.Policy       `yaml:"url_policies"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend       string `yaml:"backend"`
	Capacity      int    `yaml:"capacity"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisRetries  int    `yaml:"redis_retries"`

	session.Options `yaml:",inline"`
}

// PostgresConfig enables the Postgres security-event sink when DSN is set.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// CorrectionConfig bounds model re-prompting for correctable violations.
// RegenerateURL is the model service the API asks for corrected replies;
// empty disables the correction loop in the API.
type CorrectionConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	RegenerateURL     string        `yaml:"regenerate_url"`
	RegenerateTimeout time.Duration `yaml:"regenerate_timeout"`
}

// Defaults returns the built-in configuration rooted at configDir.
func Defaults(configDir string) *Config {
	return &Config{
		ConfigDir:    configDir,
		ConfigPath:   filepath.Join(configDir, DefaultConfigFile),
		LogPath:      filepath.Join(configDir, DefaultLogFile),
		LogLevel:     "info",
		PacksDir:     filepath.Join(configDir, DefaultPacksDir),
		MessagesPath: filepath.Join(configDir, DefaultMessagesFile),
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Backend:      BackendMemory,
			Capacity:     session.DefaultCapacity,
			RedisAddr:    "localhost:6379",
			RedisRetries: 3,
			Options:      session.DefaultOptions(),
		},
		Corrections: CorrectionConfig{MaxAttempts: 2, RegenerateTimeout: 30 * time.Second},
		Intents:     claimgate.DefaultRequirements(),
		URLPolicies: urlallow.DefaultPolicies(),
	}
}

// Load builds the configuration: defaults, then the YAML file, then .env
// and REPLYSHIELD_* environment variables. Explicit configPath and logPath
// arguments win over everything.
func Load(configPath, logPath string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configDir := filepath.Join(homeDir, DefaultConfigDir)
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := Defaults(configDir)
	if configPath != "" {
		cfg.ConfigPath = configPath
	}

	if err := cfg.readFile(); err != nil {
		return nil, err
	}

	// .env never overrides variables already set in the environment.
	for _, envFile := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.Environ()); err != nil {
		return nil, err
	}

	if logPath != "" {
		cfg.LogPath = logPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", c.ConfigPath, err)
	}
	return nil
}

// applyEnv applies REPLYSHIELD_* overrides from environ ("KEY=value").
func (c *Config) applyEnv(environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if name, isFlag := strings.CutPrefix(key, flagEnvPrefix); isFlag {
			if c.Flags == nil {
				c.Flags = map[string]any{}
			}
			c.Flags[strings.ToLower(name)] = value
			continue
		}

		switch strings.TrimPrefix(key, EnvPrefix) {
		case "LOG_LEVEL":
			c.LogLevel = value
		case "LOG_PATH":
			c.LogPath = value
		case "PACKS_DIR":
			c.PacksDir = value
		case "MESSAGES_PATH":
			c.MessagesPath = value
		case "ADDR":
			c.Server.Addr = value
		case "ALLOWED_ORIGINS":
			c.Server.AllowedOrigins = splitList(value)
		case "SESSION_BACKEND":
			c.Session.Backend = value
		case "REDIS_ADDR":
			c.Session.RedisAddr = value
		case "REDIS_PASSWORD":
			c.Session.RedisPassword = value
		case "DATABASE_URL":
			c.Postgres.DSN = value
		case "MAX_CORRECTIONS":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			c.Corrections.MaxAttempts = n
		case "REGENERATE_URL":
			c.Corrections.RegenerateURL = value
		}
	}
	return nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown session backend %q", ErrInvalidConfig, c.Session.Backend)
	}
	if c.Corrections.MaxAttempts < 0 {
		return fmt.Errorf("%w: corrections.max_attempts must not be negative", ErrInvalidConfig)
	}
	if u := c.Corrections.RegenerateURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%w: corrections.regenerate_url must be an http(s) URL", ErrInvalidConfig)
		}
	}
	if _, err := c.FeatureFlags(); err != nil {
		return err
	}
	return nil
}

// FeatureFlags decodes the configured flag map.
func (c *Config) FeatureFlags() (flags.Flags, error) {
	f, err := flags.Decode(c.Flags)
	if err != nil {
		return flags.Flags{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
