package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config конфигурация сервера.
// Источники применяются по порядку: значения по умолчанию, YAML-файл,
// .env и переменные окружения, флаги командной строки.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Sync      SyncConfig      `yaml:"sync"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Admin     AdminConfig     `yaml:"admin"`

	// ShowVersion задается только флагом -version
	ShowVersion bool `yaml:"-"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

type SyncConfig struct {
	Workers      int `yaml:"workers"`
	MaxBatchSize int `yaml:"max_batch_size"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig учетная запись администратора, создаваемая при старте, если ее еще нет
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "learnsync.db",
		},
		JWT: JWTConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Sync: SyncConfig{
			Workers:      8,
			MaxBatchSize: 500,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load собирает конфигурацию из всех источников.
// args - аргументы командной строки без имени программы.
func Load(args []string) (*Config, error) {
	cfg := Default()

	flagSet := flag.NewFlagSet("learnsync-server", flag.ContinueOnError)
	configPath := flagSet.String("config", os.Getenv("LEARNSYNC_CONFIG"), "path to YAML config file")
	envFile := flagSet.String("env-file", ".env", "path to .env file")
	showVersion := flagSet.Bool("version", false, "show version information")

	// Флаги регистрируются на копии, чтобы отличить явно заданные значения
	flags := *cfg
	flagSet.StringVar(&flags.Server.Addr, "addr", flags.Server.Addr, "HTTP listen address")
	flagSet.StringVar(&flags.Database.Path, "db", flags.Database.Path, "SQLite database path")
	flagSet.StringVar(&flags.JWT.Secret, "jwt-secret", flags.JWT.Secret, "JWT signing secret")
	flagSet.IntVar(&flags.Sync.Workers, "workers", flags.Sync.Workers, "entities reconciled in parallel")
	flagSet.IntVar(&flags.Sync.MaxBatchSize, "max-batch-size", flags.Sync.MaxBatchSize, "max mutations per sync request")
	flagSet.StringVar(&flags.Logging.Level, "log-level", flags.Logging.Level, "log level: debug, info, warn, error")
	flagSet.StringVar(&flags.Logging.Format, "log-format", flags.Logging.Format, "log format: json or text")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		cfg.ShowVersion = true
		return cfg, nil
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = flags.Server.Addr
		case "db":
			cfg.Database.Path = flags.Database.Path
		case "jwt-secret":
			cfg.JWT.Secret = flags.JWT.Secret
		case "workers":
			cfg.Sync.Workers = flags.Sync.Workers
		case "max-batch-size":
			cfg.Sync.MaxBatchSize = flags.Sync.MaxBatchSize
		case "log-level":
			cfg.Logging.Level = flags.Logging.Level
		case "log-format":
			cfg.Logging.Format = flags.Logging.Format
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Server.Addr, "LEARNSYNC_ADDR")
	setString(&c.Database.Path, "LEARNSYNC_DB_PATH")
	setString(&c.JWT.Secret, "LEARNSYNC_JWT_SECRET")
	setString(&c.Logging.Level, "LEARNSYNC_LOG_LEVEL")
	setString(&c.Logging.Format, "LEARNSYNC_LOG_FORMAT")
	setString(&c.Admin.Username, "LEARNSYNC_ADMIN_USERNAME")
	setString(&c.Admin.Password, "LEARNSYNC_ADMIN_PASSWORD")

	var errs []error
	errs = append(errs,
		setDuration(&c.JWT.AccessTokenTTL, "LEARNSYNC_ACCESS_TOKEN_TTL"),
		setDuration(&c.JWT.RefreshTokenTTL, "LEARNSYNC_REFRESH_TOKEN_TTL"),
		setDuration(&c.RateLimit.Window, "LEARNSYNC_RATE_LIMIT_WINDOW"),
		setDuration(&c.Server.ShutdownTimeout, "LEARNSYNC_SHUTDOWN_TIMEOUT"),
		setInt(&c.Sync.Workers, "LEARNSYNC_WORKERS"),
		setInt(&c.Sync.MaxBatchSize, "LEARNSYNC_MAX_BATCH_SIZE"),
		setInt(&c.RateLimit.Requests, "LEARNSYNC_RATE_LIMIT_REQUESTS"),
	)
	return errors.Join(errs...)
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Sync.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max batch size must be positive"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("admin username and password must be set together"))
	}
	return errors.Join(errs...)
}

// SlogLevel переводит уровень логирования в slog.Level
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", l.Level)
	}
	return level, nil
}

// NewLogger создает логгер согласно настройкам
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
