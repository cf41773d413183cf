package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Printers   PrintersConfig   `yaml:"printers"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Orders     OrdersConfig     `yaml:"orders"`
	Report     ReportConfig     `yaml:"report"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type ArchiveConfig struct {
	Path     string        `yaml:"path"`
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

type PrintersConfig struct {
	Driver        string        `yaml:"driver"`
	StatusTimeout time.Duration `yaml:"status_timeout"`
	LPPath        string        `yaml:"lp_path"`
	LPStatPath    string        `yaml:"lpstat_path"`
	RawPort       int           `yaml:"raw_port"`
}

type DispatcherConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	DriverTimeout time.Duration `yaml:"driver_timeout"`
}

type OrdersConfig struct {
	Source          string        `yaml:"source"`
	APIURL          string        `yaml:"api_url"`
	Token           string        `yaml:"token"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	FilesRoot       string        `yaml:"files_root"`
	FileName        string        `yaml:"file_name"`
	DefaultPriority int           `yaml:"default_priority"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type WebhookTarget struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type ReportConfig struct {
	WorkbookPath      string          `yaml:"workbook_path"`
	QueueSize         int             `yaml:"queue_size"`
	Webhooks          []WebhookTarget `yaml:"webhooks"`
	WebhookRetryCount int             `yaml:"webhook_retry_count"`
	WebhookRetryDelay time.Duration   `yaml:"webhook_retry_delay"`
	WebhookTimeout    time.Duration   `yaml:"webhook_timeout"`
	WebhookWorkers    int             `yaml:"webhook_workers"`
}

type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "./data/printq.db",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "printq:",
		},
		Archive: ArchiveConfig{
			Path:     "./data/archives",
			Days:     30,
			Interval: 24 * time.Hour,
		},
		Printers: PrintersConfig{
			Driver:        "cups",
			StatusTimeout: 10 * time.Second,
			LPPath:        "lp",
			LPStatPath:    "lpstat",
			RawPort:       9100,
		},
		Dispatcher: DispatcherConfig{
			CheckInterval: 5 * time.Second,
			PollInterval:  3 * time.Second,
			WaitTimeout:   60 * time.Second,
			DriverTimeout: 10 * time.Second,
		},
		Orders: OrdersConfig{
			Source:          "none",
			APIURL:          "https://marketplace-api-sandbox.wildberries.ru",
			PollInterval:    0,
			FilesRoot:       "./for_print",
			FileName:        "ПЕЧАТЬ.png",
			DefaultPriority: 1,
			RequestTimeout:  30 * time.Second,
		},
		Report: ReportConfig{
			WorkbookPath:      "",
			QueueSize:         256,
			WebhookRetryCount: 3,
			WebhookRetryDelay: 5 * time.Second,
			WebhookTimeout:    10 * time.Second,
			WebhookWorkers:    2,
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at configPath over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PRINTQ_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTQ_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}

	if v := os.Getenv("PRINTQ_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv("PRINTQ_REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}

	if v := os.Getenv("PRINTQ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PRINTQ_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("PRINTQ_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := os.Getenv("PRINTQ_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Auth.PasswordHash = v
	}

	if v := os.Getenv("WB_TOKEN"); v != "" {
		cfg.Orders.Token = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (valid: memory, sqlite, redis)", c.Store.Driver)
	}

	if c.Archive.Days < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if c.Archive.Interval < 0 {
		return fmt.Errorf("archive interval must be non-negative")
	}

	switch c.Printers.Driver {
	case "cups", "raw":
	default:
		return fmt.Errorf("invalid printer driver: %s (valid: cups, raw)", c.Printers.Driver)
	}

	if c.Printers.StatusTimeout < 0 {
		return fmt.Errorf("printer status timeout must be non-negative")
	}

	if c.Printers.RawPort < 0 || c.Printers.RawPort > 65535 {
		return fmt.Errorf("raw printer port must be between 0 and 65535, got %d", c.Printers.RawPort)
	}

	if c.Dispatcher.CheckInterval <= 0 {
		return fmt.Errorf("dispatcher check interval must be positive")
	}

	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("dispatcher poll interval must be positive")
	}

	if c.Dispatcher.WaitTimeout < c.Dispatcher.PollInterval {
		return fmt.Errorf("dispatcher wait timeout must be at least the poll interval")
	}

	if c.Dispatcher.DriverTimeout <= 0 {
		return fmt.Errorf("dispatcher driver timeout must be positive")
	}

	switch c.Orders.Source {
	case "none", "wildberries":
	default:
		return fmt.Errorf("invalid order source: %s (valid: none, wildberries)", c.Orders.Source)
	}

	if c.Orders.PollInterval < 0 {
		return fmt.Errorf("order poll interval must be non-negative")
	}

	if c.Orders.FileName == "" {
		return fmt.Errorf("order file name is required")
	}

	if c.Report.QueueSize < 1 {
		return fmt.Errorf("report queue size must be at least 1")
	}

	for i, w := range c.Report.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("report webhook %d has no url", i)
		}
	}

	if c.Auth.Enabled && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth is enabled but no password hash is configured")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
