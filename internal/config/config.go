package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jobboard/jobboard/internal/search"
)

const (
	PortalLocal  = "local"
	PortalRemote = "remote"

	// JournalOff disables the application journal.
	JournalOff = "off"
)

type Config struct {
	HTTPPort        int           `yaml:"http_port"`
	Debug           bool          `yaml:"debug"`
	LogLevel        string        `yaml:"log_level"`
	JWTSecret       string        `yaml:"jwt_secret"`
	DataDir         string        `yaml:"data_dir"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	QuickTags       []string      `yaml:"quick_tags"`
	JournalPath     string        `yaml:"journal_path"`

	Portal PortalConfig `yaml:"portal"`
	Notion NotionConfig `yaml:"notion"`
}

type PortalConfig struct {
	Mode              string        `yaml:"mode"`
	BaseURL           string        `yaml:"base_url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// Seed is a JSON snapshot imported into the local catalog at startup.
	Seed string `yaml:"seed"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// Load reads defaults, then a .env file in the working directory, then the
// environment, then the YAML file at path when path is not empty.
func Load(path string) (*Config, error) {
	// a missing .env is fine; variables already set win over it
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8000),
		Debug:           getEnvBool("DEBUG", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		DataDir:         getEnv("DATA_DIR", "./data"),
		RefreshInterval: time.Duration(getEnvInt("REFRESH_INTERVAL", 60)) * time.Second,
		QuickTags:       getEnvList("QUICK_TAGS", search.DefaultTags),
		JournalPath:     getEnv("JOURNAL_PATH", ""),
		Portal: PortalConfig{
			Mode:              getEnv("PORTAL_MODE", PortalLocal),
			BaseURL:           getEnv("PORTAL_URL", ""),
			Token:             getEnv("PORTAL_TOKEN", ""),
			Timeout:           time.Duration(getEnvInt("PORTAL_TIMEOUT", 15)) * time.Second,
			RequestsPerSecond: getEnvFloat("PORTAL_RPS", 5),
			Seed:              getEnv("PORTAL_SEED", ""),
		},
		Notion: NotionConfig{
			Token:      getEnv("NOTION_TOKEN", ""),
			DatabaseID: getEnv("NOTION_DB_ID", ""),
		},
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.sqlite")
	}
	cfg.Portal.Mode = strings.ToLower(cfg.Portal.Mode)
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d out of range", c.HTTPPort))
	}
	switch c.Portal.Mode {
	case PortalLocal:
		if c.DataDir == "" {
			errs = append(errs, errors.New("data_dir is required in local portal mode"))
		}
	case PortalRemote:
		if c.Portal.BaseURL == "" {
			errs = append(errs, errors.New("portal.base_url is required in remote portal mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("portal.mode %q: want %s or %s", c.Portal.Mode, PortalLocal, PortalRemote))
	}
	if c.Portal.Timeout < 0 {
		errs = append(errs, errors.New("portal.timeout must not be negative"))
	}
	if c.Portal.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("portal.requests_per_second must not be negative"))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, errors.New("refresh_interval must not be negative"))
	}
	if c.JWTSecret == "" && !c.Debug {
		errs = append(errs, errors.New("jwt_secret is required unless debug is on"))
	}
	if (c.Notion.Token == "") != (c.Notion.DatabaseID == "") {
		errs = append(errs, errors.New("notion.token and notion.database_id must be set together"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SlogLevel maps log_level onto slog. Unknown levels fall back to info;
// Validate reports them.
func (c *Config) SlogLevel() slog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	if c.Debug {
		return slog.LevelDebug
	}
	return lvl
}

func (c *Config) JournalEnabled() bool {
	return c.JournalPath != "" && c.JournalPath != JournalOff
}

func (c *Config) NotionEnabled() bool {
	return c.Notion.Token != "" && c.Notion.DatabaseID != ""
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
