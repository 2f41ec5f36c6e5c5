// Package config loads operator configuration from an optional YAML file,
// environment variables and a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/resolver"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Extractor kinds.
const (
	ExtractorCommand = "command"
	ExtractorGemini  = "gemini"
	ExtractorCSV     = "csv"
)

// DefaultCategories is used when the config names none.
var DefaultCategories = []string{"Food", "Transport", "Rent", "Utilities", "Subscriptions", "Entertainment", "Other"}

// Config is the operator configuration shared by the api, cli and worker binaries.
type Config struct {
	Categories []string           `yaml:"categories"`
	Budgets    map[string]float64 `yaml:"budgets"`
	Rules      []resolver.Rule    `yaml:"rules"`

	Extractor ExtractorConfig `yaml:"extractor"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Workbook  WorkbookConfig  `yaml:"workbook"`
	Server    ServerConfig    `yaml:"server"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       logger.Config   `yaml:"log"`
}

// ExtractorConfig selects how statements are turned into rows.
type ExtractorConfig struct {
	// Kind is one of command, gemini or csv.
	Kind    string   `yaml:"kind"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ResolverConfig configures the remote category resolver and its throttle.
type ResolverConfig struct {
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	MinDelay time.Duration `yaml:"min_delay"`
}

// WorkbookConfig says where the master workbook lives and which report sheets it gets.
type WorkbookConfig struct {
	// Location is a local path or gs:// URI.
	Location    string `yaml:"location"`
	MonthSheets bool   `yaml:"month_sheets"`
}

// ServerConfig configures the HTTP API and its upload and session storage.
type ServerConfig struct {
	Port       string `yaml:"port"`
	SpoolDir   string `yaml:"spool_dir"`
	SessionDir string `yaml:"session_dir"`
	// AllowedOrigins limits CORS; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WorkerConfig configures scheduled scans of a statement prefix.
type WorkerConfig struct {
	// Prefix is the gs:// prefix or local directory watched for new statements.
	Prefix   string `yaml:"prefix"`
	Schedule string `yaml:"schedule"`
	TimeZone string `yaml:"time_zone"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Categories: slices.Clone(DefaultCategories),
		Extractor: ExtractorConfig{
			Kind:    ExtractorCommand,
			Command: "monopoly",
		},
		Resolver: ResolverConfig{
			Model:    resolver.DefaultModelName,
			MinDelay: 4100 * time.Millisecond,
		},
		Workbook: WorkbookConfig{
			Location: "master_spreadsheet.xlsx",
		},
		Server: ServerConfig{
			Port:       "8080",
			SpoolDir:   "data/uploads",
			SessionDir: "data/sessions",
		},
		Worker: WorkerConfig{
			Schedule: "0 6 * * *",
			TimeZone: "UTC",
		},
		Log: logger.Config{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("Load: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	cfg.Categories = domain.NewCategorySet(cfg.Categories).Strings()
	return cfg, nil
}

// LoadEnvFile loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("LoadEnvFile: %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Workbook.Location = getEnv("LEDGER_WORKBOOK", c.Workbook.Location)
	c.Resolver.Model = getEnv("GEMINI_MODEL", c.Resolver.Model)
	c.Resolver.APIKey = getEnv("GEMINI_API_KEY", c.Resolver.APIKey)
	c.Extractor.Command = getEnv("EXTRACTOR_COMMAND", c.Extractor.Command)
	c.Extractor.Kind = getEnv("EXTRACTOR_KIND", c.Extractor.Kind)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	c.Worker.Prefix = getEnv("WATCH_PREFIX", c.Worker.Prefix)
	c.Worker.Schedule = getEnv("WATCH_SCHEDULE", c.Worker.Schedule)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("RESOLVER_MIN_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RESOLVER_MIN_DELAY: %w", err)
		}
		c.Resolver.MinDelay = d
	}
	if v := os.Getenv("LEDGER_MONTH_SHEETS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEDGER_MONTH_SHEETS: %w", err)
		}
		c.Workbook.MonthSheets = b
	}
	return nil
}

// CategorySet returns the normalized category set.
func (c *Config) CategorySet() domain.CategorySet {
	return domain.NewCategorySet(c.Categories)
}

// BudgetMap converts the configured thresholds to decimals.
func (c *Config) BudgetMap() domain.Budgets {
	b := make(domain.Budgets, len(c.Budgets))
	for name, v := range c.Budgets {
		b[strings.TrimSpace(name)] = decimal.NewFromFloat(v)
	}
	return b
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if len(c.CategorySet()) == 0 {
		errs = append(errs, "at least one category is required")
	}
	for name, v := range c.Budgets {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("invalid budget for %q: %v must not be negative", name, v))
		}
	}
	for i, r := range c.Rules {
		if strings.TrimSpace(r.Keyword) == "" {
			errs = append(errs, fmt.Sprintf("rule %d: keyword cannot be empty", i+1))
		}
	}

	switch c.Extractor.Kind {
	case ExtractorCommand:
		if c.Extractor.Command == "" {
			errs = append(errs, "extractor command cannot be empty when kind is command")
		}
	case ExtractorGemini:
		if c.Resolver.APIKey == "" {
			errs = append(errs, "GEMINI_API_KEY is required when extractor kind is gemini")
		}
	case ExtractorCSV:
	default:
		errs = append(errs, fmt.Sprintf("invalid extractor kind '%s': must be one of %v",
			c.Extractor.Kind, []string{ExtractorCommand, ExtractorGemini, ExtractorCSV}))
	}

	if c.Resolver.MinDelay < 0 {
		errs = append(errs, fmt.Sprintf("invalid resolver min delay %v: must not be negative", c.Resolver.MinDelay))
	}
	if c.Workbook.Location == "" {
		errs = append(errs, "workbook location cannot be empty")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Server.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := cron.ParseStandard(c.Worker.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("invalid worker schedule '%s': %v", c.Worker.Schedule, err))
	}
	if _, err := time.LoadLocation(c.Worker.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid worker time zone '%s': %v", c.Worker.TimeZone, err))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be console or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
