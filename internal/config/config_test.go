package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/statement-ledger/internal/resolver"
	"github.com/shopspring/decimal"
)

var envKeys = []string{
	"LEDGER_WORKBOOK", "GEMINI_MODEL", "GEMINI_API_KEY", "EXTRACTOR_COMMAND", "EXTRACTOR_KIND",
	"RESOLVER_MIN_DELAY", "PORT", "WATCH_PREFIX", "WATCH_SCHEDULE", "LOG_LEVEL", "LEDGER_MONTH_SHEETS",
	"CORS_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !slices.Equal(cfg.Categories, DefaultCategories) {
		t.Errorf("Categories = %v, want %v", cfg.Categories, DefaultCategories)
	}
	if cfg.Extractor.Kind != ExtractorCommand || cfg.Extractor.Command != "monopoly" {
		t.Errorf("Extractor = %+v", cfg.Extractor)
	}
	if cfg.Resolver.Model != resolver.DefaultModelName {
		t.Errorf("Resolver.Model = %q", cfg.Resolver.Model)
	}
	if cfg.Resolver.MinDelay != 4100*time.Millisecond {
		t.Errorf("Resolver.MinDelay = %v, want 4.1s", cfg.Resolver.MinDelay)
	}
	if cfg.Workbook.Location != "master_spreadsheet.xlsx" {
		t.Errorf("Workbook.Location = %q", cfg.Workbook.Location)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "ledger.yaml", `
categories: [Groceries, " Rent ", Groceries, "", Other]
budgets:
  Rent: 1000
  Groceries: 250.5
rules:
  - keyword: tesco
    category: Groceries
extractor:
  kind: csv
resolver:
  min_delay: 2s
workbook:
  location: gs://bucket/ledger.xlsx
  month_sheets: true
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := []string{"Groceries", "Rent", "Other"}; !slices.Equal(cfg.Categories, want) {
		t.Errorf("Categories = %v, want %v", cfg.Categories, want)
	}
	budgets := cfg.BudgetMap()
	if !budgets["Groceries"].Equal(decimal.RequireFromString("250.5")) || !budgets["Rent"].Equal(decimal.NewFromInt(1000)) {
		t.Errorf("BudgetMap() = %v", budgets)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0] != (resolver.Rule{Keyword: "tesco", Category: "Groceries"}) {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if cfg.Extractor.Kind != ExtractorCSV || cfg.Extractor.Command != "monopoly" {
		t.Errorf("Extractor = %+v, want csv kind with default command kept", cfg.Extractor)
	}
	if cfg.Resolver.MinDelay != 2*time.Second || cfg.Resolver.Model != resolver.DefaultModelName {
		t.Errorf("Resolver = %+v", cfg.Resolver)
	}
	if !cfg.Workbook.MonthSheets || cfg.Workbook.Location != "gs://bucket/ledger.xlsx" {
		t.Errorf("Workbook = %+v", cfg.Workbook)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "ledger.yaml", "workbook:\n  location: from-file.xlsx\nserver:\n  port: \"9000\"\n")
	t.Setenv("LEDGER_WORKBOOK", "from-env.xlsx")
	t.Setenv("RESOLVER_MIN_DELAY", "250ms")
	t.Setenv("LEDGER_MONTH_SHEETS", "true")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workbook.Location != "from-env.xlsx" {
		t.Errorf("Workbook.Location = %q, want env value", cfg.Workbook.Location)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Server.Port = %q, want file value", cfg.Server.Port)
	}
	if cfg.Resolver.MinDelay != 250*time.Millisecond || cfg.Resolver.APIKey != "secret" {
		t.Errorf("Resolver = %+v", cfg.Resolver)
	}
	if !cfg.Workbook.MonthSheets {
		t.Error("Workbook.MonthSheets = false, want true from env")
	}
	if got := strings.Join(cfg.Server.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("Server.AllowedOrigins = %q", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		env  map[string]string
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
		},
		{
			name: "bad yaml",
			path: func(t *testing.T) string { return writeFile(t, "bad.yaml", "categories: [unterminated") },
		},
		{
			name: "bad delay env",
			path: func(t *testing.T) string { return "" },
			env:  map[string]string{"RESOLVER_MIN_DELAY": "soon"},
		},
		{
			name: "bad month sheets env",
			path: func(t *testing.T) string { return "" },
			env:  map[string]string{"LEDGER_MONTH_SHEETS": "maybe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tt.path(t)); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name: "collects every problem",
			mutate: func(c *Config) {
				c.Categories = []string{" ", ""}
				c.Server.Port = "http"
				c.Worker.Schedule = "every tuesday"
				c.Workbook.Location = ""
			},
			wantErr: []string{"at least one category", "invalid port 'http'", "invalid worker schedule", "workbook location"},
		},
		{
			name:    "gemini extractor needs key",
			mutate:  func(c *Config) { c.Extractor.Kind = ExtractorGemini },
			wantErr: []string{"GEMINI_API_KEY is required"},
		},
		{
			name:    "unknown extractor",
			mutate:  func(c *Config) { c.Extractor.Kind = "ocr" },
			wantErr: []string{"invalid extractor kind 'ocr'"},
		},
		{
			name:    "negative budget and delay",
			mutate:  func(c *Config) { c.Budgets = map[string]float64{"Rent": -1}; c.Resolver.MinDelay = -time.Second },
			wantErr: []string{`invalid budget for "Rent"`, "invalid resolver min delay"},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = "70000" },
			wantErr: []string{"must be between 1 and 65535"},
		},
		{
			name:    "empty rule keyword",
			mutate:  func(c *Config) { c.Rules = []resolver.Rule{{Keyword: " ", Category: "Food"}} },
			wantErr: []string{"rule 1: keyword cannot be empty"},
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: []string{"invalid log format 'xml'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			if !strings.HasPrefix(err.Error(), "configuration validation failed:") {
				t.Errorf("error = %q, want validation prefix", err)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "test.env", "WATCH_PREFIX=gs://bucket/statements/\nPORT=9090\n")
	t.Setenv("PORT", "7000")
	os.Unsetenv("PORT")
	t.Setenv("WATCH_PREFIX", "")
	os.Unsetenv("WATCH_PREFIX")

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("WATCH_PREFIX"); got != "gs://bucket/statements/" {
		t.Errorf("WATCH_PREFIX = %q", got)
	}
	if got := os.Getenv("PORT"); got != "9090" {
		t.Errorf("PORT = %q", got)
	}
}
