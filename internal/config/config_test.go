package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.RequestTimeout != 30*time.Second {
		t.Errorf("expected llm request timeout 30s, got %v", cfg.LLM.RequestTimeout)
	}
	if cfg.LLM.HealthCheckTimeout != 5*time.Second {
		t.Errorf("expected health check timeout 5s, got %v", cfg.LLM.HealthCheckTimeout)
	}
	if cfg.LLM.Retry.MaxAttempts != 3 {
		t.Errorf("expected llm max attempts 3, got %d", cfg.LLM.Retry.MaxAttempts)
	}
	if cfg.Search.ResultLimit != 20 {
		t.Errorf("expected result limit 20, got %d", cfg.Search.ResultLimit)
	}
	if cfg.Search.CacheTTL != 30*time.Minute {
		t.Errorf("expected cache ttl 30m, got %v", cfg.Search.CacheTTL)
	}
	if cfg.Search.CacheSweep != 10*time.Minute {
		t.Errorf("expected sweep interval 10m, got %v", cfg.Search.CacheSweep)
	}
	if cfg.Search.ModelBreaker.FailureThreshold != 3 {
		t.Errorf("expected breaker threshold 3, got %d", cfg.Search.ModelBreaker.FailureThreshold)
	}
	if cfg.Search.DefaultCuisine != "jewish" {
		t.Errorf("expected default cuisine jewish, got %q", cfg.Search.DefaultCuisine)
	}
	if cfg.Search.HeuristicDefaultIngredient != "chicken" {
		t.Errorf("expected heuristic default 'chicken', got %q", cfg.Search.HeuristicDefaultIngredient)
	}
	if cfg.Elasticsearch.Enabled || cfg.Redis.Enabled || cfg.Kafka.Enabled || cfg.ClickHouse.Enabled {
		t.Error("optional backends should be disabled by default")
	}
	if cfg.Observability.ServiceName != "recipe-search" {
		t.Errorf("expected service name 'recipe-search', got %s", cfg.Observability.ServiceName)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error for default config, got %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.Port = tt.port
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected error for port %d, got nil", tt.port)
			}
		})
	}
}

func TestValidate_EnabledBackendsNeedAddresses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"elasticsearch", func(c *Config) { c.Elasticsearch.Enabled = true; c.Elasticsearch.Addresses = nil }},
		{"redis", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addresses = nil }},
		{"kafka", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"clickhouse", func(c *Config) { c.ClickHouse.Enabled = true; c.ClickHouse.Addresses = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected error for enabled %s without addresses", tt.name)
			}
		})
	}
}

func TestValidate_DisabledBackendsIgnoreAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Elasticsearch.Addresses = nil
	cfg.Redis.Addresses = nil
	cfg.Kafka.Brokers = nil
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidate_LLMAndSearch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }},
		{"empty model", func(c *Config) { c.LLM.Model = "" }},
		{"zero request timeout", func(c *Config) { c.LLM.RequestTimeout = 0 }},
		{"zero llm attempts", func(c *Config) { c.LLM.Retry.MaxAttempts = 0 }},
		{"zero result limit", func(c *Config) { c.Search.ResultLimit = 0 }},
		{"result limit too large", func(c *Config) { c.Search.ResultLimit = 101 }},
		{"zero cache ttl", func(c *Config) { c.Search.CacheTTL = 0 }},
		{"zero sweep", func(c *Config) { c.Search.CacheSweep = 0 }},
		{"zero breaker threshold", func(c *Config) { c.Search.ModelBreaker.FailureThreshold = 0 }},
		{"empty dsn", func(c *Config) { c.Postgres.DSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_ValidFile(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
llm:
  provider: openai
  base_url: "http://localhost:8000/v1"
  model: "qwen2.5"
search:
  result_limit: 10
  default_cuisine: "italian"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "qwen2.5" {
		t.Errorf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.Search.ResultLimit != 10 {
		t.Errorf("expected result limit 10, got %d", cfg.Search.ResultLimit)
	}
	if cfg.Search.DefaultCuisine != "italian" {
		t.Errorf("expected default cuisine italian, got %q", cfg.Search.DefaultCuisine)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	content := `
server:
  port: 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://prod:secret@db:5432/recipes")

	content := `
postgres:
  dsn: "$TEST_PG_DSN"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Postgres.DSN != "postgres://prod:secret@db:5432/recipes" {
		t.Errorf("expected expanded env var, got %s", cfg.Postgres.DSN)
	}
}

func TestLoad_DefaultsPreservedWhenNotOverridden(t *testing.T) {
	content := `
server:
  port: 8080
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Values not specified in YAML should keep defaults
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected default read timeout preserved, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Search.ProteinRelaxThreshold != 5 {
		t.Errorf("expected default relax threshold preserved, got %d", cfg.Search.ProteinRelaxThreshold)
	}
}
