package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Search.K1 != 1.2 {
		t.Errorf("default k1 = %v", cfg.Search.K1)
	}
	if w := cfg.Search.Fields["name"].Weight; w != 4.0 {
		t.Errorf("default name weight = %v", w)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9999
search:
  k1: 0.9
  fields:
    name:
      weight: 10.0
      b: 0.3
redis:
  cacheTTL: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Search.K1 != 0.9 {
		t.Errorf("k1 = %v, want 0.9", cfg.Search.K1)
	}
	if fc := cfg.Search.Fields["name"]; fc.Weight != 10.0 || fc.B != 0.3 {
		t.Errorf("name field = %+v", fc)
	}
	if cfg.Redis.CacheTTL != 2*time.Minute {
		t.Errorf("cacheTTL = %v", cfg.Redis.CacheTTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.Host != "localhost" {
		t.Errorf("postgres host = %q", cfg.Postgres.Host)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PS_SERVER_PORT", "7777")
	t.Setenv("PS_POSTGRES_HOST", "db.internal")
	t.Setenv("PS_KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("host = %q", cfg.Postgres.Host)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestSearchConfigValidate(t *testing.T) {
	valid := func() SearchConfig {
		return SearchConfig{
			K1:           1.2,
			Fields:       map[string]FieldConfig{"name": {Weight: 1, B: 0.5}},
			MaxResults:   100,
			DefaultLimit: 10,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SearchConfig)
	}{
		{"zero k1", func(c *SearchConfig) { c.K1 = 0 }},
		{"negative k1", func(c *SearchConfig) { c.K1 = -1 }},
		{"no fields", func(c *SearchConfig) { c.Fields = nil }},
		{"zero weight", func(c *SearchConfig) { c.Fields["name"] = FieldConfig{Weight: 0, B: 0.5} }},
		{"b above one", func(c *SearchConfig) { c.Fields["name"] = FieldConfig{Weight: 1, B: 1.5} }},
		{"negative b", func(c *SearchConfig) { c.Fields["name"] = FieldConfig{Weight: 1, B: -0.1} }},
		{"negative feature weight", func(c *SearchConfig) { c.FeatureWeights = map[string]float64{"x": -1} }},
		{"zero max results", func(c *SearchConfig) { c.MaxResults = 0 }},
		{"default above max", func(c *SearchConfig) { c.DefaultLimit = 200 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadRejectsInvalidSearchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("search:\n  k1: -3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted negative k1")
	}
}
