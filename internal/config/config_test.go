package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// validConfig returns a Config that passes Validate with the local provider.
func validConfig() *Config {
	return &Config{
		Provider:         ProviderLocal,
		StoreName:        "evidra",
		DataDir:          "/tmp/evidra-test",
		ChunkMaxChars:    1200,
		ChunkOverlap:     200,
		Expansion:        ExpansionNone,
		MaxExtraVariants: 2,
		CandidateFloor:   80,
		MinHitChars:      40,
		MaxHitChars:      2000,
		PerDocumentCap:   3,
		EmbedderModel:    DefaultEmbedderModel,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "evidra",
		PostgresDBName:   "evidra",
		PostgresSSLMode:  "disable",
		Loader: LoaderConfig{
			Parallelism:   2,
			DelayMs:       1000,
			TimeoutMs:     30000,
			RatePerSecond: 4.0,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "qdrant" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty store name",
			mutate:  func(c *Config) { c.StoreName = "" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "overlap equals window",
			mutate:  func(c *Config) { c.ChunkOverlap = c.ChunkMaxChars },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "negative overlap",
			mutate:  func(c *Config) { c.ChunkOverlap = -1 },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "unknown expansion",
			mutate:  func(c *Config) { c.Expansion = "hyde-heavy" },
			wantErr: ErrInvalidExpansion,
		},
		{
			name:    "zero candidate floor",
			mutate:  func(c *Config) { c.CandidateFloor = 0 },
			wantErr: ErrInvalidRetrieval,
		},
		{
			name:    "max below min hit chars",
			mutate:  func(c *Config) { c.MaxHitChars = 10 },
			wantErr: ErrInvalidRetrieval,
		},
		{
			name:    "zero per-document cap",
			mutate:  func(c *Config) { c.PerDocumentCap = 0 },
			wantErr: ErrInvalidRetrieval,
		},
		{
			name:    "vector provider without API key",
			mutate:  func(c *Config) { c.Provider = ProviderVector; c.OpenAIAPIKey = "" },
			wantErr: ErrMissingAPIKey,
		},
		{
			name:    "loader parallelism out of range",
			mutate:  func(c *Config) { c.Loader.Parallelism = 0 },
			wantErr: ErrInvalidLoader,
		},
		{
			name:    "loader rate not positive",
			mutate:  func(c *Config) { c.Loader.RatePerSecond = 0 },
			wantErr: ErrInvalidLoader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Fatalf("Validate on nil = %v, want ErrConfigNil", err)
	}
}

func TestVectorProviderWithKeyValidates(t *testing.T) {
	cfg := validConfig()
	cfg.Provider = ProviderVector
	cfg.OpenAIAPIKey = "sk-test-0123456789"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAIAPIKey = "sk-secret-api-key-value"
	cfg.PostgresPassword = "super-secret-password"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "sk-secret-api-key-value") {
		t.Error("API key leaked into JSON output")
	}
	if strings.Contains(out, "super-secret-password") {
		t.Error("password leaked into JSON output")
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("masked placeholder missing from JSON output")
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "super-secret-password"
	if strings.Contains(cfg.String(), "super-secret-password") {
		t.Error("password leaked into String output")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in       string
		fullMask bool
	}{
		{"", false},
		{"short", true},
		{"a-much-longer-secret-value", true},
	}
	for _, tt := range tests {
		got := maskSecret(tt.in)
		if tt.in == "" {
			if got != "" {
				t.Errorf("maskSecret(%q) = %q, want empty", tt.in, got)
			}
			continue
		}
		if got == tt.in {
			t.Errorf("maskSecret(%q) returned the secret unmasked", tt.in)
		}
		if !strings.Contains(got, maskedValue) {
			t.Errorf("maskSecret(%q) = %q, placeholder missing", tt.in, got)
		}
	}
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "pw"

	dsn := cfg.PostgresConnectionString()
	for _, part := range []string{"host=localhost", "port=5432", "dbname=evidra", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN %q missing %q", dsn, part)
		}
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "pw"

	u := cfg.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") {
		t.Errorf("URL = %q, want postgres:// scheme", u)
	}
	if !strings.Contains(u, "evidra") {
		t.Errorf("URL = %q, missing database name", u)
	}
}
