// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.evidra/config.yaml, or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Provider: which retrieval backend is active (local, vector, collection)
//   - Storage: data directory for the ledger and local index, PostgreSQL
//     connection for the collection backend (see storage.go)
//   - Retrieval: query expansion mode and hygiene limits
//   - Loader: fetch parallelism, politeness delay and timeout
//   - Telemetry: OTLP trace export
//
// Security: secrets are masked in MarshalJSON/String; config directory is
// created with 0750 permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the retrieval provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidExpansion indicates the query expansion mode is unknown.
	ErrInvalidExpansion = errors.New("invalid expansion mode")

	// ErrInvalidChunking indicates the chunk window parameters are unusable.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates a retrieval hygiene limit is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameter")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidPostgres indicates the PostgreSQL connection settings are unusable.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidLoader indicates a document loader limit is out of range.
	ErrInvalidLoader = errors.New("invalid loader parameter")
)

// Retrieval provider identifiers used in Config.Provider.
const (
	// ProviderLocal keeps everything on disk: ledger plus lexical chunk index.
	ProviderLocal = "local"

	// ProviderVector uploads files to the remote vector-store service
	// (file upload, then attach to a vector store).
	ProviderVector = "vector"

	// ProviderCollection chunks, embeds and stores records in the remote
	// document-collection service (PostgreSQL + pgvector).
	ProviderCollection = "collection"
)

// Query expansion modes used in Config.Expansion.
const (
	ExpansionNone       = "none"
	ExpansionParaphrase = "paraphrase-lite"
	ExpansionHyde       = "hyde-lite"
)

// DefaultEmbedderModel is the default Gemini embedder model used by the
// collection backend. gemini-embedding-001 supports truncation to 768
// dimensions, matching the pgvector schema in db/migrations.
const DefaultEmbedderModel = "gemini-embedding-001"

// LoaderConfig bounds the document loader's network behavior.
type LoaderConfig struct {
	// Parallelism is the maximum concurrent fetches per domain.
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is the per-domain politeness delay between requests.
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is the per-request timeout.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// RatePerSecond caps the global request rate across all domains.
	RatePerSecond float64 `mapstructure:"rate_per_second" json:"rate_per_second"`
}

// TelemetryConfig configures OTLP trace export. Export is disabled when
// Endpoint is empty.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Provider selects the active retrieval backend.
	Provider string `mapstructure:"provider" json:"provider"`

	// StoreName is the destination collection / vector store name.
	StoreName string `mapstructure:"store_name" json:"store_name"`

	// DataDir holds the ledger, the local chunk index and fetched documents.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Chunking parameters shared by the local and collection backends.
	ChunkMaxChars int `mapstructure:"chunk_max_chars" json:"chunk_max_chars"`
	ChunkOverlap  int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration.
	Expansion        string `mapstructure:"expansion" json:"expansion"`
	MaxExtraVariants int    `mapstructure:"max_extra_variants" json:"max_extra_variants"`
	CandidateFloor   int    `mapstructure:"candidate_floor" json:"candidate_floor"`
	MinHitChars      int    `mapstructure:"min_hit_chars" json:"min_hit_chars"`
	MaxHitChars      int    `mapstructure:"max_hit_chars" json:"max_hit_chars"`
	PerDocumentCap   int    `mapstructure:"per_document_cap" json:"per_document_cap"`

	// Embedder model for the collection backend.
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// OpenAIAPIKey authenticates the vector backend. SENSITIVE: masked in MarshalJSON.
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"`

	// Storage configuration for the collection backend (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Loader and telemetry sub-configurations.
	Loader    LoaderConfig    `mapstructure:"loader" json:"loader"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".evidra")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("provider", ProviderLocal)
	v.SetDefault("store_name", "evidra")
	v.SetDefault("data_dir", filepath.Join(configDir, "data"))

	v.SetDefault("chunk_max_chars", 1200)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("expansion", ExpansionNone)
	v.SetDefault("max_extra_variants", 2)
	v.SetDefault("candidate_floor", 80)
	v.SetDefault("min_hit_chars", 40)
	v.SetDefault("max_hit_chars", 2000)
	v.SetDefault("per_document_cap", 3)

	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "evidra")
	v.SetDefault("postgres_password", "evidra_dev_password")
	v.SetDefault("postgres_db_name", "evidra")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("loader.parallelism", 2)
	v.SetDefault("loader.delay_ms", 1000)
	v.SetDefault("loader.timeout_ms", 30000)
	v.SetDefault("loader.rate_per_second", 4.0)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.environment", "dev")
	v.SetDefault("telemetry.service_name", "evidra")
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a failure here is a bug, hence the panic.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "EVIDRA_PROVIDER")
	mustBind("store_name", "EVIDRA_STORE_NAME")
	mustBind("data_dir", "EVIDRA_DATA_DIR")
	mustBind("expansion", "EVIDRA_EXPANSION")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by the Genkit googlegenai plugin,
	// not via viper. Validate() checks its presence for the collection provider.
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are masked
// entirely; longer ones keep two characters of each end for debuggability.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new secrets, update this method; the config tests will remind you.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
