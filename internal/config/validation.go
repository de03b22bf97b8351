package config

import (
	"fmt"
	"os"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderLocal, ProviderVector, ProviderCollection:
	default:
		return fmt.Errorf("%w: %q, must be one of: %s, %s, %s",
			ErrInvalidProvider, c.Provider, ProviderLocal, ProviderVector, ProviderCollection)
	}

	if c.StoreName == "" {
		return fmt.Errorf("%w: store_name cannot be empty", ErrInvalidProvider)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", ErrInvalidProvider)
	}

	// Chunk windows must make forward progress: a window larger than the
	// overlap guarantees start advances on every iteration.
	if c.ChunkMaxChars < 1 {
		return fmt.Errorf("%w: chunk_max_chars must be positive, got %d", ErrInvalidChunking, c.ChunkMaxChars)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxChars {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_max_chars), got %d",
			ErrInvalidChunking, c.ChunkOverlap)
	}

	switch c.Expansion {
	case ExpansionNone, ExpansionParaphrase, ExpansionHyde:
	default:
		return fmt.Errorf("%w: %q, must be one of: %s, %s, %s",
			ErrInvalidExpansion, c.Expansion, ExpansionNone, ExpansionParaphrase, ExpansionHyde)
	}

	if c.MaxExtraVariants < 0 || c.MaxExtraVariants > 5 {
		return fmt.Errorf("%w: max_extra_variants must be between 0 and 5, got %d",
			ErrInvalidRetrieval, c.MaxExtraVariants)
	}
	if c.CandidateFloor < 1 {
		return fmt.Errorf("%w: candidate_floor must be positive, got %d",
			ErrInvalidRetrieval, c.CandidateFloor)
	}
	if c.MinHitChars < 0 {
		return fmt.Errorf("%w: min_hit_chars cannot be negative, got %d",
			ErrInvalidRetrieval, c.MinHitChars)
	}
	if c.MaxHitChars < c.MinHitChars || c.MaxHitChars < 1 {
		return fmt.Errorf("%w: max_hit_chars must be >= min_hit_chars and positive, got %d",
			ErrInvalidRetrieval, c.MaxHitChars)
	}
	if c.PerDocumentCap < 1 {
		return fmt.Errorf("%w: per_document_cap must be positive, got %d",
			ErrInvalidRetrieval, c.PerDocumentCap)
	}

	// Provider-specific requirements, checked only for the active provider so
	// the local backend stays usable with zero credentials.
	switch c.Provider {
	case ProviderVector:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for the vector provider",
				ErrMissingAPIKey)
		}
	case ProviderCollection:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for the collection provider",
				ErrMissingAPIKey)
		}
		if c.EmbedderModel == "" {
			return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidPostgres)
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgres)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: port must be between 1 and 65535, got %d",
				ErrInvalidPostgres, c.PostgresPort)
		}
		if c.PostgresDBName == "" {
			return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgres)
		}
	}

	if c.Loader.Parallelism < 1 || c.Loader.Parallelism > 16 {
		return fmt.Errorf("%w: parallelism must be between 1 and 16, got %d",
			ErrInvalidLoader, c.Loader.Parallelism)
	}
	if c.Loader.DelayMs < 0 {
		return fmt.Errorf("%w: delay_ms cannot be negative, got %d", ErrInvalidLoader, c.Loader.DelayMs)
	}
	if c.Loader.TimeoutMs < 1 {
		return fmt.Errorf("%w: timeout_ms must be positive, got %d", ErrInvalidLoader, c.Loader.TimeoutMs)
	}
	if c.Loader.RatePerSecond <= 0 {
		return fmt.Errorf("%w: rate_per_second must be positive, got %.2f",
			ErrInvalidLoader, c.Loader.RatePerSecond)
	}

	return nil
}
