// Package config provides configuration loading for the candidate retrieval engine.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then environment variables. Each section maps to the component that consumes
// it; components take their section by value at construction.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when validation rejects a configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	LLM        LLMConfig        `koanf:"llm"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Search     SearchConfig     `koanf:"search"`
	Temporal   TemporalConfig   `koanf:"temporal"`
	Preference PreferenceConfig `koanf:"preference"`
	Cache      CacheConfig      `koanf:"cache"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds the OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	ServiceName  string  `koanf:"service_name"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// StoreConfig selects and configures the chunk store backend.
type StoreConfig struct {
	Provider  string         `koanf:"provider"` // chromem, postgres, qdrant
	Dimension int            `koanf:"dimension"`
	Chromem   ChromemConfig  `koanf:"chromem"`
	Postgres  PostgresConfig `koanf:"postgres"`
	Qdrant    QdrantConfig   `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem store.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// PostgresConfig configures the pgvector-backed store.
type PostgresConfig struct {
	DSN     Secret `koanf:"dsn"`
	Table   string `koanf:"table"`
	Migrate bool   `koanf:"migrate"`
	Debug   bool   `koanf:"debug"`
}

// QdrantConfig configures the Qdrant store.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	APIKey     Secret `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string   `koanf:"provider"` // tei, openai, ollama, fastembed, hash
	Model      string   `koanf:"model"`
	BaseURL    string   `koanf:"base_url"`
	APIKey     Secret   `koanf:"api_key"`
	CacheDir   string   `koanf:"cache_dir"`
	BatchSize  int      `koanf:"batch_size"`
	BatchDelay Duration `koanf:"batch_delay"`
	Timeout    Duration `koanf:"timeout"`
}

// LLMConfig configures the text-completion service.
type LLMConfig struct {
	Provider      string   `koanf:"provider"` // none, openai, ollama
	Model         string   `koanf:"model"`
	BaseURL       string   `koanf:"base_url"`
	APIKey        Secret   `koanf:"api_key"`
	Temperature   float64  `koanf:"temperature"`
	MaxTokens     int      `koanf:"max_tokens"`
	RatePerMinute int      `koanf:"rate_per_minute"`
	MaxRetries    int      `koanf:"max_retries"`
	Timeout       Duration `koanf:"timeout"`
}

// ChunkingConfig configures the chunking pipeline.
type ChunkingConfig struct {
	TokenBudgets        map[string]int `koanf:"token_budgets"`
	DefaultBudget       int            `koanf:"default_budget"`
	HierarchyMultiplier float64        `koanf:"hierarchy_multiplier"`
	MaxDepth            int            `koanf:"max_depth"`
	ParentAssignment    string         `koanf:"parent_assignment"` // proportional, membership
	StyleSourceTag      string         `koanf:"style_source_tag"`
	OverlapSentences    int            `koanf:"overlap_sentences"`
	RulesFile           string         `koanf:"rules_file"`
}

// BudgetFor returns the token budget for a category.
func (c ChunkingConfig) BudgetFor(category string) int {
	if b, ok := c.TokenBudgets[category]; ok && b > 0 {
		return b
	}
	return c.DefaultBudget
}

// ClassifierConfig configures the category registry and query classifier.
type ClassifierConfig struct {
	RefreshInterval    Duration `koanf:"refresh_interval"`
	SamplesPerCategory int      `koanf:"samples_per_category"`
	SemanticFloor      float64  `koanf:"semantic_floor"`
	StaticWeight       float64  `koanf:"static_weight"`
	DefaultCategories  []string `koanf:"default_categories"`
}

// SearchConfig configures ranking defaults.
type SearchConfig struct {
	DefaultLimit         int      `koanf:"default_limit"`
	MaxLimit             int      `koanf:"max_limit"`
	Threshold            float64  `koanf:"threshold"`
	TagBoost             float64  `koanf:"tag_boost"`
	BasicThresholdFactor float64  `koanf:"basic_threshold_factor"`
	CrossReferenceLimit  int      `koanf:"cross_reference_limit"`
	SettingsFile         string   `koanf:"settings_file"`

	// Level weights are indexed by hierarchy level. Broad weights apply when
	// parent chunks are preferred.
	BroadLevelWeights   []float64 `koanf:"broad_level_weights"`
	FocusedLevelWeights []float64 `koanf:"focused_level_weights"`

	SettingsTTL      Duration `koanf:"settings_ttl"`
	ResponseCacheTTL Duration `koanf:"response_cache_ttl"`
}

// TemporalConfig holds the before/after boost calibration. The values are
// empirically tuned starting points.
type TemporalConfig struct {
	EndsBeforeBoost     float64  `koanf:"ends_before_boost"`
	SameYearEarlyBoost  float64  `koanf:"same_year_early_boost"`
	EarlyMonthCutoff    int      `koanf:"early_month_cutoff"`
	OngoingPenalty      float64  `koanf:"ongoing_penalty"`
	ExtendsPastPenalty  float64  `koanf:"extends_past_penalty"`
	SameYearLatePenalty float64  `koanf:"same_year_late_penalty"`
	MentionPenalty      float64  `koanf:"mention_penalty"`
	RelaxFactor         float64  `koanf:"relax_factor"`
	RelaxFloor          float64  `koanf:"relax_floor"`
	FetchThreshold      float64  `koanf:"fetch_threshold"`
	SupersetFactor      int      `koanf:"superset_factor"`
	ReferenceCacheTTL   Duration `koanf:"reference_cache_ttl"`
}

// PreferenceConfig tunes ranking for preference queries.
type PreferenceConfig struct {
	Boost           float64 `koanf:"boost"`
	ThresholdFloor  float64 `koanf:"threshold_floor"`
	SupplementLimit int     `koanf:"supplement_limit"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Provider      string `koanf:"provider"` // memory, redis
	MaxEntries    int    `koanf:"max_entries"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword Secret `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`

	// MetadataTTL bounds how long extracted chunk and query metadata is reused.
	MetadataTTL Duration `koanf:"metadata_ttl"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9494,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			ServiceName:  "candidate",
			Insecure:     true,
			SamplingRate: 1.0,
		},
		Store: StoreConfig{
			Provider:  "chromem",
			Dimension: 384, // bge-small-en-v1.5
			Chromem: ChromemConfig{
				Path:       "~/.config/candidate/store",
				Compress:   true,
				Collection: "knowledge_chunks",
			},
			Postgres: PostgresConfig{
				Table:   "knowledge_chunks",
				Migrate: true,
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "knowledge_chunks",
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "tei",
			Model:      "BAAI/bge-small-en-v1.5",
			BaseURL:    "http://localhost:8080",
			CacheDir:   "~/.config/candidate/models",
			BatchSize:  10,
			BatchDelay: Duration(100 * time.Millisecond),
			Timeout:    Duration(30 * time.Second),
		},
		LLM: LLMConfig{
			Provider:      "none",
			Model:         "gpt-4o-mini",
			Temperature:   0.1,
			MaxTokens:     500,
			RatePerMinute: 50,
			MaxRetries:    3,
			Timeout:       Duration(60 * time.Second),
		},
		Chunking: ChunkingConfig{
			TokenBudgets: map[string]int{
				"resume":        400,
				"experience":    600,
				"projects":      500,
				"communication": 400,
				"skills":        300,
				"preferences":   300,
			},
			DefaultBudget:       400,
			HierarchyMultiplier: 2.5,
			MaxDepth:            2,
			ParentAssignment:    "proportional",
			StyleSourceTag:      "style-source",
			OverlapSentences:    1,
		},
		Classifier: ClassifierConfig{
			RefreshInterval:    Duration(10 * time.Minute),
			SamplesPerCategory: 5,
			SemanticFloor:      0.2,
			StaticWeight:       0.5,
			DefaultCategories: []string{
				"resume", "experience", "projects", "communication", "skills", "preferences",
			},
		},
		Search: SearchConfig{
			DefaultLimit:         10,
			MaxLimit:             50,
			Threshold:            0.3,
			TagBoost:             0.1,
			BasicThresholdFactor: 0.5,
			CrossReferenceLimit:  5,
			BroadLevelWeights:    []float64{1.0, 1.2, 0.8},
			FocusedLevelWeights:  []float64{1.0, 0.85, 0.7},
			SettingsTTL:          Duration(5 * time.Minute),
			ResponseCacheTTL:     Duration(5 * time.Minute),
		},
		Temporal: TemporalConfig{
			EndsBeforeBoost:     4.0,
			SameYearEarlyBoost:  3.5,
			EarlyMonthCutoff:    6,
			OngoingPenalty:      0.02,
			ExtendsPastPenalty:  0.05,
			SameYearLatePenalty: 0.08,
			MentionPenalty:      0.5,
			RelaxFactor:         0.4,
			RelaxFloor:          0.05,
			FetchThreshold:      0.1,
			SupersetFactor:      2,
			ReferenceCacheTTL:   Duration(10 * time.Minute),
		},
		Preference: PreferenceConfig{
			Boost:           4.0,
			ThresholdFloor:  0.1,
			SupplementLimit: 3,
		},
		Cache: CacheConfig{
			Provider:    "memory",
			MaxEntries:  1000,
			RedisAddr:   "localhost:6379",
			KeyPrefix:   "candidate:",
			MetadataTTL: Duration(24 * time.Hour),
		},
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Store.Provider {
	case "chromem", "postgres", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("store.provider must be chromem, postgres or qdrant, got %q", c.Store.Provider))
	}
	if c.Store.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("store.dimension must be positive"))
	}
	if c.Store.Provider == "postgres" && !c.Store.Postgres.DSN.IsSet() {
		errs = append(errs, fmt.Errorf("store.postgres.dsn is required for the postgres store"))
	}

	switch c.Embeddings.Provider {
	case "tei", "openai", "ollama", "fastembed", "hash":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be tei, openai, ollama, fastembed or hash, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.batch_size must be positive"))
	}

	switch c.LLM.Provider {
	case "none", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be none, openai or ollama, got %q", c.LLM.Provider))
	}

	if c.Chunking.DefaultBudget <= 0 {
		errs = append(errs, fmt.Errorf("chunking.default_budget must be positive"))
	}
	if c.Chunking.HierarchyMultiplier < 1 {
		errs = append(errs, fmt.Errorf("chunking.hierarchy_multiplier must be at least 1"))
	}
	if c.Chunking.MaxDepth < 0 || c.Chunking.MaxDepth > 2 {
		errs = append(errs, fmt.Errorf("chunking.max_depth must be between 0 and 2"))
	}
	switch c.Chunking.ParentAssignment {
	case "proportional", "membership":
	default:
		errs = append(errs, fmt.Errorf("chunking.parent_assignment must be proportional or membership"))
	}

	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		errs = append(errs, fmt.Errorf("search.threshold must be between 0 and 1"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		errs = append(errs, fmt.Errorf("search.default_limit must be positive and not above search.max_limit"))
	}
	if len(c.Search.BroadLevelWeights) != 3 || len(c.Search.FocusedLevelWeights) != 3 {
		errs = append(errs, fmt.Errorf("search level weights need one value per hierarchy level"))
	}
	if c.Temporal.SupersetFactor < 1 {
		errs = append(errs, fmt.Errorf("temporal.superset_factor must be at least 1"))
	}

	switch c.Cache.Provider {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.provider must be memory or redis, got %q", c.Cache.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
