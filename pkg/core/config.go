package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memory engine.
//
// It includes settings for:
//   - Embedding provider (vector generation)
//   - Vector store (memory persistence)
//   - Engine tunables (consolidation, ranking, decay, assembly)
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Engine contains engine tunables. Zero values take defaults.
	Engine EngineConfig `json:"engine"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g. 1536).
	Dimensions int `json:"dimensions,omitempty"`

	// MaxRetries bounds retry attempts per embedding call (default 3).
	MaxRetries int `json:"max_retries,omitempty"`

	// CacheSize is the maximum number of cached embeddings (0 disables
	// the cache).
	CacheSize int64 `json:"cache_size,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: sqlite, postgres, mysql, memory.
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, table_name,
	// embedding_model_dims, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name,
	// embedding_model_dims
	// For memory: embedding_model_dims
	Config map[string]interface{} `json:"config"`
}

// EngineConfig contains tunables for consolidation, ranking, decay,
// eviction, and context assembly. Zero values are replaced with defaults
// by applyDefaults.
type EngineConfig struct {
	// DedupThreshold is the cosine similarity at or above which an
	// ingested memory is merged into its nearest neighbor. Default 0.92.
	DedupThreshold float64 `json:"dedup_threshold,omitempty"`

	// SimilarityWeight, ImportanceWeight, and RecencyWeight are the
	// ranking weights. They must sum to 1. Defaults 0.6 / 0.25 / 0.15.
	SimilarityWeight float64 `json:"similarity_weight,omitempty"`
	ImportanceWeight float64 `json:"importance_weight,omitempty"`
	RecencyWeight    float64 `json:"recency_weight,omitempty"`

	// HalfLife controls recency falloff in ranking. Default 14 days.
	HalfLife time.Duration `json:"half_life,omitempty"`

	// DecayFactor multiplies stale records' importance per decay pass.
	// Default 0.98.
	DecayFactor float64 `json:"decay_factor,omitempty"`

	// DecayFloor is the minimum importance decay can produce. Default 0.01.
	DecayFloor float64 `json:"decay_floor,omitempty"`

	// DecayInterval is the scheduler cadence. Default 1 hour.
	DecayInterval time.Duration `json:"decay_interval,omitempty"`

	// DecayWindow is how long a record may go unaccessed before decaying.
	// Records accessed within the window are also protected from eviction.
	// Default 7 days.
	DecayWindow time.Duration `json:"decay_window,omitempty"`

	// OwnerCap is the maximum live records per owner; the scheduler evicts
	// the lowest-scoring records above it. 0 disables eviction.
	OwnerCap int64 `json:"owner_cap,omitempty"`

	// CandidateCount is how many candidates retrieval considers before
	// ranking. Default 20.
	CandidateCount int `json:"candidate_count,omitempty"`

	// MaxContentLength bounds ingested content, in runes. Default 10000.
	MaxContentLength int `json:"max_content_length,omitempty"`

	// TouchFlushInterval is the coalescing window for async access
	// tracking. Default 100ms.
	TouchFlushInterval time.Duration `json:"touch_flush_interval,omitempty"`
}

// applyDefaults fills zero-valued tunables with their defaults.
func (c *EngineConfig) applyDefaults() {
	if c.DedupThreshold == 0 {
		c.DedupThreshold = 0.92
	}
	if c.SimilarityWeight == 0 && c.ImportanceWeight == 0 && c.RecencyWeight == 0 {
		c.SimilarityWeight = 0.6
		c.ImportanceWeight = 0.25
		c.RecencyWeight = 0.15
	}
	if c.HalfLife == 0 {
		c.HalfLife = 14 * 24 * time.Hour
	}
	if c.DecayFactor == 0 {
		c.DecayFactor = 0.98
	}
	if c.DecayFloor == 0 {
		c.DecayFloor = 0.01
	}
	if c.DecayInterval == 0 {
		c.DecayInterval = time.Hour
	}
	if c.DecayWindow == 0 {
		c.DecayWindow = 7 * 24 * time.Hour
	}
	if c.CandidateCount == 0 {
		c.CandidateCount = 20
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = 10000
	}
	if c.TouchFlushInterval == 0 {
		c.TouchFlushInterval = 100 * time.Millisecond
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql, memory)
//   - SQLITE_PATH, SQLITE_TABLE, SQLITE_EMBEDDING_MODEL_DIMS
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_MODEL_DIMS
//   - SEMMEM_DEDUP_THRESHOLD, SEMMEM_OWNER_CAP, SEMMEM_DECAY_INTERVAL,
//     SEMMEM_MAX_CONTENT_LENGTH
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	vectorStoreConfig := make(map[string]interface{})

	switch provider {
	case "sqlite":
		dims, _ := strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./semmem.db"),
			"table_name":           getEnvOrDefault("SQLITE_TABLE", "memories"),
			"embedding_model_dims": dims,
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "semmem"),
			"table_name":           getEnvOrDefault("POSTGRES_TABLE", "memories"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		dims, _ := strconv.Atoi(getEnvOrDefault("MYSQL_EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":                 port,
			"user":                 getEnvOrDefault("MYSQL_USER", "root"),
			"password":             os.Getenv("MYSQL_PASSWORD"),
			"db_name":              getEnvOrDefault("MYSQL_DATABASE", "semmem"),
			"table_name":           getEnvOrDefault("MYSQL_TABLE", "memories"),
			"embedding_model_dims": dims,
		}
	case "memory":
		dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_MODEL_DIMS", "1536"))

		vectorStoreConfig = map[string]interface{}{
			"embedding_model_dims": dims,
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	if embedderModel == "" {
		embedderModel = "text-embedding-3-small"
	}
	embedderDims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_MODEL_DIMS", "1536"))

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: embedderDims,
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   vectorStoreConfig,
		},
	}

	if v := os.Getenv("SEMMEM_DEDUP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Engine.DedupThreshold = f
		}
	}
	if v := os.Getenv("SEMMEM_OWNER_CAP"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Engine.OwnerCap = n
		}
	}
	if v := os.Getenv("SEMMEM_DECAY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Engine.DecayInterval = d
		}
	}
	if v := os.Getenv("SEMMEM_MAX_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.MaxContentLength = n
		}
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - Embedder provider must be specified
//   - Vector store provider must be specified
//   - Ranking weights, when set, must sum to 1
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if c.VectorStore.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}

	sum := c.Engine.SimilarityWeight + c.Engine.ImportanceWeight + c.Engine.RecencyWeight
	if sum != 0 && (sum < 1-1e-9 || sum > 1+1e-9) {
		return NewEngineError("Validate", ErrInvalidConfig)
	}

	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
