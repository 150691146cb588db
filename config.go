package lexgraph

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the LexGraph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.lexgraph/<DBName>.db
	DBPath string `json:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "lexgraph".
	DBName string `json:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. Options: "home" (default) uses ~/.lexgraph/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir"`

	// SchemaPath optionally points at a JSON schema file. Empty means the
	// built-in contract schema.
	SchemaPath string `json:"schema_path"`

	// LLM providers
	Chat      LLMConfig `json:"chat"`
	Embedding LLMConfig `json:"embedding"`

	// TranslateRetries is the retry budget for query translation after the
	// first attempt. Zero means the default of 2; negative disables retries.
	TranslateRetries int `json:"translate_retries"`

	// Semantic search
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`

	// EmbeddingDim must match the embedding model's output size.
	EmbeddingDim int `json:"embedding_dim"`

	// EmbedPoolSize bounds concurrent embedding batches during ingestion.
	EmbedPoolSize int `json:"embed_pool_size"`

	// OperationTimeout bounds each engine operation, in seconds.
	// Zero means no per-operation deadline.
	OperationTimeout int `json:"operation_timeout"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider"` // ollama, openai, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.lexgraph/lexgraph.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "lexgraph",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		TopK:         3,
		EmbeddingDim: 1536,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "lexgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".lexgraph", name+".db")
	}
}

// resolveTranslateRetries maps the config encoding to the translator's value.
func (c *Config) resolveTranslateRetries() int {
	switch {
	case c.TranslateRetries < 0:
		return 0
	case c.TranslateRetries == 0:
		return -1 // translator default
	default:
		return c.TranslateRetries
	}
}
