// Package config loads PML's runtime configuration from the PML_* family of
// environment variables, with an optional YAML file supplying workflow
// templates and retrieval weight overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Casys-AI/pml-std-sub000/types"
)

// RetrievalWeights are the cosine/SHGAT mixing weights used by the
// Retriever. They must sum to 1.
type RetrievalWeights struct {
	Cosine float64 `yaml:"cosine"`
	SHGAT  float64 `yaml:"shgat"`
}

// DefaultRetrievalWeights returns the default cosine/SHGAT mix (0.35/0.65).
func DefaultRetrievalWeights() RetrievalWeights {
	return RetrievalWeights{Cosine: 0.35, SHGAT: 0.65}
}

// Validate reports whether the weights are non-negative and sum to 1
// within a small tolerance.
func (w RetrievalWeights) Validate() error {
	if w.Cosine < 0 || w.SHGAT < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if sum := w.Cosine + w.SHGAT; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("retrieval weights must sum to 1, got %f", sum)
	}
	return nil
}

// WorkflowTemplate is a named, YAML-authored workflow skeleton selected by
// the built-in template planner (dag.TemplatePlanner) when an intent
// string contains its Match substring.
type WorkflowTemplate struct {
	Name     string         `yaml:"name"`
	Match    string         `yaml:"match"`
	Workflow types.Workflow `yaml:"workflow"`
}

// FileConfig is the shape of the optional PML_CONFIG_FILE YAML document.
type FileConfig struct {
	RetrievalWeights  *RetrievalWeights  `yaml:"retrieval_weights,omitempty"`
	WorkflowTemplates []WorkflowTemplate `yaml:"workflow_templates,omitempty"`
}

// Config is PML's fully resolved runtime configuration.
type Config struct {
	DBPath            string
	EmbeddingDim      int
	ModelCacheDir     string
	APIKey            string
	MaxConcurrency    int
	RetrievalWeights  RetrievalWeights
	WorkflowTemplates []WorkflowTemplate
}

// Load resolves Config from the environment, applying built-in defaults
// and merging in PML_CONFIG_FILE when set. Unknown PML_* variables are
// ignored (the caller is expected to warn via its logger; Load itself
// returns only parse errors for recognized variables).
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:           os.Getenv("PML_DB_PATH"),
		EmbeddingDim:     1024,
		ModelCacheDir:    os.Getenv("PML_MODEL_CACHE"),
		APIKey:           os.Getenv("PML_API_KEY"),
		MaxConcurrency:   32,
		RetrievalWeights: DefaultRetrievalWeights(),
	}

	if v := os.Getenv("PML_EMBEDDING_DIM"); v != "" {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse PML_EMBEDDING_DIM: %w", err)
		}
		cfg.EmbeddingDim = dim
	}
	if v := os.Getenv("PML_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse PML_MAX_CONCURRENCY: %w", err)
		}
		cfg.MaxConcurrency = n
	}

	if path := os.Getenv("PML_CONFIG_FILE"); path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.RetrievalWeights.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read PML_CONFIG_FILE %q: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse PML_CONFIG_FILE %q: %w", path, err)
	}
	if fc.RetrievalWeights != nil {
		cfg.RetrievalWeights = *fc.RetrievalWeights
	}
	cfg.WorkflowTemplates = fc.WorkflowTemplates
	return nil
}
