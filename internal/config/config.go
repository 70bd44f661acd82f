// Package config loads the process-wide configuration: the database DSN,
// per-source schema bindings, candidate-type frequency weights, and the
// normalisation tables used by the pipeline's pure functions.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// Config holds all configuration settings for a build process.
type Config struct {
	Storage       StorageConfig                `yaml:"storage"`
	Sources       map[string]SourceConfig      `yaml:"sources"`
	Weights       map[string]float64           `yaml:"weights"`
	Normalisation NormalisationConfig          `yaml:"normalisation"`
	Batch         BatchConfig                  `yaml:"batch"`
}

// StorageConfig selects the target database.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SourceConfig binds logical field names for one ingest source to the
// physical keys present in its raw rows (C2).
type SourceConfig struct {
	FieldMap       map[string]string `yaml:"field_map"`
	RequiredFields []string          `yaml:"required_fields"`
}

// NormalisationConfig configures C1's pure normalisation primitives.
type NormalisationConfig struct {
	AliasMap          map[string]string `yaml:"alias_map"`
	StripPunctuation  string            `yaml:"strip_punctuation"`
}

// BatchConfig controls the streaming batch sizes used throughout §5.
type BatchConfig struct {
	CursorBatchSize  int     `yaml:"cursor_batch_size"`
	StageFlushSize   int     `yaml:"stage_flush_size"`
	CursorReadRPS    float64 `yaml:"cursor_read_rps"`
}

// CanonicalCandidateTypes are the eight fixed candidate-type tags the
// finaliser's weight table must cover exactly (§4.7).
var CanonicalCandidateTypes = []string{
	"names_postcode_feature",
	"oli_toid_usrn",
	"uprn_usrn",
	"spatial_os_open_roads",
	"osni_gazetteer_direct",
	"spatial_dfi_highway",
	"ppd_parse_matched",
	"ppd_parse_unmatched",
}

// DefaultStripPunctuation is the punctuation set street_casefold deletes
// when no override is configured (§4.1).
const DefaultStripPunctuation = ".,'-"

// Default returns a configuration with sane, empty-database defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{},
		Sources: map[string]SourceConfig{},
		Weights: map[string]float64{},
		Normalisation: NormalisationConfig{
			AliasMap:         map[string]string{},
			StripPunctuation: DefaultStripPunctuation,
		},
		Batch: BatchConfig{
			CursorBatchSize: 5000,
			StageFlushSize:  5000,
			CursorReadRPS:   0, // 0 = unlimited
		},
	}
}

// Load reads configuration from path (or the standard search locations when
// path is empty), overlays environment variables, and validates the result.
// The returned Config is immutable in spirit: callers should load it once
// per process and pass it down, per §4.1's "loaded once and memoised".
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("batch", cfg.Batch)

	v.SetEnvPrefix("REFBUILD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("refbuild")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".refbuild"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper lower-cases every key it reads; alias keys are upper-case tokens.
	aliases := make(map[string]string, len(cfg.Normalisation.AliasMap))
	for k, val := range cfg.Normalisation.AliasMap {
		aliases[strings.ToUpper(k)] = val
	}
	cfg.Normalisation.AliasMap = aliases

	applyEnvOverrides(cfg)

	if cfg.Normalisation.StripPunctuation == "" {
		cfg.Normalisation.StripPunctuation = DefaultStripPunctuation
	}
	if cfg.Batch.CursorBatchSize <= 0 {
		cfg.Batch.CursorBatchSize = 5000
	}
	if cfg.Batch.StageFlushSize <= 0 {
		cfg.Batch.StageFlushSize = 5000
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConcurrent loads the three logical configuration documents (source
// schema, weights, normalisation) in parallel when they live in separate
// files, using errgroup the way the teacher's ingestion orchestrator fans
// out independent work. Most deployments keep all three in a single YAML
// document and should call Load instead; this is for the split-file case.
func LoadConcurrent(sourcesPath, weightsPath, normPath string) (*Config, error) {
	cfg := Default()

	var g errgroup.Group
	g.Go(func() error {
		if sourcesPath == "" {
			return nil
		}
		v := viper.New()
		v.SetConfigFile(sourcesPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read sources config: %w", err)
		}
		return v.Unmarshal(&struct {
			Sources map[string]SourceConfig `mapstructure:"sources"`
		}{cfg.Sources})
	})
	g.Go(func() error {
		if weightsPath == "" {
			return nil
		}
		v := viper.New()
		v.SetConfigFile(weightsPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read weights config: %w", err)
		}
		return v.UnmarshalKey("weights", &cfg.Weights)
	})
	g.Go(func() error {
		if normPath == "" {
			return nil
		}
		v := viper.New()
		v.SetConfigFile(normPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read normalisation config: %w", err)
		}
		return v.UnmarshalKey("normalisation", &cfg.Normalisation)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cfg, Validate(cfg)
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("REFBUILD_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" && cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = dsn
	}
}

// SortedSourceNames returns the configured source names in a deterministic
// order, useful for logging and for iterating Pass 0b in a stable sequence.
func (c *Config) SortedSourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
