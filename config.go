package shelltune

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the full run configuration, loadable from a YAML file. Zero-value
// sections fall back to defaults.
type Config struct {
	Model     ModelSource       `yaml:"model"`
	Dataset   DatasetConfig     `yaml:"dataset"`
	Tokenizer TokenizerParams   `yaml:"tokenizer"`
	Lora      AdapterConfig     `yaml:"lora"`
	Training  TrainingArguments `yaml:"training"`
	Tracker   TrackerConfig     `yaml:"tracker"`
}

// TokenizerParams configure the fixed-length tokenization of training rows.
type TokenizerParams struct {
	MaxLength int `yaml:"max_length"`
}

// DefaultConfig returns the configuration of the shell suggestion fine-tune.
func DefaultConfig() Config {
	return Config{
		Model:     DefaultModelSource(),
		Dataset:   DefaultDatasetConfig(),
		Tokenizer: TokenizerParams{MaxLength: 512},
		Lora:      DefaultAdapterConfig(),
		Training:  DefaultTrainingArguments(),
		Tracker:   TrackerConfig{Project: "shelltune"},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the sections that have invariants of their own.
func (c Config) Validate() error {
	if c.Tokenizer.MaxLength < 2 {
		return fmt.Errorf("tokenizer max_length must be at least 2, got %d", c.Tokenizer.MaxLength)
	}
	if c.Dataset.TrainTestSplit <= 0 || c.Dataset.TrainTestSplit > 1 {
		return fmt.Errorf("train_test_split must be in (0, 1], got %v", c.Dataset.TrainTestSplit)
	}
	if err := c.Lora.Validate(); err != nil {
		return fmt.Errorf("lora config: %w", err)
	}
	return c.Training.Validate()
}
