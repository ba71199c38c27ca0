package shelltune

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "joshcarp/llm.go", cfg.Model.ID)
	assert.Equal(t, 512, cfg.Tokenizer.MaxLength)
	assert.Equal(t, 8, cfg.Lora.R)
	assert.Equal(t, float32(16), cfg.Lora.Alpha)
	assert.Equal(t, 0.9, cfg.Dataset.TrainTestSplit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := writeConfig(t, `
dataset:
  path: data/shell.csv
  train_test_split: 0.8
tokenizer:
  max_length: 256
lora:
  r: 16
  lora_alpha: 32
  target_modules:
    - attn_qkv
training:
  num_train_epochs: 5
  per_device_train_batch_size: 8
  sample_instruction: list all files
tracker:
  base_url: https://track.example.com
  project: shell-ft
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, "data/shell.csv", cfg.Dataset.Path)
	assert.Equal(t, 0.8, cfg.Dataset.TrainTestSplit)
	assert.Equal(t, 256, cfg.Tokenizer.MaxLength)
	assert.Equal(t, 16, cfg.Lora.R)
	assert.Equal(t, float32(32), cfg.Lora.Alpha)
	assert.Equal(t, []string{TargetAttnQKV}, cfg.Lora.TargetModules)
	assert.Equal(t, 5, cfg.Training.Epochs)
	assert.Equal(t, 8, cfg.Training.BatchSize)
	assert.Equal(t, "list all files", cfg.Training.SampleInstruction)
	assert.Equal(t, "https://track.example.com", cfg.Tracker.BaseURL)
	assert.Equal(t, "shell-ft", cfg.Tracker.Project)

	// Untouched sections keep their defaults.
	assert.Equal(t, "joshcarp/llm.go", cfg.Model.ID)
	assert.Equal(t, float32(2e-4), cfg.Training.LearningRate)
	assert.Equal(t, "instruction", cfg.Dataset.InstructionColumn)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "bad yaml", contents: "lora: ["},
		{name: "negative rank", contents: "lora:\n  r: -1\n"},
		{name: "tiny max length", contents: "tokenizer:\n  max_length: 1\n"},
		{name: "split above one", contents: "dataset:\n  train_test_split: 1.5\n"},
		{name: "zero epochs", contents: "training:\n  num_train_epochs: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.contents))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
