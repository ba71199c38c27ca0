package shelltune

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/samber/lo"
)

// DatasetConfig selects the CSV columns and preprocessing for the
// instruction/output dataset.
type DatasetConfig struct {
	Path              string  `yaml:"path"`
	InstructionColumn string  `yaml:"instruction_column"`
	ResponseColumn    string  `yaml:"response_column"`
	Shuffle           bool    `yaml:"shuffle_dataset"`
	ShuffleSeed       int64   `yaml:"shuffle_seed"`
	TrainTestSplit    float64 `yaml:"train_test_split"`
}

// DefaultDatasetConfig returns the column names and split used by the shell
// suggestion dataset.
func DefaultDatasetConfig() DatasetConfig {
	return DatasetConfig{
		Path:              "dataset.csv",
		InstructionColumn: "instruction",
		ResponseColumn:    "output",
		Shuffle:           true,
		ShuffleSeed:       42,
		TrainTestSplit:    0.9,
	}
}

// Example is one labeled row: a natural-language instruction and the shell
// script it should produce. Immutable once loaded.
type Example struct {
	Instruction string
	Output      string
}

// Dataset is an in-memory list of examples.
type Dataset struct {
	Examples []Example
}

// LoadDataset reads a CSV file with a header row. The instruction and
// response columns are located by name from the config.
func LoadDataset(cfg DatasetConfig) (*Dataset, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing dataset csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("dataset %s has no rows", cfg.Path)
	}
	header := lo.Map(records[0], func(col string, _ int) string {
		return strings.TrimSpace(col)
	})
	instrIdx := lo.IndexOf(header, cfg.InstructionColumn)
	outIdx := lo.IndexOf(header, cfg.ResponseColumn)
	if instrIdx < 0 || outIdx < 0 {
		return nil, fmt.Errorf("dataset %s is missing column %q or %q (header: %v)",
			cfg.Path, cfg.InstructionColumn, cfg.ResponseColumn, header)
	}
	examples := lo.Map(records[1:], func(row []string, _ int) Example {
		return Example{Instruction: row[instrIdx], Output: row[outIdx]}
	})
	return &Dataset{Examples: examples}, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Examples)
}

// Shuffle permutes the examples in place with the given seed.
func (d *Dataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.Examples), func(i, j int) {
		d.Examples[i], d.Examples[j] = d.Examples[j], d.Examples[i]
	})
}

// Split cuts the dataset into train and validation parts at the given train
// fraction. Both parts share the underlying examples.
func (d *Dataset) Split(trainFrac float64) (train, val *Dataset) {
	cut := int(float64(len(d.Examples)) * trainFrac)
	if cut < 1 {
		cut = 1
	}
	if cut > len(d.Examples) {
		cut = len(d.Examples)
	}
	return &Dataset{Examples: d.Examples[:cut]}, &Dataset{Examples: d.Examples[cut:]}
}

// Tokenize formats every example with the prompt template and encodes it to
// a fixed-length padded sequence.
func (d *Dataset) Tokenize(tok Tokenizer, maxLen int) ([][]int32, error) {
	rows := make([][]int32, 0, len(d.Examples))
	for i, ex := range d.Examples {
		row, err := tok.EncodePadded(FormatExample(ex.Instruction, ex.Output), maxLen)
		if err != nil {
			return nil, fmt.Errorf("tokenizing example %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
