package shelltune

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainingArgumentsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TrainingArguments)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(a *TrainingArguments) {}},
		{name: "zero batch size", mutate: func(a *TrainingArguments) { a.BatchSize = 0 }, wantErr: true},
		{name: "zero accumulation", mutate: func(a *TrainingArguments) { a.GradAccumSteps = 0 }, wantErr: true},
		{name: "zero epochs", mutate: func(a *TrainingArguments) { a.Epochs = 0 }, wantErr: true},
		{name: "zero logging steps", mutate: func(a *TrainingArguments) { a.LoggingSteps = 0 }, wantErr: true},
		{name: "negative learning rate", mutate: func(a *TrainingArguments) { a.LearningRate = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := DefaultTrainingArguments()
			tt.mutate(&args)
			err := args.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPruneCheckpoints(t *testing.T) {
	dir := t.TempDir()
	for epoch := 1; epoch <= 5; epoch++ {
		name := fmt.Sprintf("%s%04d.bin", checkpointPrefix, epoch)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	// Unrelated files must survive pruning.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	require.NoError(t, pruneCheckpoints(dir, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"checkpoint-0004.bin", "checkpoint-0005.bin", "notes.txt"}, names)
}

func TestPruneCheckpointsNoLimit(t *testing.T) {
	dir := t.TempDir()
	for epoch := 1; epoch <= 3; epoch++ {
		name := fmt.Sprintf("%s%04d.bin", checkpointPrefix, epoch)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, pruneCheckpoints(dir, 0))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

// recordingTracker captures every metric post for assertions.
type recordingTracker struct {
	steps   []int
	metrics []map[string]float64
	closed  bool
}

func (r *recordingTracker) LogMetrics(_ context.Context, step int, m map[string]float64) error {
	r.steps = append(r.steps, step)
	r.metrics = append(r.metrics, m)
	return nil
}

func (r *recordingTracker) Close(context.Context) error {
	r.closed = true
	return nil
}

func trainTestModel(t *testing.T) *Model {
	t.Helper()
	model := NewModel(testModelConfig(), testVocab())
	adapterCfg := DefaultAdapterConfig()
	adapterCfg.Dropout = 0
	require.NoError(t, model.InjectAdapters(adapterCfg))
	return model
}

func trainTestRows() [][]int32 {
	// Eight rows of five tokens: T = 4 batches against a 6-token vocab.
	rows := make([][]int32, 8)
	for i := range rows {
		rows[i] = []int32{0, 1, 2, 3, 4}
	}
	return rows
}

func TestTrainerRun(t *testing.T) {
	model := trainTestModel(t)
	dir := t.TempDir()
	args := TrainingArguments{
		OutputDir:      dir,
		BatchSize:      2,
		GradAccumSteps: 2,
		Epochs:         3,
		LoggingSteps:   1,
		LearningRate:   1e-3,
		WeightDecay:    0.01,
		SaveTotalLimit: 2,
	}
	train, err := NewBatchLoader(trainTestRows(), args.BatchSize)
	require.NoError(t, err)
	val, err := NewBatchLoader(trainTestRows()[:2], args.BatchSize)
	require.NoError(t, err)

	tracker := &recordingTracker{}
	trainer := NewTrainer(model, args, tracker, zerolog.Nop())
	require.NoError(t, trainer.Run(context.Background(), train, val))

	// Retention: only the last two epoch checkpoints remain.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"checkpoint-0002.bin", "checkpoint-0003.bin"}, names)

	// Each epoch logs training steps plus one validation point.
	require.NotEmpty(t, tracker.metrics)
	var sawTrain, sawVal bool
	for _, m := range tracker.metrics {
		if _, ok := m["train_loss"]; ok {
			sawTrain = true
			assert.Contains(t, m, "learning_rate")
		}
		if _, ok := m["val_loss"]; ok {
			sawVal = true
		}
	}
	assert.True(t, sawTrain)
	assert.True(t, sawVal)

	// The saved checkpoint loads back into a fresh model.
	fresh := NewModel(testModelConfig(), testVocab())
	require.NoError(t, fresh.LoadAdapter(filepath.Join(dir, "checkpoint-0003.bin")))
	assert.Equal(t, model.Adapters.Memory, fresh.Adapters.Memory)
}

func TestTrainerRunInvalidArgs(t *testing.T) {
	model := trainTestModel(t)
	args := DefaultTrainingArguments()
	args.BatchSize = 0
	trainer := NewTrainer(model, args, nil, zerolog.Nop())
	assert.Error(t, trainer.Run(context.Background(), nil, nil))
}

func TestTrainerRunCancelled(t *testing.T) {
	model := trainTestModel(t)
	args := DefaultTrainingArguments()
	args.OutputDir = t.TempDir()
	train, err := NewBatchLoader(trainTestRows(), 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trainer := NewTrainer(model, args, nil, zerolog.Nop())
	assert.ErrorIs(t, trainer.Run(ctx, train, nil), context.Canceled)
}
