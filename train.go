package shelltune

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// AdamW moment constants, fixed across runs.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

const checkpointPrefix = "checkpoint-"

// TrainingArguments is the static hyperparameter surface of a run.
type TrainingArguments struct {
	OutputDir      string  `yaml:"output_dir"`
	BatchSize      int     `yaml:"per_device_train_batch_size"`
	GradAccumSteps int     `yaml:"gradient_accumulation_steps"`
	Epochs         int     `yaml:"num_train_epochs"`
	LoggingSteps   int     `yaml:"logging_steps"`
	LearningRate   float32 `yaml:"learning_rate"`
	WeightDecay    float32 `yaml:"weight_decay"`
	SaveTotalLimit int     `yaml:"save_total_limit"`
	Fp16           bool    `yaml:"fp16"`
	// SampleInstruction, when set, is run through the inference harness at
	// the end of every epoch as a qualitative check.
	SampleInstruction string `yaml:"sample_instruction"`
}

// DefaultTrainingArguments returns the hyperparameters of the shell
// suggestion fine-tune.
func DefaultTrainingArguments() TrainingArguments {
	return TrainingArguments{
		OutputDir:      "out",
		BatchSize:      4,
		GradAccumSteps: 4,
		Epochs:         3,
		LoggingSteps:   10,
		LearningRate:   2e-4,
		WeightDecay:    0.01,
		SaveTotalLimit: 3,
		Fp16:           true,
	}
}

// Validate rejects hyperparameters the trainer cannot run with.
func (a TrainingArguments) Validate() error {
	if a.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", a.BatchSize)
	}
	if a.GradAccumSteps <= 0 {
		return fmt.Errorf("gradient accumulation steps must be positive, got %d", a.GradAccumSteps)
	}
	if a.Epochs <= 0 {
		return fmt.Errorf("epoch count must be positive, got %d", a.Epochs)
	}
	if a.LoggingSteps <= 0 {
		return fmt.Errorf("logging interval must be positive, got %d", a.LoggingSteps)
	}
	if a.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", a.LearningRate)
	}
	return nil
}

// Trainer owns the optimization loop: forward/backward over the batch
// stream, AdamW steps on the adapter parameters, per-epoch checkpoints with
// retention pruning, and metric emission to the experiment tracker.
type Trainer struct {
	model   *Model
	args    TrainingArguments
	tracker Tracker
	log     zerolog.Logger
}

// NewTrainer wires a trainer. A nil tracker disables metric emission.
func NewTrainer(model *Model, args TrainingArguments, tracker Tracker, log zerolog.Logger) *Trainer {
	if tracker == nil {
		tracker = NewNoopTracker()
	}
	return &Trainer{model: model, args: args, tracker: tracker, log: log}
}

// Run executes the configured number of epochs over the training loader,
// evaluating on the validation loader at every epoch boundary.
func (tr *Trainer) Run(ctx context.Context, train, val *BatchLoader) error {
	if err := tr.args.Validate(); err != nil {
		return err
	}
	if tr.args.Fp16 {
		tr.log.Warn().Msg("fp16 requested; kernels compute in float32, flag has no effect")
	}
	if err := os.MkdirAll(tr.args.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	tr.log.Info().
		Int("num_batches", train.NumBatches).
		Int("batch_size", train.BatchSize()).
		Int("seq_len", train.SeqLen()).
		Int("epochs", tr.args.Epochs).
		Msg("starting training")

	step := 0
	for epoch := 1; epoch <= tr.args.Epochs; epoch++ {
		if err := tr.runEpoch(ctx, train, epoch, &step); err != nil {
			return err
		}
		if val != nil && val.NumBatches > 0 {
			valLoss, err := tr.evaluate(val)
			if err != nil {
				return err
			}
			tr.log.Info().Int("epoch", epoch).Float32("val_loss", valLoss).Msg("validation")
			if err := tr.tracker.LogMetrics(ctx, step, map[string]float64{
				"val_loss": float64(valLoss),
				"epoch":    float64(epoch),
			}); err != nil {
				return fmt.Errorf("logging validation metrics: %w", err)
			}
		}
		if err := tr.saveCheckpoint(epoch); err != nil {
			return err
		}
		if tr.args.SampleInstruction != "" {
			tr.sample(epoch)
		}
	}
	return nil
}

func (tr *Trainer) runEpoch(ctx context.Context, train *BatchLoader, epoch int, step *int) error {
	tr.model.SetTraining(true)
	defer tr.model.SetTraining(false)
	train.Reset()
	tr.model.ZeroGradient()

	var windowLoss float32
	var windowCount int
	accum := tr.args.GradAccumSteps
	for batch := 0; batch < train.NumBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		input, targets, err := train.NextBatch()
		if err != nil {
			return err
		}
		tr.model.Forward(input, targets, train.BatchSize(), train.SeqLen())
		if err := tr.model.Backward(); err != nil {
			return err
		}
		windowLoss += tr.model.MeanLoss
		windowCount++
		if (batch+1)%accum != 0 {
			continue
		}
		tr.model.ScaleAdapterGrads(1.0 / float32(accum))
		*step++
		if err := tr.model.Update(tr.args.LearningRate, adamBeta1, adamBeta2, adamEpsilon, tr.args.WeightDecay, *step); err != nil {
			return err
		}
		tr.model.ZeroGradient()
		if *step%tr.args.LoggingSteps == 0 {
			loss := windowLoss / float32(windowCount)
			tr.log.Info().
				Int("epoch", epoch).
				Int("step", *step).
				Float32("train_loss", loss).
				Dur("batch_time", time.Since(start)).
				Msg("train step")
			if err := tr.tracker.LogMetrics(ctx, *step, map[string]float64{
				"train_loss":    float64(loss),
				"learning_rate": float64(tr.args.LearningRate),
				"epoch":         float64(epoch),
			}); err != nil {
				return fmt.Errorf("logging training metrics: %w", err)
			}
			windowLoss, windowCount = 0, 0
		}
	}
	return nil
}

// evaluate runs forward-only passes over the validation loader and returns
// the mean loss.
func (tr *Trainer) evaluate(val *BatchLoader) (float32, error) {
	tr.model.SetTraining(false)
	val.Reset()
	var loss float32
	for i := 0; i < val.NumBatches; i++ {
		input, targets, err := val.NextBatch()
		if err != nil {
			return 0, err
		}
		tr.model.Forward(input, targets, val.BatchSize(), val.SeqLen())
		loss += tr.model.MeanLoss
	}
	return loss / float32(val.NumBatches), nil
}

// saveCheckpoint snapshots the trainable (adapter) parameters for the epoch
// and prunes the oldest checkpoints beyond the retention limit.
func (tr *Trainer) saveCheckpoint(epoch int) error {
	path := filepath.Join(tr.args.OutputDir, fmt.Sprintf("%s%04d.bin", checkpointPrefix, epoch))
	if err := tr.model.SaveAdapter(path); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	tr.log.Info().Str("path", path).Msg("saved checkpoint")
	return pruneCheckpoints(tr.args.OutputDir, tr.args.SaveTotalLimit)
}

// pruneCheckpoints deletes the oldest epoch checkpoints in dir so at most
// limit remain. A limit of zero or less keeps everything.
func pruneCheckpoints(dir string, limit int) error {
	if limit <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		name := e.Name()
		return name, !e.IsDir() && strings.HasPrefix(name, checkpointPrefix) && strings.HasSuffix(name, ".bin")
	})
	if len(names) <= limit {
		return nil
	}
	sort.Strings(names) // zero-padded epochs sort chronologically
	for _, name := range names[:len(names)-limit] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// sample runs the epoch-end qualitative check and logs the result. Failures
// are logged, not fatal: an undertrained model often omits the markers.
func (tr *Trainer) sample(epoch int) {
	suggestion, err := tr.model.Suggest(tr.args.SampleInstruction, DefaultMaxNewTokens)
	if err != nil {
		tr.log.Warn().Err(err).Int("epoch", epoch).Msg("sample generation failed")
		return
	}
	tr.log.Info().Int("epoch", epoch).Str("instruction", tr.args.SampleInstruction).Str("suggestion", suggestion).Msg("sample")
}
