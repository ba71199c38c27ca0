package shelltune

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the shelltune command tree. It is the entry point used by
// cmd/shelltune.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "shelltune",
		Short:         "Fine-tune a small language model to suggest shell scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Missing .env is fine, secrets can come from the environment.
			_ = godotenv.Load()
			v.SetEnvPrefix("SHELLTUNE")
			v.AutomaticEnv()
			return v.BindPFlags(cmd.Flags())
		},
	}

	root.PersistentFlags().String("config", "", "path to YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newInitCommand(v),
		newTrainCommand(v),
		newSuggestCommand(v),
		newPackCommand(v),
	)
	return root
}

func loggerFor(v *viper.Viper) zerolog.Logger {
	return NewLogger(os.Stderr, v.GetString("log-level"))
}

func configFor(v *viper.Viper) (Config, error) {
	return LoadConfig(v.GetString("config"))
}

func resolverFor(v *viper.Viper, cfg Config, log zerolog.Logger) *Resolver {
	return &Resolver{
		Source:        cfg.Model,
		CacheOverride: v.GetString("cache"),
		Log:           log,
	}
}

func newInitCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Download the base model and tokenizer into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := loggerFor(v)
			cfg, err := configFor(v)
			if err != nil {
				return err
			}
			resolved, err := resolverFor(v, cfg, log).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().
				Str("model", resolved.ModelPath).
				Str("tokenizer", resolved.TokenizerPath).
				Msg("model ready")
			return nil
		},
	}
}

func newTrainCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune LoRA adapters on an instruction/output dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := loggerFor(v)
			cfg, err := configFor(v)
			if err != nil {
				return err
			}
			if p := v.GetString("dataset"); p != "" {
				cfg.Dataset.Path = p
			}
			if d := v.GetString("output"); d != "" {
				cfg.Training.OutputDir = d
			}

			resolved, err := resolverFor(v, cfg, log).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			model, err := LoadBaseModel(resolved.ModelPath, resolved.TokenizerPath)
			if err != nil {
				return err
			}
			if err := model.InjectAdapters(cfg.Lora); err != nil {
				return err
			}

			ds, err := LoadDataset(cfg.Dataset)
			if err != nil {
				return err
			}
			if cfg.Dataset.Shuffle {
				ds.Shuffle(cfg.Dataset.ShuffleSeed)
			}
			trainSet, valSet := ds.Split(cfg.Dataset.TrainTestSplit)
			log.Info().Int("train", len(trainSet.Examples)).Int("val", len(valSet.Examples)).Msg("dataset loaded")

			trainRows, err := trainSet.Tokenize(model.Tokenizer, cfg.Tokenizer.MaxLength)
			if err != nil {
				return err
			}
			trainLoader, err := NewBatchLoader(trainRows, cfg.Training.BatchSize)
			if err != nil {
				return err
			}
			var valLoader *BatchLoader
			if len(valSet.Examples) >= cfg.Training.BatchSize {
				valRows, err := valSet.Tokenize(model.Tokenizer, cfg.Tokenizer.MaxLength)
				if err != nil {
					return err
				}
				if valLoader, err = NewBatchLoader(valRows, cfg.Training.BatchSize); err != nil {
					return err
				}
			}

			tracker, err := NewTracker(cmd.Context(), cfg.Tracker, os.Getenv("TRACKER_API_KEY"), log)
			if err != nil {
				return err
			}
			defer tracker.Close(cmd.Context())

			trainer := NewTrainer(model, cfg.Training, tracker, log)
			return trainer.Run(cmd.Context(), trainLoader, valLoader)
		},
	}
	cmd.Flags().String("dataset", "", "path to the training CSV (overrides config)")
	cmd.Flags().String("output", "", "checkpoint output directory (overrides config)")
	return cmd
}

func newSuggestCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest [instruction]",
		Short: "Generate a shell script suggestion for an instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := loggerFor(v)
			cfg, err := configFor(v)
			if err != nil {
				return err
			}
			resolved, err := resolverFor(v, cfg, log).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			model, err := LoadBaseModel(resolved.ModelPath, resolved.TokenizerPath)
			if err != nil {
				return err
			}

			if p := v.GetString("adapter"); p != "" {
				if err := model.LoadAdapter(p); err != nil {
					return err
				}
				model.MergeAdapters()
			}

			suggestion, err := model.Suggest(args[0], v.GetInt("max-new-tokens"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), suggestion)
			return nil
		},
	}
	cmd.Flags().String("adapter", "", "path to a trained adapter checkpoint")
	cmd.Flags().Int("max-new-tokens", DefaultMaxNewTokens, "maximum number of tokens to generate")
	return cmd
}

func newPackCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Merge adapters into the base weights and archive the artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := loggerFor(v)
			cfg, err := configFor(v)
			if err != nil {
				return err
			}
			adapterPath := v.GetString("adapter")
			if adapterPath == "" {
				return fmt.Errorf("pack requires --adapter")
			}
			resolved, err := resolverFor(v, cfg, log).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			model, err := LoadBaseModel(resolved.ModelPath, resolved.TokenizerPath)
			if err != nil {
				return err
			}
			if err := model.LoadAdapter(adapterPath); err != nil {
				return err
			}

			outDir := v.GetString("output")
			if outDir == "" {
				outDir = filepath.Join(cfg.Training.OutputDir, "final")
			}
			if err := SaveArtifacts(outDir, model); err != nil {
				return err
			}
			archive := v.GetString("archive")
			if archive == "" {
				archive = outDir + ".tar.gz"
			}
			if err := ArchiveDir(outDir, archive); err != nil {
				return err
			}
			log.Info().Str("dir", outDir).Str("archive", archive).Msg("artifacts packed")
			return nil
		},
	}
	cmd.Flags().String("adapter", "", "path to the trained adapter checkpoint")
	cmd.Flags().String("output", "", "directory for the merged artifacts")
	cmd.Flags().String("archive", "", "path of the tar.gz archive to write")
	return cmd
}
