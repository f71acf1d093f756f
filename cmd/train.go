// This file implements the train command, which drives the full
// momentum-contrastive training loop from a YAML configuration with
// flag overrides.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/contrail/core/config"
	"github.com/adalundhe/contrail/core/trainer"
)

// =============================================================================
// Train Command Flags
// =============================================================================

var (
	trainConfigPath string
	trainEpochs     int
	trainSteps      int
	trainValSteps   int
	trainWorkers    int
	trainCheckpoint string
	trainBatchSize  int
	trainEmbDim     int
	trainNegatives  int
	trainBackbone   string
	trainKNN        bool
	trainMetric     string
	trainTopK       int
	trainClustering bool
	trainSeed       int64
	trainLR         float64
	trainNoiseStd   float64
	trainJSONLogs   bool
)

// =============================================================================
// Train Command
// =============================================================================

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run momentum contrastive training",
	Long: `Run the training loop: epochs of InfoNCE optimization with a
momentum-updated key encoder and a circular negative queue, followed by
validation against a held-out queue.

Batches are synthetic view pairs; point --checkpoint at a path to keep
the best validation snapshot.

Examples:
  contrail train                                  # Defaults
  contrail train --config contrail.yaml           # From file
  contrail train --knn --metric angular --topk 64 # Mined negatives
  contrail train --workers 4                      # Local worker group`,
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	mgr := config.NewManager(trainConfigPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	applyTrainFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if trainJSONLogs {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	slog.SetDefault(logger)

	logger.Info("starting training",
		slog.String("backbone", cfg.Model.Backbone),
		slog.Int("emb_dim", cfg.Model.EmbDim),
		slog.Int("num_negatives", cfg.Model.NumNegatives),
		slog.Int("batch_size", cfg.Model.BatchSize),
		slog.Bool("knn", cfg.Model.UseKNN),
		slog.Bool("clustering", cfg.Model.UseClustering),
		slog.Int("workers", cfg.Trainer.Workers))

	perRank := cfg.Model.BatchSize / cfg.Trainer.Workers
	if perRank*cfg.Trainer.Workers != cfg.Model.BatchSize {
		return fmt.Errorf("batch size %d is not divisible by %d workers",
			cfg.Model.BatchSize, cfg.Trainer.Workers)
	}

	report, err := trainer.RunLocalGroup(cfg, func(rank int) (trainer.Batcher, trainer.Batcher) {
		return trainer.NewSyntheticBatcher(cfg.Model.Seed+int64(rank)*2+1, perRank, cfg.Model.InputDim, trainNoiseStd),
			trainer.NewSyntheticBatcher(cfg.Model.Seed+int64(rank)*2+2, perRank, cfg.Model.InputDim, trainNoiseStd)
	})
	if err != nil {
		return err
	}

	logger.Info("training complete",
		slog.String("run_id", report.RunID),
		slog.Int("epochs", report.Epochs),
		slog.Float64("best_val_loss", report.BestValLoss),
		slog.Float64("final_val_acc1", report.FinalVal["val_acc1"]))
	return nil
}

// applyTrainFlags overlays explicitly set flags onto the loaded
// configuration. Unset flags leave the file values alone.
func applyTrainFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("epochs") {
		cfg.Trainer.MaxEpochs = trainEpochs
	}
	if set("steps") {
		cfg.Trainer.StepsPerEpoch = trainSteps
	}
	if set("val-steps") {
		cfg.Trainer.ValSteps = trainValSteps
	}
	if set("workers") {
		cfg.Trainer.Workers = trainWorkers
	}
	if set("checkpoint") {
		cfg.Trainer.CheckpointPath = trainCheckpoint
	}
	if set("batch-size") {
		cfg.Model.BatchSize = trainBatchSize
	}
	if set("emb-dim") {
		cfg.Model.EmbDim = trainEmbDim
	}
	if set("negatives") {
		cfg.Model.NumNegatives = trainNegatives
	}
	if set("backbone") {
		cfg.Model.Backbone = trainBackbone
	}
	if set("knn") {
		cfg.Model.UseKNN = trainKNN
	}
	if set("metric") {
		cfg.Model.Metric = trainMetric
	}
	if set("topk") {
		cfg.Model.TopK = trainTopK
	}
	if set("clustering") {
		cfg.Model.UseClustering = trainClustering
	}
	if set("seed") {
		cfg.Model.Seed = trainSeed
	}
	if set("lr") {
		cfg.Optim.LearningRate = float32(trainLR)
	}
}

func init() {
	flags := trainCmd.Flags()
	flags.StringVarP(&trainConfigPath, "config", "c", "", "Path to YAML configuration")
	flags.IntVar(&trainEpochs, "epochs", 10, "Number of training epochs")
	flags.IntVar(&trainSteps, "steps", 100, "Optimization steps per epoch")
	flags.IntVar(&trainValSteps, "val-steps", 10, "Validation steps per epoch")
	flags.IntVar(&trainWorkers, "workers", 1, "Synchronized local workers")
	flags.StringVar(&trainCheckpoint, "checkpoint", "", "Path for the best-validation checkpoint")
	flags.IntVar(&trainBatchSize, "batch-size", 256, "Global batch size")
	flags.IntVar(&trainEmbDim, "emb-dim", 128, "Embedding dimensionality")
	flags.IntVar(&trainNegatives, "negatives", 65536, "Negative queue capacity")
	flags.StringVar(&trainBackbone, "backbone", "mlp", "Encoder backbone (linear, mlp, mlp-wide)")
	flags.BoolVar(&trainKNN, "knn", false, "Mine negatives by nearest-neighbor search")
	flags.StringVar(&trainMetric, "metric", "euclidean", "KNN metric (euclidean, manhattan, angular, hyperbolic, ang+hyper)")
	flags.IntVar(&trainTopK, "topk", 500, "Neighbors to mine per query")
	flags.BoolVar(&trainClustering, "clustering", false, "Add the clustering auxiliary loss")
	flags.Int64Var(&trainSeed, "seed", 1, "Seed for parameter init and shuffling")
	flags.Float64Var(&trainLR, "lr", 0.03, "Base learning rate")
	flags.Float64Var(&trainNoiseStd, "noise-std", 0.1, "View-augmentation noise for synthetic batches")
	flags.BoolVar(&trainJSONLogs, "json", false, "Emit JSON logs")

	rootCmd.AddCommand(trainCmd)
}
