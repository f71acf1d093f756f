// This file implements the eval command, which restores a checkpoint
// and reports validation metrics without training.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/contrail/core/config"
	"github.com/adalundhe/contrail/core/learner"
	"github.com/adalundhe/contrail/core/trainer"
)

var (
	evalConfigPath string
	evalCheckpoint string
	evalSteps      int
	evalSeed       int64
	evalNoiseStd   float64
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a trained checkpoint",
	Long: `Restore a checkpoint and run validation steps against it,
reporting contrastive loss and retrieval precision.

Examples:
  contrail eval --checkpoint best.ckpt
  contrail eval --checkpoint best.ckpt --config contrail.yaml --steps 50`,
	RunE: runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	if evalCheckpoint == "" {
		return fmt.Errorf("--checkpoint is required")
	}

	mgr := config.NewManager(evalConfigPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	l, err := learner.New(cfg)
	if err != nil {
		return err
	}
	if err := l.Load(evalCheckpoint); err != nil {
		return err
	}

	batches := trainer.NewSyntheticBatcher(evalSeed, cfg.Model.BatchSize, cfg.Model.InputDim, evalNoiseStd)
	outs := make([]*learner.StepOutput, 0, evalSteps)
	for i := 0; i < evalSteps; i++ {
		imgQ, imgK := batches.NextBatch()
		out, err := l.ValidationStep(imgQ, imgK)
		if err != nil {
			return fmt.Errorf("validation step %d: %w", i, err)
		}
		outs = append(outs, out)
	}

	means := learner.ValidationEpochEnd(outs)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("evaluation complete",
		slog.String("checkpoint", evalCheckpoint),
		slog.Int("steps", evalSteps),
		slog.Float64("val_loss", means["val_loss"]),
		slog.Float64("val_acc1", means["val_acc1"]),
		slog.Float64("val_acc5", means["val_acc5"]))
	return nil
}

func init() {
	flags := evalCmd.Flags()
	flags.StringVarP(&evalConfigPath, "config", "c", "", "Path to YAML configuration")
	flags.StringVar(&evalCheckpoint, "checkpoint", "", "Checkpoint to evaluate")
	flags.IntVar(&evalSteps, "steps", 10, "Validation steps to run")
	flags.Int64Var(&evalSeed, "seed", 42, "Seed for synthetic validation batches")
	flags.Float64Var(&evalNoiseStd, "noise-std", 0.1, "View-augmentation noise for synthetic batches")

	rootCmd.AddCommand(evalCmd)
}
