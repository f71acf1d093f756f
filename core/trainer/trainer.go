// Package trainer drives the training loop: epochs of optimization
// steps with cosine-annealed learning rates, periodic validation, and
// best-checkpoint tracking, for a single process or a synchronized
// local worker group.
package trainer

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/adalundhe/contrail/core/config"
	"github.com/adalundhe/contrail/core/learner"
)

// Batcher produces paired augmented views for one optimization step.
// Both slices carry the same number of rows.
type Batcher interface {
	NextBatch() (imgQ, imgK [][]float32)
}

// Report summarizes a completed fit.
type Report struct {
	RunID       string
	Epochs      int
	BestValLoss float64
	FinalVal    map[string]float64
}

// Trainer runs the optimization loop for one replica.
type Trainer struct {
	cfg     config.TrainerConfig
	learner *learner.Learner
	train   Batcher
	val     Batcher
	logger  *slog.Logger
	runID   string
}

// Option customizes trainer construction.
type Option func(*Trainer)

// WithLogger injects the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithRunID pins the run identifier, used to synchronize replicas of
// one distributed run. Defaults to a fresh UUID.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// New builds a trainer around a constructed learner and its batchers.
func New(cfg config.TrainerConfig, l *learner.Learner, train, val Batcher, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:     cfg,
		learner: l,
		train:   train,
		val:     val,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RunID returns the identifier of this run.
func (t *Trainer) RunID() string { return t.runID }

// Fit runs the configured number of epochs. Each epoch performs
// StepsPerEpoch optimization steps at the cosine-annealed learning
// rate, then ValSteps validation steps. The best validation loss seen
// so far triggers a checkpoint write when a checkpoint path is set.
// On multi-worker runs only rank zero logs and checkpoints.
func (t *Trainer) Fit() (*Report, error) {
	opt, sched := t.learner.ConfigureOptimizer(t.cfg.MaxEpochs)
	chief := t.learner.Collective().Rank() == 0

	report := &Report{RunID: t.runID, BestValLoss: math.Inf(1)}
	for epoch := 0; epoch < t.cfg.MaxEpochs; epoch++ {
		lr := sched.LR(epoch)

		for step := 0; step < t.cfg.StepsPerEpoch; step++ {
			imgQ, imgK := t.train.NextBatch()

			opt.ZeroGrad()
			out, err := t.learner.TrainingStep(imgQ, imgK)
			if err != nil {
				return nil, fmt.Errorf("trainer: epoch %d step %d: %w", epoch, step, err)
			}
			opt.Step(lr)

			if chief && t.cfg.LogInterval > 0 && (step+1)%t.cfg.LogInterval == 0 {
				t.logger.Info("training step",
					slog.String("run_id", t.runID),
					slog.Int("epoch", epoch),
					slog.Int("step", step+1),
					slog.Float64("lr", float64(lr)),
					slog.Float64("train_loss", out.Metrics["train_loss"]),
					slog.Float64("train_acc1", out.Metrics["train_acc1"]),
					slog.Float64("train_acc5", out.Metrics["train_acc5"]))
			}
		}

		means, err := t.validate()
		if err != nil {
			return nil, fmt.Errorf("trainer: epoch %d validation: %w", epoch, err)
		}
		report.Epochs = epoch + 1
		report.FinalVal = means

		if chief {
			t.logger.Info("validation epoch",
				slog.String("run_id", t.runID),
				slog.Int("epoch", epoch),
				slog.Float64("val_loss", means["val_loss"]),
				slog.Float64("val_acc1", means["val_acc1"]),
				slog.Float64("val_acc5", means["val_acc5"]))
		}

		if loss, ok := means["val_loss"]; ok && loss < report.BestValLoss {
			report.BestValLoss = loss
			if chief && t.cfg.CheckpointPath != "" {
				if err := t.learner.Save(t.cfg.CheckpointPath); err != nil {
					return nil, fmt.Errorf("trainer: epoch %d: %w", epoch, err)
				}
				t.logger.Info("checkpoint saved",
					slog.String("run_id", t.runID),
					slog.Int("epoch", epoch),
					slog.String("path", t.cfg.CheckpointPath),
					slog.Float64("val_loss", loss))
			}
		}
	}
	return report, nil
}

func (t *Trainer) validate() (map[string]float64, error) {
	outs := make([]*learner.StepOutput, 0, t.cfg.ValSteps)
	for step := 0; step < t.cfg.ValSteps; step++ {
		imgQ, imgK := t.val.NextBatch()
		out, err := t.learner.ValidationStep(imgQ, imgK)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		outs = append(outs, out)
	}
	return learner.ValidationEpochEnd(outs), nil
}
