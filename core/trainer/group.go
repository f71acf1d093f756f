package trainer

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/contrail/core/config"
	"github.com/adalundhe/contrail/core/dist"
	"github.com/adalundhe/contrail/core/learner"
)

// RunLocalGroup trains cfg.Trainer.Workers synchronized replicas in
// one process, one goroutine per rank, joined through an in-process
// collective. Every replica is built from the same configuration, so
// parameters and queues stay bit-identical across ranks; makeBatchers
// supplies each rank its shard of the data. The rank-zero report is
// returned.
//
// Collectives block until every rank arrives, so batchers must keep
// delivering equally sized batches on all ranks for the full run.
func RunLocalGroup(cfg *config.Config, makeBatchers func(rank int) (train, val Batcher)) (*Report, error) {
	workers := cfg.Trainer.Workers
	if workers < 1 {
		return nil, fmt.Errorf("trainer: workers must be >= 1, got %d", workers)
	}
	if workers == 1 {
		l, err := learner.New(cfg)
		if err != nil {
			return nil, err
		}
		train, val := makeBatchers(0)
		return New(cfg.Trainer, l, train, val).Fit()
	}

	group := dist.NewLocalGroup(workers)
	runID := uuid.NewString()

	reports := make([]*Report, workers)
	var g errgroup.Group
	for rank := 0; rank < workers; rank++ {
		rank := rank
		g.Go(func() error {
			l, err := learner.New(cfg, learner.WithCollective(group.Worker(rank)))
			if err != nil {
				return fmt.Errorf("trainer: rank %d: %w", rank, err)
			}
			train, val := makeBatchers(rank)
			report, err := New(cfg.Trainer, l, train, val, WithRunID(runID)).Fit()
			if err != nil {
				return fmt.Errorf("trainer: rank %d: %w", rank, err)
			}
			reports[rank] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports[0], nil
}
