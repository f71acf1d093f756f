// Package learner composes the momentum-contrastive training core: the
// encoder pair, the train/validation negative queues, the batch-shuffle
// coordinator, the logit assembler, and the optional KNN miner and
// clustering head, orchestrated into training and validation steps.
package learner

import (
	"fmt"
	"math/rand"

	"github.com/adalundhe/contrail/core/cluster"
	"github.com/adalundhe/contrail/core/config"
	"github.com/adalundhe/contrail/core/contrast"
	"github.com/adalundhe/contrail/core/dist"
	"github.com/adalundhe/contrail/core/encoder"
	"github.com/adalundhe/contrail/core/knn"
	"github.com/adalundhe/contrail/core/nn"
	"github.com/adalundhe/contrail/core/optim"
	"github.com/adalundhe/contrail/core/queue"
)

// Learner owns the full training state for one data-parallel replica.
// Replicas constructed from the same configuration are parameter- and
// queue-identical; collective gathers keep them that way.
type Learner struct {
	model config.ModelConfig
	opt   config.OptimConfig

	pair        *encoder.Pair
	trainQueue  *queue.Queue
	valQueue    *queue.Queue
	miner       *knn.Miner
	clusterHead *cluster.Head

	coll    dist.Collective
	shuffle *dist.ShuffleCoordinator
}

type options struct {
	coll    dist.Collective
	factory func() (nn.Backbone, error)
}

// Option customizes learner construction.
type Option func(*options)

// WithCollective injects the collective-communication layer. Defaults
// to single-process execution.
func WithCollective(coll dist.Collective) Option {
	return func(o *options) { o.coll = coll }
}

// WithBackboneFactory overrides the named-backbone resolution with a
// custom encoder factory. The factory is called twice and must produce
// the same architecture both times.
func WithBackboneFactory(factory func() (nn.Backbone, error)) Option {
	return func(o *options) { o.factory = factory }
}

// New constructs a learner from configuration.
func New(cfg *config.Config, opts ...Option) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{coll: dist.SingleProcess{}}
	for _, opt := range opts {
		opt(&o)
	}

	model := cfg.Model
	if o.factory == nil {
		o.factory = func() (nn.Backbone, error) {
			return nn.Resolve(model.Backbone, nn.BackboneSpec{
				InputDim: model.InputDim,
				EmbDim:   model.EmbDim,
				WideHead: model.UseMLP,
				Seed:     model.Seed,
			})
		}
	}

	pair, err := encoder.NewPair(o.factory)
	if err != nil {
		return nil, err
	}

	l := &Learner{
		model:   model,
		opt:     cfg.Optim,
		pair:    pair,
		coll:    o.coll,
		shuffle: dist.NewShuffleCoordinator(o.coll, model.Seed),
	}

	// Queues are seeded from the model seed so every replica starts
	// with identical negative pools.
	l.trainQueue = queue.New(rand.New(rand.NewSource(model.Seed+1)), model.EmbDim, model.NumNegatives, model.BatchSize)
	l.valQueue = queue.New(rand.New(rand.NewSource(model.Seed+2)), model.EmbDim, model.NumNegatives, model.BatchSize)

	if model.UseKNN {
		metric, err := knn.ParseMetric(model.Metric)
		if err != nil {
			return nil, err
		}
		l.miner, err = knn.NewMiner(metric, model.TopK)
		if err != nil {
			return nil, err
		}
	}

	if model.UseClustering {
		headRNG := rand.New(rand.NewSource(model.Seed + 3))
		l.clusterHead = cluster.NewHead(headRNG, model.EmbDim, model.TargetCategories, model.Alpha)
	}

	return l, nil
}

// Pair exposes the encoder pair, primarily for checkpointing and tests.
func (l *Learner) Pair() *encoder.Pair { return l.pair }

// TrainQueue exposes the training negative queue.
func (l *Learner) TrainQueue() *queue.Queue { return l.trainQueue }

// ValQueue exposes the validation negative queue.
func (l *Learner) ValQueue() *queue.Queue { return l.valQueue }

// Collective exposes the collective-communication layer the learner
// was constructed with.
func (l *Learner) Collective() dist.Collective { return l.coll }

// ConfigureOptimizer returns the momentum-SGD optimizer over all
// gradient-tracked parameters (query encoder plus clustering head; the
// key encoder is frozen) paired with a cosine-annealing schedule over
// the configured epoch span.
func (l *Learner) ConfigureOptimizer(maxEpochs int) (*optim.SGD, *optim.CosineSchedule) {
	params := append([]*nn.Param(nil), l.pair.Query.Params()...)
	if l.clusterHead != nil {
		params = append(params, l.clusterHead.Params()...)
	}
	return optim.NewSGD(params, l.opt.Momentum, l.opt.WeightDecay),
		optim.NewCosineSchedule(l.opt.LearningRate, maxEpochs)
}

// forwardResult carries everything a step needs after the dual-encoder
// forward pass.
type forwardResult struct {
	logits    [][]float32
	queryPre  [][]float32
	query     [][]float32
	key       [][]float32
	neighbors [][][]float32
}

// forward runs the query encoder, the (shuffled) key encoder, and logit
// assembly against the given negative source. The batch shuffle wraps
// only the key forward pass and is a pass-through off the synchronous
// multi-worker path.
func (l *Learner) forward(imgQ, imgK [][]float32, negatives *queue.Queue) (*forwardResult, error) {
	if len(imgQ) != len(imgK) {
		return nil, fmt.Errorf("learner: query batch %d and key batch %d differ", len(imgQ), len(imgK))
	}

	queryPre := l.pair.Query.Forward(imgQ)
	query := nn.Normalize(queryPre)

	keyIn := imgK
	var inverse []int
	if dist.MultiWorker(l.coll) {
		keyIn, inverse = l.shuffle.Shuffle(imgK)
	}
	key := nn.Normalize(l.pair.Key.Forward(keyIn))
	if dist.MultiWorker(l.coll) {
		key = l.shuffle.Unshuffle(key, inverse)
	}

	res := &forwardResult{queryPre: queryPre, query: query, key: key}

	if l.miner != nil {
		neighbors, err := l.miner.Mine(query, negatives)
		if err != nil {
			return nil, err
		}
		res.neighbors = neighbors
		res.logits = contrast.AssembleKNNLogits(query, key, neighbors, l.model.SoftmaxTemperature)
	} else {
		res.logits = contrast.AssembleQueueLogits(query, key, negatives, l.model.SoftmaxTemperature)
	}
	return res, nil
}
