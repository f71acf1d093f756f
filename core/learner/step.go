package learner

import (
	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/stat"

	"github.com/adalundhe/contrail/core/contrast"
	"github.com/adalundhe/contrail/core/nn"
)

// StepOutput reports the scalar loss of a step alongside the metrics a
// trainer should log or aggregate.
type StepOutput struct {
	Loss    float32
	Metrics map[string]float64
}

// TrainingStep runs one optimization step short of the parameter
// update: momentum-blend the key encoder, forward both encoders,
// accumulate gradients into the query-side parameters, then enqueue the
// new keys into the training negative queue. The caller zeroes
// gradients before and applies the optimizer after.
//
// Gradients are taken against the queue contents as they stood during
// the forward pass, so the backward pass runs before the enqueue.
func (l *Learner) TrainingStep(imgQ, imgK [][]float32) (*StepOutput, error) {
	l.pair.MomentumUpdate(l.model.EncoderMomentum)

	res, err := l.forward(imgQ, imgK, l.trainQueue)
	if err != nil {
		return nil, err
	}

	loss := contrast.CrossEntropy(res.logits)
	dlogits := contrast.CrossEntropyBackward(res.logits)

	var dq [][]float32
	if res.neighbors != nil {
		dq = contrast.KNNLogitsBackward(dlogits, res.key, res.neighbors, l.model.SoftmaxTemperature)
	} else {
		dq = contrast.QueueLogitsBackward(dlogits, res.key, l.trainQueue, l.model.SoftmaxTemperature)
	}

	if l.clusterHead != nil {
		clusterLoss, dqCluster := l.clusterHead.LossAndGrad(res.query, res.key)
		loss += clusterLoss
		for i := range dq {
			vek32.Add_Inplace(dq[i], dqCluster[i])
		}
	}

	dpre := nn.NormalizeBackward(res.queryPre, dq)
	l.pair.Query.Backward(dpre)

	l.trainQueue.Enqueue(res.key, l.coll)

	accs := contrast.PrecisionAtK(res.logits, 1, 5)
	return &StepOutput{
		Loss: loss,
		Metrics: map[string]float64{
			"train_loss": float64(loss),
			"train_acc1": accs[0],
			"train_acc5": accs[1],
		},
	}, nil
}

// ValidationStep mirrors TrainingStep without gradients or momentum
// blending, against the validation queue. Validation keys feed only the
// validation queue, so held-out negatives never leak into training.
func (l *Learner) ValidationStep(imgQ, imgK [][]float32) (*StepOutput, error) {
	res, err := l.forward(imgQ, imgK, l.valQueue)
	if err != nil {
		return nil, err
	}

	loss := contrast.CrossEntropy(res.logits)
	if l.clusterHead != nil {
		loss += l.clusterHead.Loss(res.query, res.key)
	}

	l.valQueue.Enqueue(res.key, l.coll)

	accs := contrast.PrecisionAtK(res.logits, 1, 5)
	return &StepOutput{
		Loss: loss,
		Metrics: map[string]float64{
			"val_loss": float64(loss),
			"val_acc1": accs[0],
			"val_acc5": accs[1],
		},
	}, nil
}

// ValidationEpochEnd reduces per-step validation metrics to their
// unweighted means, keyed by the original metric names.
func ValidationEpochEnd(outputs []*StepOutput) map[string]float64 {
	if len(outputs) == 0 {
		return map[string]float64{}
	}

	series := map[string][]float64{}
	for _, out := range outputs {
		for name, value := range out.Metrics {
			series[name] = append(series[name], value)
		}
	}

	means := make(map[string]float64, len(series))
	for name, values := range series {
		means[name] = stat.Mean(values, nil)
	}
	return means
}
