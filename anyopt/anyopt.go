// Package anyopt provides the optimizers and learning rate
// schedules used to train spoofing detectors.
package anyopt

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
)

// Names of the supported optimizers.
const (
	NameAdam = "adam"
	NameSGD  = "sgd"
)

// Optimizer applies gradient steps to a fixed list of
// parameters.
type Optimizer struct {
	// Params are the variables updated by Step.
	Params []*anydiff.Var

	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	Transformer anysgd.Transformer

	// Rater determines the learning rate for each step,
	// given the number of steps so far.
	Rater anysgd.Rater

	// WeightDecay is an L2 penalty coefficient which is
	// added to the gradient before it is transformed.
	WeightDecay float64

	// NumSteps is the number of steps taken so far.
	// It is passed to Rater.
	NumSteps int
}

// Config configures New.
type Config struct {
	Optimizer   string
	BaseLR      float64
	Betas       [2]float64
	WeightDecay float64
	AMSGrad     bool
	Momentum    float64
}

// New creates an Optimizer for the parameters.
func New(params []*anydiff.Var, conf *Config, rater anysgd.Rater) (*Optimizer, error) {
	res := &Optimizer{
		Params:      params,
		Rater:       rater,
		WeightDecay: conf.WeightDecay,
	}
	switch conf.Optimizer {
	case NameAdam:
		res.Transformer = &Adam{
			DecayRate1: conf.Betas[0],
			DecayRate2: conf.Betas[1],
			AMSGrad:    conf.AMSGrad,
		}
	case NameSGD:
		if conf.Momentum != 0 {
			res.Transformer = &anysgd.Momentum{Momentum: conf.Momentum}
		}
	default:
		return nil, fmt.Errorf("unknown optimizer: %s", conf.Optimizer)
	}
	return res, nil
}

// NewGrad creates a zero gradient for the parameters.
func (o *Optimizer) NewGrad() anydiff.Grad {
	return anydiff.NewGrad(o.Params...)
}

// Rate returns the learning rate of the next step.
func (o *Optimizer) Rate() float64 {
	return o.Rater.Rate(float64(o.NumSteps))
}

// Step updates the parameters using the gradient.
//
// The gradient is modified in place.
func (o *Optimizer) Step(grad anydiff.Grad) {
	if o.WeightDecay != 0 {
		for _, p := range o.Params {
			if g, ok := grad[p]; ok {
				decay := p.Vector.Copy()
				decay.Scale(decay.Creator().MakeNumeric(o.WeightDecay))
				g.Add(decay)
			}
		}
	}
	if o.Transformer != nil {
		grad = o.Transformer.Transform(grad)
	}
	scaleGrad(grad, -o.Rate())
	grad.AddToVars()
	o.NumSteps++
}
