package anytrain

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anykd"
	"github.com/unixpickle/anykd/anyloss"
	"github.com/unixpickle/anykd/anyopt"
	"github.com/unixpickle/anykd/anyspoof"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ErrNoTeacher is returned when a distillation objective
// is trained without a teacher.
var ErrNoTeacher = errors.New("objective requires a teacher model")

// A BatchSource produces the batches of one epoch.
// It is satisfied by *anyspoof.Loader.
type BatchSource interface {
	Len() int
	Iterate(ctx context.Context, f func(b *anyspoof.Batch) error) error
}

// An EpochTrainer runs training epochs of a student model.
type EpochTrainer struct {
	Student anykd.Model

	// Teacher provides the target logits of distillation
	// objectives. Its outputs are constants.
	Teacher anykd.Forwarder

	Objective anyloss.Objective
	Optimizer *anyopt.Optimizer

	// Scheduler, if non-nil, is advanced after every step.
	Scheduler *anyopt.Scheduler

	// LossOptimizer, if non-nil, updates the trainable part
	// of the objective.
	LossOptimizer *anyopt.Optimizer

	// FreqAug enables augmentation in the student.
	FreqAug bool

	// Progress, if non-nil, receives a progress bar.
	Progress io.Writer

	// Log receives one summary entry per epoch.
	Log zerolog.Logger
}

// Epoch trains on every batch from the source and returns
// the mean loss per sample.
//
// The student is left in training mode.
func (e *EpochTrainer) Epoch(ctx context.Context, data BatchSource) (float64, error) {
	if e.Objective.NeedsTeacher() && e.Teacher == nil {
		return 0, ErrNoTeacher
	}
	e.Student.SetTraining(true)

	var bar *progressbar.ProgressBar
	if e.Progress != nil {
		bar = progressbar.NewOptions(data.Len(),
			progressbar.OptionSetWriter(e.Progress),
			progressbar.OptionSetDescription("training"),
			progressbar.OptionClearOnFinish())
	}

	var totalLoss float64
	var totalCount int
	err := data.Iterate(ctx, func(b *anyspoof.Batch) error {
		loss, err := e.Step(b)
		if err != nil {
			return err
		}
		totalLoss += loss * float64(b.Num)
		totalCount += b.Num
		if bar != nil {
			bar.Add(1)
		}
		return nil
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return 0, essentials.AddCtx("train epoch", err)
	}
	if totalCount == 0 {
		return 0, errors.New("train epoch: no samples")
	}
	mean := totalLoss / float64(totalCount)
	e.Log.Info().Int("samples", totalCount).Float64("lr", e.Optimizer.Rate()).
		Float64("loss", mean).Msg("trained epoch")
	return mean, nil
}

// Step trains on a single batch and returns its loss.
func (e *EpochTrainer) Step(b *anyspoof.Batch) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	feat, logits := e.Student.Forward(b.Inputs, b.Num, e.FreqAug)
	in := &anyloss.Inputs{Feat: feat, Logits: logits, Labels: b.Labels}
	if e.Objective.NeedsTeacher() {
		if e.Teacher == nil {
			return 0, ErrNoTeacher
		}
		_, in.Teacher = e.Teacher.Forward(b.Inputs, b.Num, false)
	}
	loss := e.Objective.Loss(in)

	grad := e.Optimizer.NewGrad()
	var lossGrad anydiff.Grad
	joined := anydiff.Grad{}
	for v, g := range grad {
		joined[v] = g
	}
	if e.LossOptimizer != nil {
		lossGrad = e.LossOptimizer.NewGrad()
		for v, g := range lossGrad {
			joined[v] = g
		}
	}
	c := loss.Output().Creator()
	upstream := c.MakeVector(1)
	upstream.AddScalar(c.MakeNumeric(1))
	loss.Propagate(upstream, joined)

	e.Optimizer.Step(grad)
	if lossGrad != nil {
		e.LossOptimizer.Step(lossGrad)
	}
	if e.Scheduler != nil {
		if err := e.Scheduler.Advance(); err != nil {
			return 0, err
		}
	}
	return scalar(loss.Output()), nil
}

func scalar(v anyvec.Vector) float64 {
	switch data := v.Data().(type) {
	case []float32:
		return float64(data[0])
	case []float64:
		return data[0]
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}
