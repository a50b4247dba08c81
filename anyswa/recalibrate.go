package anyswa

import (
	"context"

	"github.com/unixpickle/anykd"
	"github.com/unixpickle/anykd/anyspoof"
	"github.com/unixpickle/essentials"
)

// Batches is a source of batches, such as an
// *anyspoof.Loader.
type Batches interface {
	Iterate(ctx context.Context, f func(b *anyspoof.Batch) error) error
}

// Recalibrate recomputes the running statistics of every
// BatchNorm in the model.
//
// The statistics are reset and then replaced with the
// sample-weighted average of batch statistics over one
// pass of the data, computed in training mode without
// gradients or augmentation.
// Afterwards, the model is returned to its previous mode.
func Recalibrate(ctx context.Context, m anykd.Model, data Batches) error {
	layers := m.BatchNorms()
	if len(layers) == 0 {
		return nil
	}
	wasTraining := layers[0].Training
	for _, bn := range layers {
		bn.ResetStats()
		bn.Cumulative = true
	}
	defer func() {
		for _, bn := range layers {
			bn.Cumulative = false
		}
		m.SetTraining(wasTraining)
	}()

	m.SetTraining(true)
	err := data.Iterate(ctx, func(b *anyspoof.Batch) error {
		m.Forward(b.Inputs, b.Num, false)
		return nil
	})
	if err != nil {
		return essentials.AddCtx("recalibrate batch norm", err)
	}
	return nil
}
