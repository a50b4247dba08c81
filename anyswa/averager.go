// Package anyswa implements stochastic weight averaging
// (https://arxiv.org/abs/1803.05407) for anykd models.
package anyswa

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// ErrEmptyAverage is returned when swapping in an average
// which has not been updated yet.
var ErrEmptyAverage = errors.New("no snapshots have been averaged")

// An Averager maintains an equal-weight running average of
// a fixed list of parameters.
type Averager struct {
	Params []*anydiff.Var

	// Buffers holds the averaged values, one per parameter.
	// It is nil until the first Update.
	Buffers []anyvec.Vector

	// Count is the number of snapshots in the average.
	Count int
}

// NewAverager creates an empty Averager for the params.
func NewAverager(params []*anydiff.Var) *Averager {
	return &Averager{Params: params}
}

// Update folds the current parameter values into the
// average, so that after n updates every snapshot has
// weight 1/n.
func (a *Averager) Update() {
	if a.Buffers == nil {
		for _, p := range a.Params {
			a.Buffers = append(a.Buffers, p.Vector.Copy())
		}
		a.Count = 1
		return
	}
	n := float64(a.Count)
	for i, p := range a.Params {
		buf := a.Buffers[i]
		c := buf.Creator()
		buf.Scale(c.MakeNumeric(n / (n + 1)))
		scaled := p.Vector.Copy()
		scaled.Scale(c.MakeNumeric(1 / (n + 1)))
		buf.Add(scaled)
	}
	a.Count++
}

// Swap exchanges the live parameter values with the
// averaged values.
//
// Swapping twice restores the original parameters.
func (a *Averager) Swap() error {
	if a.Buffers == nil {
		return ErrEmptyAverage
	}
	for i, p := range a.Params {
		live := p.Vector.Copy()
		p.Vector.Set(a.Buffers[i])
		a.Buffers[i].Set(live)
	}
	return nil
}
