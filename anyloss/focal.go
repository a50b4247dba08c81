package anyloss

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	// focalScale is a constant multiplier applied to both
	// terms of the focal loss. It approximates e and is kept
	// at this precision so losses are comparable across runs.
	focalScale = 2.718

	focalEpsilon = 1e-7
)

// Focal is a binary focal loss applied to the softmax
// probabilities of two-class logits.
//
// Both softmax columns are treated as the probability of
// the positive class, and only the column for class 1 is
// used in the final loss.
type Focal struct {
	Alpha float64
	Gamma float64
}

// NewFocal creates a focal loss with the default
// parameters alpha=0.1 and gamma=1.
func NewFocal() *Focal {
	return &Focal{Alpha: 0.1, Gamma: 1}
}

// Cost computes the focal loss of every sample in the
// batch. The result has one component per label.
func (f *Focal) Cost(logits anydiff.Res, labels []int) anydiff.Res {
	n := checkBatch(logits, labels)
	c := logits.Output().Creator()
	desired := repeatLabels(c, labels, 2)
	probs := anydiff.Exp(anydiff.LogSoftmax(logits, 2))
	return anydiff.Pool(probs, func(probs anydiff.Res) anydiff.Res {
		return anydiff.Pool(anydiff.Complement(probs), func(comp anydiff.Res) anydiff.Res {
			pos := anydiff.Mul(
				anydiff.Pow(comp, c.MakeNumeric(f.Gamma)),
				shiftedLog(probs, focalEpsilon),
			)
			pos = anydiff.Scale(anydiff.Mul(pos, desired),
				c.MakeNumeric(-f.Alpha*focalScale))
			neg := anydiff.Mul(
				anydiff.Pow(probs, c.MakeNumeric(f.Gamma)),
				shiftedLog(comp, focalEpsilon),
			)
			neg = anydiff.Scale(anydiff.Mul(neg, anydiff.Complement(desired)),
				c.MakeNumeric(-(1-f.Alpha)*focalScale))
			return selectColumn(anydiff.Add(pos, neg), n, 2, 1)
		})
	})
}

// Loss computes the mean focal loss of the batch.
func (f *Focal) Loss(logits anydiff.Res, labels []int) anydiff.Res {
	return mean(f.Cost(logits, labels))
}

type shiftedLogRes struct {
	In      anydiff.Res
	Shifted anyvec.Vector
	Out     anyvec.Vector
}

// shiftedLog computes log(x+eps) for every component.
func shiftedLog(in anydiff.Res, eps float64) anydiff.Res {
	shifted := in.Output().Copy()
	shifted.AddScalar(shifted.Creator().MakeNumeric(eps))
	out := shifted.Copy()
	anyvec.Log(out)
	return &shiftedLogRes{In: in, Shifted: shifted, Out: out}
}

func (s *shiftedLogRes) Output() anyvec.Vector {
	return s.Out
}

func (s *shiftedLogRes) Vars() anydiff.VarSet {
	return s.In.Vars()
}

func (s *shiftedLogRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Div(s.Shifted)
	s.In.Propagate(u, g)
}
