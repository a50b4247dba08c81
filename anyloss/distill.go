package anyloss

import "github.com/unixpickle/anydiff"

// Distill combines a consistency term between teacher and
// student logits with a supervised focal loss:
//
//	Beta*MSE(teacher, student) + (1-Beta)*Focal(student)
type Distill struct {
	Beta  float64
	Focal *Focal
}

// NewDistill creates a Distill with Beta=0.5 and the
// default focal loss.
func NewDistill() *Distill {
	return &Distill{Beta: 0.5, Focal: NewFocal()}
}

// Loss computes the distillation loss for a batch.
// The teacher logits are treated as constants.
func (d *Distill) Loss(teacher, student anydiff.Res, labels []int) anydiff.Res {
	c := student.Output().Creator()
	return anydiff.Pool(student, func(student anydiff.Res) anydiff.Res {
		return blend(c, d.Beta,
			Consistency(teacher, student),
			d.Focal.Loss(student, labels))
	})
}
