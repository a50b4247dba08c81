// Package anyloss implements the training objectives used
// for spoofing detectors, including knowledge distillation
// from a frozen teacher.
package anyloss

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
)

// Names of the supported objectives.
const (
	KindKDFocal    = "scokdifloss"
	KindKDWCEDOC   = "scokdwcedoc"
	KindOCSoftmax  = "ocsoftmax"
	KindWeightedCE = "wce"
)

// Inputs holds everything an Objective may consume for a
// single batch.
type Inputs struct {
	// Feat is the packed [n, d] embedding matrix.
	Feat anydiff.Res

	// Logits is the packed [n, 2] student output.
	Logits anydiff.Res

	// Teacher holds the packed [n, 2] teacher logits.
	// It is nil for objectives that do not distill.
	Teacher anydiff.Res

	Labels []int
}

// An Objective turns a batch of model outputs into a
// scalar loss and a detection score per sample, where a
// higher score means "more likely bona fide".
type Objective interface {
	Kind() string
	NeedsTeacher() bool
	Loss(in *Inputs) anydiff.Res
	Scores(feat, logits anydiff.Res, n int) []float64
}

// An Auxiliary is a trainable part of an objective that is
// optimized and checkpointed alongside the model.
type Auxiliary interface {
	anynet.Parameterizer
	serializer.Serializer
}

// Config configures New.
type Config struct {
	Kind   string
	EncDim int

	// Margins and scale of the one-class softmax losses.
	// Nil values keep the defaults.
	RReal *float64
	RFake *float64
	Alpha *float64

	FocalAlpha float64
	FocalGamma float64
	Beta       float64
}

// New creates the objective named by conf.Kind.
func New(c anyvec.Creator, conf *Config, r *rand.Rand) (Objective, error) {
	switch conf.Kind {
	case KindKDFocal:
		return &KDFocal{Distill: &Distill{
			Beta:  conf.Beta,
			Focal: &Focal{Alpha: conf.FocalAlpha, Gamma: conf.FocalGamma},
		}}, nil
	case KindKDWCEDOC:
		if conf.EncDim <= 0 {
			return nil, fmt.Errorf("objective %s: invalid embedding size %d", conf.Kind,
				conf.EncDim)
		}
		doc := NewDOCSoftmax(c, conf.EncDim, r)
		setMargins(&doc.RReal, &doc.RFake, &doc.Alpha, conf)
		return &KDWCEDOC{Beta: conf.Beta, WCE: NewWCE(), DOC: doc}, nil
	case KindOCSoftmax:
		if conf.EncDim <= 0 {
			return nil, fmt.Errorf("objective %s: invalid embedding size %d", conf.Kind,
				conf.EncDim)
		}
		oc := NewOCSoftmax(c, conf.EncDim, r)
		setMargins(&oc.RReal, &oc.RFake, &oc.Alpha, conf)
		return &OCObjective{OC: oc}, nil
	case KindWeightedCE:
		return &WCEObjective{WCE: NewWCE()}, nil
	default:
		return nil, fmt.Errorf("unknown loss: %s", conf.Kind)
	}
}

func setMargins(rReal, rFake, alpha *float64, conf *Config) {
	for _, x := range []struct {
		dst *float64
		src *float64
	}{{rReal, conf.RReal}, {rFake, conf.RFake}, {alpha, conf.Alpha}} {
		if x.src != nil {
			*x.dst = *x.src
		}
	}
}

// AuxiliaryOf returns the trainable part of o, if any.
func AuxiliaryOf(o Objective) (Auxiliary, bool) {
	switch o := o.(type) {
	case *OCObjective:
		return o.OC, true
	case *KDWCEDOC:
		return o.DOC, true
	}
	return nil, false
}

// SetAuxiliary replaces the trainable part of o with a
// previously saved one.
func SetAuxiliary(o Objective, aux Auxiliary) error {
	switch o := o.(type) {
	case *OCObjective:
		if oc, ok := aux.(*OCSoftmax); ok {
			o.OC = oc
			return nil
		}
	case *KDWCEDOC:
		if doc, ok := aux.(*DOCSoftmax); ok {
			o.DOC = doc
			return nil
		}
	default:
		return fmt.Errorf("objective %s has no loss model", o.Kind())
	}
	return fmt.Errorf("objective %s cannot use loss model %T", o.Kind(), aux)
}

// KDFocal distills a teacher into the student with a focal
// supervised term.
type KDFocal struct {
	Distill *Distill
}

func (k *KDFocal) Kind() string {
	return KindKDFocal
}

func (k *KDFocal) NeedsTeacher() bool {
	return true
}

func (k *KDFocal) Loss(in *Inputs) anydiff.Res {
	if in.Teacher == nil {
		panic("distillation requires teacher logits")
	}
	return k.Distill.Loss(in.Teacher, in.Logits, in.Labels)
}

func (k *KDFocal) Scores(feat, logits anydiff.Res, n int) []float64 {
	return positiveColumn(logits.Output())
}

// KDWCEDOC distills a teacher into the student with a
// supervised term made of a weighted cross-entropy plus a
// dual-centre one-class softmax on the embeddings.
type KDWCEDOC struct {
	Beta float64
	WCE  *WCE
	DOC  *DOCSoftmax
}

func (k *KDWCEDOC) Kind() string {
	return KindKDWCEDOC
}

func (k *KDWCEDOC) NeedsTeacher() bool {
	return true
}

func (k *KDWCEDOC) Loss(in *Inputs) anydiff.Res {
	if in.Teacher == nil {
		panic("distillation requires teacher logits")
	}
	c := in.Logits.Output().Creator()
	return anydiff.Pool(in.Logits, func(logits anydiff.Res) anydiff.Res {
		supervised := anydiff.Add(
			k.WCE.Loss(logits, in.Labels),
			k.DOC.Loss(in.Feat, in.Labels),
		)
		return blend(c, k.Beta, Consistency(in.Teacher, logits), supervised)
	})
}

func (k *KDWCEDOC) Scores(feat, logits anydiff.Res, n int) []float64 {
	return positiveColumn(logits.Output())
}

// OCObjective trains with a one-class softmax and scores
// samples by their cosine similarity to the centre.
type OCObjective struct {
	OC *OCSoftmax
}

func (o *OCObjective) Kind() string {
	return KindOCSoftmax
}

func (o *OCObjective) NeedsTeacher() bool {
	return false
}

func (o *OCObjective) Loss(in *Inputs) anydiff.Res {
	return o.OC.Loss(in.Feat, in.Labels)
}

func (o *OCObjective) Scores(feat, logits anydiff.Res, n int) []float64 {
	return float64Slice(o.OC.Scores(feat, n).Output())
}

// WCEObjective trains with a weighted cross-entropy.
type WCEObjective struct {
	WCE *WCE
}

func (w *WCEObjective) Kind() string {
	return KindWeightedCE
}

func (w *WCEObjective) NeedsTeacher() bool {
	return false
}

func (w *WCEObjective) Loss(in *Inputs) anydiff.Res {
	return w.WCE.Loss(in.Logits, in.Labels)
}

func (w *WCEObjective) Scores(feat, logits anydiff.Res, n int) []float64 {
	return positiveColumn(logits.Output())
}

// blend computes beta*a + (1-beta)*b.
func blend(c anyvec.Creator, beta float64, a, b anydiff.Res) anydiff.Res {
	return anydiff.Add(
		anydiff.Scale(a, c.MakeNumeric(beta)),
		anydiff.Scale(b, c.MakeNumeric(1-beta)),
	)
}
