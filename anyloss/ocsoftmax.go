package anyloss

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const normEpsilon = 1e-12

func init() {
	var o OCSoftmax
	serializer.RegisterTypedDeserializer(o.SerializerType(), DeserializeOCSoftmax)
	var d DOCSoftmax
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDOCSoftmax)
}

// OCSoftmax is a one-class softmax loss.
//
// Bona fide embeddings (label 1) are pulled within a
// cosine margin RReal of a learned centre, while spoofed
// embeddings (label 0) are pushed below RFake.
type OCSoftmax struct {
	Center *anydiff.Var
	RReal  float64
	RFake  float64
	Alpha  float64
}

// NewOCSoftmax creates an OCSoftmax with a randomly
// initialized centre of the given dimension.
func NewOCSoftmax(c anyvec.Creator, dim int, r *rand.Rand) *OCSoftmax {
	return &OCSoftmax{
		Center: newCenter(c, dim, r),
		RReal:  0.9,
		RFake:  0.2,
		Alpha:  20,
	}
}

// DeserializeOCSoftmax deserializes an OCSoftmax.
func DeserializeOCSoftmax(d []byte) (*OCSoftmax, error) {
	var res OCSoftmax
	var center *anyvecsave.S
	err := serializer.DeserializeAny(d, &center, &res.RReal, &res.RFake, &res.Alpha)
	if err != nil {
		return nil, essentials.AddCtx("deserialize OCSoftmax", err)
	}
	res.Center = anydiff.NewVar(center.Vector)
	return &res, nil
}

// Scores computes the cosine similarity between every
// embedding and the centre.
func (o *OCSoftmax) Scores(feat anydiff.Res, n int) anydiff.Res {
	return cosine(feat, o.Center, n)
}

// Loss computes the mean one-class softmax loss.
func (o *OCSoftmax) Loss(feat anydiff.Res, labels []int) anydiff.Res {
	scores := o.Scores(feat, len(labels))
	return mean(marginSoftplus(scores, labels, o.RReal, o.RFake, o.Alpha))
}

// Parameters returns the centre.
func (o *OCSoftmax) Parameters() []*anydiff.Var {
	return []*anydiff.Var{o.Center}
}

// SerializerType returns the unique ID used to serialize
// an OCSoftmax with the serializer package.
func (o *OCSoftmax) SerializerType() string {
	return "github.com/unixpickle/anykd/anyloss.OCSoftmax"
}

// Serialize serializes the OCSoftmax.
func (o *OCSoftmax) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: o.Center.Vector},
		o.RReal, o.RFake, o.Alpha,
	)
}

// DOCSoftmax is a dual-centre one-class softmax.
//
// It keeps one centre per class. Each centre acts as an
// OCSoftmax centre for its own class, with the margins
// swapped for the spoof centre.
type DOCSoftmax struct {
	Real  *anydiff.Var
	Fake  *anydiff.Var
	RReal float64
	RFake float64
	Alpha float64
}

// NewDOCSoftmax creates a DOCSoftmax with random centres.
func NewDOCSoftmax(c anyvec.Creator, dim int, r *rand.Rand) *DOCSoftmax {
	return &DOCSoftmax{
		Real:  newCenter(c, dim, r),
		Fake:  newCenter(c, dim, r),
		RReal: 0.9,
		RFake: 0.2,
		Alpha: 20,
	}
}

// DeserializeDOCSoftmax deserializes a DOCSoftmax.
func DeserializeDOCSoftmax(d []byte) (*DOCSoftmax, error) {
	var res DOCSoftmax
	var realCenter, fakeCenter *anyvecsave.S
	err := serializer.DeserializeAny(d, &realCenter, &fakeCenter, &res.RReal, &res.RFake,
		&res.Alpha)
	if err != nil {
		return nil, essentials.AddCtx("deserialize DOCSoftmax", err)
	}
	res.Real = anydiff.NewVar(realCenter.Vector)
	res.Fake = anydiff.NewVar(fakeCenter.Vector)
	return &res, nil
}

// Scores computes the difference between the cosine
// similarity to the bona fide centre and to the spoof
// centre.
func (o *DOCSoftmax) Scores(feat anydiff.Res, n int) anydiff.Res {
	return anydiff.Pool(feat, func(feat anydiff.Res) anydiff.Res {
		return anydiff.Sub(cosine(feat, o.Real, n), cosine(feat, o.Fake, n))
	})
}

// Loss computes the sum of the mean losses for both
// centres.
func (o *DOCSoftmax) Loss(feat anydiff.Res, labels []int) anydiff.Res {
	n := len(labels)
	flipped := make([]int, n)
	for i, y := range labels {
		flipped[i] = 1 - y
	}
	return anydiff.Pool(feat, func(feat anydiff.Res) anydiff.Res {
		realLoss := marginSoftplus(cosine(feat, o.Real, n), labels, o.RReal, o.RFake, o.Alpha)
		fakeLoss := marginSoftplus(cosine(feat, o.Fake, n), flipped, o.RReal, o.RFake, o.Alpha)
		return anydiff.Add(mean(realLoss), mean(fakeLoss))
	})
}

// Parameters returns both centres.
func (o *DOCSoftmax) Parameters() []*anydiff.Var {
	return []*anydiff.Var{o.Real, o.Fake}
}

// SerializerType returns the unique ID used to serialize
// a DOCSoftmax with the serializer package.
func (o *DOCSoftmax) SerializerType() string {
	return "github.com/unixpickle/anykd/anyloss.DOCSoftmax"
}

// Serialize serializes the DOCSoftmax.
func (o *DOCSoftmax) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: o.Real.Vector},
		&anyvecsave.S{Vector: o.Fake.Vector},
		o.RReal, o.RFake, o.Alpha,
	)
}

func newCenter(c anyvec.Creator, dim int, r *rand.Rand) *anydiff.Var {
	vec := c.MakeVector(dim)
	anyvec.Rand(vec, anyvec.Normal, r)
	return anydiff.NewVar(vec)
}

// cosine computes the cosine similarity between each row
// of a packed [n, d] matrix and a centre vector.
func cosine(feat anydiff.Res, center *anydiff.Var, n int) anydiff.Res {
	d := center.Vector.Len()
	c := center.Vector.Creator()
	return anydiff.Pool(feat, func(feat anydiff.Res) anydiff.Res {
		dots := anydiff.MatMul(false, true,
			&anydiff.Matrix{Data: feat, Rows: n, Cols: d},
			&anydiff.Matrix{Data: center, Rows: 1, Cols: d},
		).Data
		featNorms := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Square(feat),
			Rows: n,
			Cols: d,
		})
		invFeat := anydiff.Pow(anydiff.AddScalar(featNorms, c.MakeNumeric(normEpsilon)),
			c.MakeNumeric(-0.5))
		invCenter := anydiff.Pow(
			anydiff.AddScalar(anydiff.Sum(anydiff.Square(center)), c.MakeNumeric(normEpsilon)),
			c.MakeNumeric(-0.5),
		)
		scaled := anydiff.Mul(dots, invFeat)
		return anydiff.MatMul(false, false,
			&anydiff.Matrix{Data: scaled, Rows: n, Cols: 1},
			&anydiff.Matrix{Data: invCenter, Rows: 1, Cols: 1},
		).Data
	})
}

// marginSoftplus computes softplus(alpha*z) per sample,
// where z is rReal-s for label 1 and s-rFake for label 0.
func marginSoftplus(scores anydiff.Res, labels []int, rReal, rFake, alpha float64) anydiff.Res {
	c := scores.Output().Creator()
	signs := make([]float64, len(labels))
	offsets := make([]float64, len(labels))
	for i, y := range labels {
		if y == 1 {
			signs[i] = -alpha
			offsets[i] = alpha * rReal
		} else {
			signs[i] = alpha
			offsets[i] = -alpha * rFake
		}
	}
	z := anydiff.Add(anydiff.Mul(scores, constVec(c, signs)), constVec(c, offsets))

	// softplus(z) = -log(sigmoid(-z))
	minusOne := c.MakeNumeric(-1)
	return anydiff.Scale(anydiff.LogSigmoid(anydiff.Scale(z, minusOne)), minusOne)
}

var (
	_ anynet.Parameterizer = (*OCSoftmax)(nil)
	_ anynet.Parameterizer = (*DOCSoftmax)(nil)
)
