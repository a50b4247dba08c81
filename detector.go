package anykd

import (
	"errors"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Detector
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDetector)
}

// DetectorConfig describes the shape of a Detector.
type DetectorConfig struct {
	// NumSamples is the waveform length of every input.
	NumSamples int

	FrameSize int
	Hop       int

	Hidden int
	EncDim int

	// MaskWidth bounds the frequency band removed by
	// augmentation.
	MaskWidth int
}

// A Detector is a spectral countermeasure network.
//
// Waveforms pass through a Spectrogram, an optional
// FreqMask, and an Encoder whose output is the embedding.
// A fully-connected Head maps the embedding to logits.
type Detector struct {
	Frontend *Spectrogram
	Mask     *FreqMask
	Encoder  anynet.Net
	Head     *anynet.FC

	training bool
}

// NewDetector creates a randomly initialized Detector in
// training mode.
//
// If r is nil, the global random source is used.
func NewDetector(c anyvec.Creator, conf *DetectorConfig, r *rand.Rand) (*Detector, error) {
	if conf.NumSamples <= 0 || conf.FrameSize <= 0 || conf.Hop <= 0 {
		return nil, errors.New("new detector: sample count, frame size and hop must be positive")
	}
	if conf.Hidden <= 0 || conf.EncDim <= 0 {
		return nil, errors.New("new detector: hidden and embedding sizes must be positive")
	}
	front := &Spectrogram{
		NumSamples: conf.NumSamples,
		FrameSize:  conf.FrameSize,
		Hop:        conf.Hop,
	}
	return &Detector{
		Frontend: front,
		Mask:     &FreqMask{MaxWidth: conf.MaskWidth, Rand: r},
		Encoder: anynet.Net{
			newFC(c, front.Bins(), conf.Hidden, r),
			NewBatchNorm(c, conf.Hidden),
			anynet.ReLU,
			newFC(c, conf.Hidden, conf.EncDim, r),
			NewBatchNorm(c, conf.EncDim),
			anynet.ReLU,
		},
		Head:     newFC(c, conf.EncDim, 2, r),
		training: true,
	}, nil
}

// DeserializeDetector deserializes a Detector.
// The result is in inference mode.
func DeserializeDetector(d []byte) (*Detector, error) {
	var res Detector
	err := serializer.DeserializeAny(d, &res.Frontend, &res.Mask, &res.Encoder, &res.Head)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Detector", err)
	}
	res.SetTraining(false)
	return &res, nil
}

// Forward applies the network to a batch of waveforms.
// The augment flag only has an effect in training mode.
func (d *Detector) Forward(in anydiff.Res, n int, augment bool) (feat, logits anydiff.Res) {
	spec := d.Frontend.Apply(in, n)
	d.Mask.Enabled = augment && d.training
	spec = d.Mask.Apply(spec, n)
	feat = d.Encoder.Apply(spec, n)
	logits = d.Head.Apply(feat, n)
	return
}

// Parameters returns the encoder parameters followed by
// the head parameters.
func (d *Detector) Parameters() []*anydiff.Var {
	return append(d.Encoder.Parameters(), d.Head.Parameters()...)
}

// SetTraining sets the mode of every BatchNorm layer.
func (d *Detector) SetTraining(training bool) {
	d.training = training
	for _, bn := range d.BatchNorms() {
		bn.Training = training
	}
}

// BatchNorms returns the BatchNorm layers of the encoder.
func (d *Detector) BatchNorms() []*BatchNorm {
	var res []*BatchNorm
	for _, l := range d.Encoder {
		if bn, ok := l.(*BatchNorm); ok {
			res = append(res, bn)
		}
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Detector with the serializer package.
func (d *Detector) SerializerType() string {
	return "github.com/unixpickle/anykd.Detector"
}

// Serialize serializes the Detector.
func (d *Detector) Serialize() ([]byte, error) {
	return serializer.SerializeAny(d.Frontend, d.Mask, d.Encoder, d.Head)
}

// newFC is anynet.NewFC with an explicit random source.
func newFC(c anyvec.Creator, in, out int, r *rand.Rand) *anynet.FC {
	res := anynet.NewFCZero(c, in, out)
	anyvec.Rand(res.Weights.Vector, anyvec.Normal, r)
	res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return res
}
