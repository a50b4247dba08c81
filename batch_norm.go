package anykd

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	defaultBNMomentum   = 0.1
	defaultBNStabilizer = 1e-3
)

func init() {
	var b BatchNorm
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBatchNorm)
}

// BatchNorm is an anyconv.BatchNorm which also tracks
// running statistics, so that a network can be evaluated
// one sample at a time after training.
//
// While Training is set, the layer normalizes with batch
// statistics and folds them into RunningMean and
// RunningVar.
// Otherwise, it applies the fixed affine transform implied
// by the running statistics.
type BatchNorm struct {
	*anyconv.BatchNorm

	RunningMean anyvec.Vector
	RunningVar  anyvec.Vector

	// Momentum is the weight of each new batch in the
	// running statistics.
	// If it is 0, a default is used.
	Momentum float64

	// Cumulative replaces the momentum update with an
	// average over every sample seen since the last
	// ResetStats, where each batch is weighted by its size.
	Cumulative bool

	// NumBatches and NumSamples count the batches and
	// samples folded into the running statistics since
	// the last ResetStats.
	NumBatches int
	NumSamples int

	Training bool
}

// DeserializeBatchNorm deserializes a BatchNorm.
// The result is in inference mode.
func DeserializeBatchNorm(d []byte) (*BatchNorm, error) {
	var inner *anyconv.BatchNorm
	var mean, variance *anyvecsave.S
	var momentum serializer.Float64
	var numBatches, numSamples serializer.Int
	err := serializer.DeserializeAny(d, &inner, &mean, &variance, &momentum, &numBatches,
		&numSamples)
	if err != nil {
		return nil, essentials.AddCtx("deserialize BatchNorm", err)
	}
	return &BatchNorm{
		BatchNorm:   inner,
		RunningMean: mean.Vector,
		RunningVar:  variance.Vector,
		Momentum:    float64(momentum),
		NumBatches:  int(numBatches),
		NumSamples:  int(numSamples),
	}, nil
}

// NewBatchNorm creates a BatchNorm in training mode with
// zero running means and unit running variances.
func NewBatchNorm(c anyvec.Creator, inCount int) *BatchNorm {
	res := &BatchNorm{
		BatchNorm: anyconv.NewBatchNorm(c, inCount),
		Training:  true,
	}
	res.ResetStats()
	return res
}

// ResetStats clears the running statistics.
func (b *BatchNorm) ResetStats() {
	c := b.Scalers.Vector.Creator()
	b.RunningMean = c.MakeVector(b.InputCount)
	b.RunningVar = c.MakeVector(b.InputCount)
	b.RunningVar.AddScalar(c.MakeNumeric(1))
	b.NumBatches = 0
	b.NumSamples = 0
}

// Apply applies the layer to a batch.
func (b *BatchNorm) Apply(in anydiff.Res, batch int) anydiff.Res {
	if in.Output().Len()%b.InputCount != 0 {
		panic("invalid input size")
	}
	if !b.Training {
		return b.applyRunning(in)
	}
	b.track(in.Output())
	return b.BatchNorm.Apply(in, batch)
}

// SerializerType returns the unique ID used to serialize
// a BatchNorm with the serializer package.
func (b *BatchNorm) SerializerType() string {
	return "github.com/unixpickle/anykd.BatchNorm"
}

// Serialize serializes the layer, including its running
// statistics.
func (b *BatchNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		b.BatchNorm,
		&anyvecsave.S{Vector: b.RunningMean},
		&anyvecsave.S{Vector: b.RunningVar},
		serializer.Float64(b.Momentum),
		serializer.Int(b.NumBatches),
		serializer.Int(b.NumSamples),
	)
}

func (b *BatchNorm) applyRunning(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	stddev := b.RunningVar.Copy()
	stddev.AddScalar(c.MakeNumeric(b.stabilizer()))
	anyvec.Pow(stddev, c.MakeNumeric(0.5))

	scaler := b.Scalers.Vector.Copy()
	scaler.Div(stddev)
	bias := b.Biases.Vector.Copy()
	shift := b.RunningMean.Copy()
	shift.Mul(scaler)
	bias.Sub(shift)

	return anydiff.ScaleAddRepeated(in, anydiff.NewConst(scaler), anydiff.NewConst(bias))
}

func (b *BatchNorm) track(out anyvec.Vector) {
	c := out.Creator()
	count := out.Len() / b.InputCount
	normalizer := c.MakeNumeric(1 / float64(count))

	mean := anyvec.SumRows(out, b.InputCount)
	mean.Scale(normalizer)

	sq := out.Copy()
	sq.Mul(out)
	variance := anyvec.SumRows(sq, b.InputCount)
	variance.Scale(normalizer)
	meanSq := mean.Copy()
	meanSq.Mul(mean)
	variance.Sub(meanSq)
	if count > 1 {
		variance.Scale(c.MakeNumeric(float64(count) / float64(count-1)))
	}

	b.NumBatches++
	b.NumSamples += count
	factor := b.momentum()
	if b.Cumulative {
		factor = float64(count) / float64(b.NumSamples)
	}
	foldStat(b.RunningMean, mean, factor)
	foldStat(b.RunningVar, variance, factor)
}

func (b *BatchNorm) momentum() float64 {
	if b.Momentum == 0 {
		return defaultBNMomentum
	}
	return b.Momentum
}

func (b *BatchNorm) stabilizer() float64 {
	if b.Stabilizer == 0 {
		return defaultBNStabilizer
	}
	return b.Stabilizer
}

// foldStat sets running to (1-factor)*running + factor*x.
func foldStat(running, x anyvec.Vector, factor float64) {
	c := running.Creator()
	running.Scale(c.MakeNumeric(1 - factor))
	x.Scale(c.MakeNumeric(factor))
	running.Add(x)
}
