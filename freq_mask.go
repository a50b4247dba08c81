package anykd

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var f FreqMask
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFreqMask)
}

// FreqMask is a frequency-domain augmentation layer.
// When enabled, it zeros a random contiguous band of up
// to MaxWidth bins in every spectrum of the batch.
// When disabled, it is the identity.
type FreqMask struct {
	Enabled  bool
	MaxWidth int

	// Rand is the source of band positions.
	// If nil, the global source is used.
	Rand *rand.Rand
}

// DeserializeFreqMask deserializes a FreqMask.
// The result is disabled.
func DeserializeFreqMask(d []byte) (*FreqMask, error) {
	var width serializer.Int
	if err := serializer.DeserializeAny(d, &width); err != nil {
		return nil, essentials.AddCtx("deserialize FreqMask", err)
	}
	return &FreqMask{MaxWidth: int(width)}, nil
}

// Apply applies the layer.
func (f *FreqMask) Apply(in anydiff.Res, n int) anydiff.Res {
	if !f.Enabled || f.MaxWidth <= 0 {
		return in
	}
	bins := in.Output().Len() / n
	mask := make([]float64, in.Output().Len())
	for i := range mask {
		mask[i] = 1
	}
	for i := 0; i < n; i++ {
		width := f.intn(min(f.MaxWidth, bins) + 1)
		start := f.intn(bins - width + 1)
		for j := start; j < start+width; j++ {
			mask[i*bins+j] = 0
		}
	}
	c := in.Output().Creator()
	return anydiff.Mul(in, anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(mask))))
}

// SerializerType returns the unique ID used to serialize
// a FreqMask with the serializer package.
func (f *FreqMask) SerializerType() string {
	return "github.com/unixpickle/anykd.FreqMask"
}

// Serialize serializes the layer.
func (f *FreqMask) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Int(f.MaxWidth))
}

func (f *FreqMask) intn(n int) int {
	if f.Rand == nil {
		return rand.Intn(n)
	}
	return f.Rand.Intn(n)
}
