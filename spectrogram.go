package anykd

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const spectrogramFloor = 1e-6

func init() {
	var s Spectrogram
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeSpectrogram)
}

// Spectrogram is a parameter-free front end which turns
// each waveform in a batch into a log power spectrum,
// averaged over Hann-windowed frames.
//
// The output of each sample has Bins() components.
// Gradients are not propagated through the front end.
type Spectrogram struct {
	NumSamples int
	FrameSize  int
	Hop        int
}

// DeserializeSpectrogram deserializes a Spectrogram.
func DeserializeSpectrogram(d []byte) (*Spectrogram, error) {
	var n, frame, hop serializer.Int
	if err := serializer.DeserializeAny(d, &n, &frame, &hop); err != nil {
		return nil, essentials.AddCtx("deserialize Spectrogram", err)
	}
	return &Spectrogram{NumSamples: int(n), FrameSize: int(frame), Hop: int(hop)}, nil
}

// Bins returns the number of frequency bins per sample.
func (s *Spectrogram) Bins() int {
	return s.FrameSize/2 + 1
}

// Apply computes the spectra for a batch of waveforms.
func (s *Spectrogram) Apply(in anydiff.Res, n int) anydiff.Res {
	if in.Output().Len() != n*s.NumSamples {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			n*s.NumSamples, in.Output().Len()))
	}
	samples := float64Data(in.Output().Data())
	window := hannWindow(s.FrameSize)
	res := make([]float64, 0, n*s.Bins())
	for i := 0; i < n; i++ {
		wave := samples[i*s.NumSamples : (i+1)*s.NumSamples]
		res = append(res, s.spectrum(wave, window)...)
	}
	c := in.Output().Creator()
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(res)))
}

// SerializerType returns the unique ID used to serialize
// a Spectrogram with the serializer package.
func (s *Spectrogram) SerializerType() string {
	return "github.com/unixpickle/anykd.Spectrogram"
}

// Serialize serializes the layer.
func (s *Spectrogram) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(s.NumSamples),
		serializer.Int(s.FrameSize),
		serializer.Int(s.Hop),
	)
}

func (s *Spectrogram) spectrum(wave, window []float64) []float64 {
	power := make([]float64, s.Bins())
	frame := make([]float64, s.FrameSize)
	var numFrames int
	for start := 0; start == 0 || start+s.FrameSize <= len(wave); start += s.Hop {
		for i := range frame {
			frame[i] = 0
			if start+i < len(wave) {
				frame[i] = wave[start+i] * window[i]
			}
		}
		coeffs := fft.FFTReal(frame)
		for i := range power {
			mag := cmplx.Abs(coeffs[i])
			power[i] += mag * mag
		}
		numFrames++
	}
	for i, p := range power {
		power[i] = math.Log(p/float64(numFrames) + spectrogramFloor)
	}
	return power
}

func hannWindow(size int) []float64 {
	res := make([]float64, size)
	if size == 1 {
		res[0] = 1
		return res
	}
	for i := range res {
		res[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
	}
	return res
}

func float64Data(data interface{}) []float64 {
	switch data := data.(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}
