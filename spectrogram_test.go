package anykd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestSpectrogramPeak(t *testing.T) {
	s := &Spectrogram{NumSamples: 128, FrameSize: 32, Hop: 16}
	var wave []float64
	for _, cycles := range []float64{4, 9} {
		for i := 0; i < s.NumSamples; i++ {
			wave = append(wave, math.Sin(2*math.Pi*cycles*float64(i)/float64(s.FrameSize)))
		}
	}
	out := s.Apply(anydiff.NewConst(anyvec64.MakeVectorData(wave)), 2).Output()
	if out.Len() != 2*s.Bins() {
		t.Fatalf("expected %d outputs but got %d", 2*s.Bins(), out.Len())
	}
	for i, expected := range []int{4, 9} {
		spec := out.Data().([]float64)[i*s.Bins() : (i+1)*s.Bins()]
		if idx := anyvec.MaxIndex(anyvec64.MakeVectorData(spec)); idx != expected {
			t.Errorf("sample %d: peak should be bin %d but got %d", i, expected, idx)
		}
	}
}

func TestSpectrogramShortInput(t *testing.T) {
	s := &Spectrogram{NumSamples: 10, FrameSize: 16, Hop: 8}
	out := s.Apply(anydiff.NewConst(anyvec64.MakeVector(10)), 1).Output()
	for i, x := range out.Data().([]float64) {
		if math.Abs(x-math.Log(spectrogramFloor)) > 1e-9 {
			t.Errorf("bin %d: silent input should give the floor, got %f", i, x)
		}
	}
}

func TestFreqMask(t *testing.T) {
	const bins = 10
	const n = 8
	ones := anyvec64.MakeVector(n * bins)
	ones.AddScalar(1.0)
	in := anydiff.NewConst(ones)

	m := &FreqMask{MaxWidth: 3, Rand: rand.New(rand.NewSource(7))}
	if m.Apply(in, n) != anydiff.Res(in) {
		t.Error("disabled mask should be the identity")
	}

	m.Enabled = true
	out := m.Apply(in, n).Output().Data().([]float64)
	for i := 0; i < n; i++ {
		row := out[i*bins : (i+1)*bins]
		first, last := -1, -1
		for j, x := range row {
			if x == 0 {
				if first < 0 {
					first = j
				}
				last = j
			} else if x != 1 {
				t.Fatalf("row %d: unexpected value %f", i, x)
			}
		}
		if first < 0 {
			continue
		}
		if last-first+1 > m.MaxWidth {
			t.Errorf("row %d: band of %d bins exceeds %d", i, last-first+1, m.MaxWidth)
		}
		for j := first; j <= last; j++ {
			if row[j] != 0 {
				t.Errorf("row %d: band is not contiguous", i)
			}
		}
	}
}
