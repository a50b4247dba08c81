package anyspoof

import (
	"math/rand"
	"path/filepath"

	"github.com/unixpickle/essentials"
)

// A Sample is a fixed-length waveform with its label.
type Sample struct {
	ID    string
	Wave  []float64
	Label int
}

// A Source provides labelled samples by index.
//
// Load may be called concurrently. Any randomness must come
// from the *rand.Rand argument, which is never shared
// between concurrent calls.
type Source interface {
	Len() int
	Load(idx int, r *rand.Rand) (*Sample, error)
}

// A Dataset reads one WAV file per trial from a directory.
type Dataset struct {
	Dir    string
	Trials []*Trial

	// NumSamples is the fixed length of every waveform.
	NumSamples int

	// RandomCrop selects a random window from long
	// waveforms instead of the leading samples.
	RandomCrop bool
}

// NewDataset creates a dataset from a trial list.
func NewDataset(dir, trialPath string, p Protocol, numSamples int,
	randomCrop bool) (*Dataset, error) {
	trials, err := ReadTrialsFile(trialPath, p)
	if err != nil {
		return nil, essentials.AddCtx("create dataset", err)
	}
	return &Dataset{
		Dir:        dir,
		Trials:     trials,
		NumSamples: numSamples,
		RandomCrop: randomCrop,
	}, nil
}

// Len returns the number of trials.
func (d *Dataset) Len() int {
	return len(d.Trials)
}

// Path returns the audio path of a trial.
func (d *Dataset) Path(idx int) string {
	return filepath.Join(d.Dir, d.Trials[idx].UttID+".wav")
}

// Load reads and pads the audio of a trial.
func (d *Dataset) Load(idx int, r *rand.Rand) (*Sample, error) {
	trial := d.Trials[idx]
	wave, err := ReadWAVFile(d.Path(idx))
	if err != nil {
		return nil, essentials.AddCtx("load "+trial.UttID, err)
	}
	if d.RandomCrop {
		wave = PadRandom(wave, d.NumSamples, r)
	} else {
		wave = Pad(wave, d.NumSamples)
	}
	return &Sample{
		ID:    trial.UttID,
		Wave:  wave,
		Label: trial.Label(),
	}, nil
}

// A SliceSource is a Source with predetermined samples.
type SliceSource []*Sample

// Len returns the number of samples.
func (s SliceSource) Len() int {
	return len(s)
}

// Load returns the sample at the index.
func (s SliceSource) Load(idx int, r *rand.Rand) (*Sample, error) {
	return s[idx], nil
}

// Pad fits a waveform to exactly n samples by truncating
// it or by repeating it from the start.
// An empty waveform yields silence.
func Pad(wave []float64, n int) []float64 {
	if len(wave) >= n {
		return append([]float64{}, wave[:n]...)
	}
	return tile(wave, n)
}

// PadRandom is like Pad, except that long waveforms are
// cropped at a random offset.
func PadRandom(wave []float64, n int, r *rand.Rand) []float64 {
	if len(wave) > n {
		var start int
		if r == nil {
			start = rand.Intn(len(wave) - n + 1)
		} else {
			start = r.Intn(len(wave) - n + 1)
		}
		return append([]float64{}, wave[start:start+n]...)
	}
	return Pad(wave, n)
}

func tile(wave []float64, n int) []float64 {
	res := make([]float64, n)
	if len(wave) == 0 {
		return res
	}
	for i := 0; i < n; i += len(wave) {
		copy(res[i:], wave)
	}
	return res
}
