// Package anykd trains anti-spoofing countermeasures by
// distilling a frozen teacher network into a student.
//
// The root package defines the model abstractions shared
// by the training, averaging and evaluation packages, and
// provides a small spectral Detector built from anynet
// layers.
package anykd

import (
	"errors"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

// ErrNoAccelerator is returned when a device is requested
// that this build cannot provide.
var ErrNoAccelerator = errors.New("no accelerator device available")

// A Forwarder maps a batch of packed waveforms to
// embeddings and two-class logits.
//
// The logits are packed as [batch, 2], where column 1 is
// the bona fide class.
type Forwarder interface {
	Forward(in anydiff.Res, batch int, augment bool) (feat, logits anydiff.Res)
}

// A Model is a trainable Forwarder.
//
// The parameters of a Model must be in the same order
// every time Parameters() is called, since averaged
// snapshots are matched up by position.
type Model interface {
	Forwarder
	anynet.Parameterizer

	// SetTraining switches between batch statistics
	// (training) and running statistics (inference).
	SetTraining(training bool)

	// BatchNorms returns the normalization layers whose
	// running statistics depend on the parameters.
	BatchNorms() []*BatchNorm
}

// NewCreator returns the vector creator for a device name.
//
// The empty name and "cpu32" select 32-bit host vectors,
// "cpu64" selects 64-bit host vectors.
// Accelerator names produce ErrNoAccelerator.
func NewCreator(device string) (anyvec.Creator, error) {
	switch strings.ToLower(device) {
	case "", "cpu", "cpu32":
		return anyvec32.CurrentCreator(), nil
	case "cpu64":
		return anyvec64.CurrentCreator(), nil
	case "cuda", "gpu":
		return nil, ErrNoAccelerator
	default:
		return nil, errors.New("unknown device: " + device)
	}
}

// SaveModel writes a serializable model to a file.
func SaveModel(path string, m serializer.Serializer) error {
	return serializer.SaveAny(path, m)
}

// LoadDetector reads a Detector written by SaveModel.
func LoadDetector(path string) (*Detector, error) {
	var d *Detector
	if err := serializer.LoadAny(path, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// NumParams counts the scalar parameters of p.
func NumParams(p anynet.Parameterizer) int {
	var n int
	for _, v := range p.Parameters() {
		n += v.Vector.Len()
	}
	return n
}
