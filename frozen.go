package anykd

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var f Frozen
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFrozen)
}

// A Frozen wraps a Model and only exposes inference.
//
// Frozen does not implement anynet.Parameterizer, so its
// parameters cannot reach an optimizer, and its outputs
// are constants, so no gradient flows back into it.
// The wrapped model is always run with running
// statistics and without augmentation.
type Frozen struct {
	model Model
}

// Freeze wraps a model.
// The model should not be trained after this.
func Freeze(m Model) *Frozen {
	m.SetTraining(false)
	return &Frozen{model: m}
}

// LoadFrozen loads a Detector checkpoint and freezes it.
func LoadFrozen(path string) (*Frozen, error) {
	d, err := LoadDetector(path)
	if err != nil {
		return nil, essentials.AddCtx("load frozen model", err)
	}
	return Freeze(d), nil
}

// DeserializeFrozen deserializes a Frozen.
func DeserializeFrozen(d []byte) (*Frozen, error) {
	var m Model
	if err := serializer.DeserializeAny(d, &m); err != nil {
		return nil, essentials.AddCtx("deserialize Frozen", err)
	}
	return Freeze(m), nil
}

// Forward applies the wrapped model in inference mode.
// The augment argument is ignored.
func (f *Frozen) Forward(in anydiff.Res, n int, augment bool) (feat, logits anydiff.Res) {
	f.model.SetTraining(false)
	feat, logits = f.model.Forward(in, n, false)
	return anydiff.NewConst(feat.Output().Copy()), anydiff.NewConst(logits.Output().Copy())
}

// SerializerType returns the unique ID used to serialize
// a Frozen with the serializer package.
func (f *Frozen) SerializerType() string {
	return "github.com/unixpickle/anykd.Frozen"
}

// Serialize serializes the wrapped model, which must be a
// serializer.Serializer.
func (f *Frozen) Serialize() ([]byte, error) {
	s, ok := f.model.(serializer.Serializer)
	if !ok {
		return nil, fmt.Errorf("not a Serializer: %T", f.model)
	}
	return serializer.SerializeAny(s)
}
