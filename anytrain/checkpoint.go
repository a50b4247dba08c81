package anytrain

import (
	"fmt"
	"path/filepath"

	"github.com/unixpickle/anykd/anyloss"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// A Role distinguishes the kinds of checkpoint written
// during a run.
type Role int

const (
	// RoleEpoch is a model with a new best dev EER.
	RoleEpoch Role = iota

	// RoleMidBest is the best model by evaluation t-DCF
	// among the per-epoch bests.
	RoleMidBest

	// RoleSWA is the final averaged model.
	RoleSWA

	// RoleBest is the final model, if it beats every
	// per-epoch best.
	RoleBest
)

// WeightsName returns the file name of a model checkpoint.
// The epoch and EER are only used by RoleEpoch.
func (r Role) WeightsName(epoch int, eer float64) string {
	switch r {
	case RoleEpoch:
		return fmt.Sprintf("epoch_%d_%03.3f.model", epoch, eer)
	case RoleMidBest:
		return "midbest.model"
	case RoleSWA:
		return "swa.model"
	case RoleBest:
		return "best.model"
	}
	panic(fmt.Sprintf("unknown role: %d", r))
}

// LossName returns the file name of a loss model
// checkpoint. The epoch is only used by RoleEpoch.
func (r Role) LossName(epoch int) string {
	switch r {
	case RoleEpoch:
		return fmt.Sprintf("epoch_%d_loss.model", epoch)
	case RoleMidBest:
		return "midlossbest.model"
	case RoleSWA:
		return "swaloss.model"
	case RoleBest:
		return "bestloss.model"
	}
	panic(fmt.Sprintf("unknown role: %d", r))
}

// A Saver persists the live model under a role.
type Saver interface {
	Save(role Role, epoch int, eer float64) error
}

// Checkpoints saves a model and its optional loss model to
// a directory.
type Checkpoints struct {
	Dir   string
	Model serializer.Serializer

	// Loss is the trainable part of the objective, or nil.
	Loss anyloss.Auxiliary
}

// Save writes the model, and the loss model if there is
// one.
func (c *Checkpoints) Save(role Role, epoch int, eer float64) error {
	path := filepath.Join(c.Dir, role.WeightsName(epoch, eer))
	if err := serializer.SaveAny(path, c.Model); err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	if c.Loss != nil {
		path := filepath.Join(c.Dir, role.LossName(epoch))
		if err := serializer.SaveAny(path, c.Loss); err != nil {
			return essentials.AddCtx("save loss checkpoint", err)
		}
	}
	return nil
}

// LoadLoss reads a loss model written by Checkpoints.
func LoadLoss(path string) (anyloss.Auxiliary, error) {
	var aux anyloss.Auxiliary
	if err := serializer.LoadAny(path, &aux); err != nil {
		return nil, essentials.AddCtx("load loss model", err)
	}
	return aux, nil
}
