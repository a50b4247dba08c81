package anyopt

import (
	"fmt"
	"math"

	"github.com/unixpickle/anynet/anysgd"
)

// Names of the supported learning rate schedules.
const (
	ScheduleCosine     = "cosine"
	ScheduleKerasDecay = "keras_decay"
)

// NewSchedule creates a per-step schedule by name.
//
// For the cosine schedule, the annealing period is the
// whole run of epochs*stepsPerEpoch steps.
func NewSchedule(name string, baseLR, minLR float64, epochs, stepsPerEpoch int) (anysgd.Rater, error) {
	switch name {
	case ScheduleCosine:
		if epochs*stepsPerEpoch <= 0 {
			return nil, fmt.Errorf("cosine schedule: invalid step count %d",
				epochs*stepsPerEpoch)
		}
		return &Cosine{BaseLR: baseLR, MinLR: minLR, TotalSteps: epochs * stepsPerEpoch}, nil
	case ScheduleKerasDecay:
		return &KerasDecay{BaseLR: baseLR}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler: %s", name)
	}
}

// Cosine anneals the learning rate from BaseLR at step 0
// to MinLR at TotalSteps.
type Cosine struct {
	BaseLR     float64
	MinLR      float64
	TotalSteps int
}

// Rate computes the cosine-annealed rate.
func (c *Cosine) Rate(step float64) float64 {
	frac := step / float64(c.TotalSteps)
	return c.MinLR + (c.BaseLR-c.MinLR)*0.5*(1+math.Cos(frac*math.Pi))
}

// KerasDecay implements the default learning rate decay of
// Keras optimizers, BaseLR/(1+Decay*step).
//
// If Decay is 0, 1e-4 is used.
type KerasDecay struct {
	BaseLR float64
	Decay  float64
}

// Rate computes the decayed rate.
func (k *KerasDecay) Rate(step float64) float64 {
	return k.BaseLR / (1 + valueOrDefault(k.Decay, 1e-4)*step)
}

// StepDecay multiplies a rate by Factor once every
// Interval epochs.
type StepDecay struct {
	BaseLR   float64
	Factor   float64
	Interval int
}

// Rate computes the rate for an epoch.
// Fractional epochs count as the epoch they are in.
func (s *StepDecay) Rate(epoch float64) float64 {
	if s.Interval <= 0 {
		return s.BaseLR
	}
	return s.BaseLR * math.Pow(s.Factor, math.Floor(math.Floor(epoch)/float64(s.Interval)))
}

// A Scheduler is a Rater whose position only moves when
// Advance is called.
//
// An empty Name means no schedule, in which case the rate
// is always BaseLR.
type Scheduler struct {
	Name   string
	BaseLR float64

	// Rater computes the rate at the current position.
	// It is unused when Name is empty.
	Rater anysgd.Rater

	// Position is the number of calls to Advance.
	Position int
}

// NewScheduler creates a Scheduler for a named schedule.
// The name "" (or "null") disables scheduling.
func NewScheduler(name string, baseLR, minLR float64, epochs,
	stepsPerEpoch int) (*Scheduler, error) {
	if name == "" || name == "null" {
		return &Scheduler{BaseLR: baseLR}, nil
	}
	r, err := NewSchedule(name, baseLR, minLR, epochs, stepsPerEpoch)
	if err != nil {
		return nil, err
	}
	return &Scheduler{Name: name, BaseLR: baseLR, Rater: r}, nil
}

// Rate returns the rate at the scheduler's position.
// The step argument is ignored.
func (s *Scheduler) Rate(step float64) float64 {
	if s.Name == "" {
		return s.BaseLR
	}
	return s.Rater.Rate(float64(s.Position))
}

// Advance moves the schedule forward by one step.
//
// It is a no-op without a schedule, and fails for names
// other than the per-step schedules.
func (s *Scheduler) Advance() error {
	switch s.Name {
	case "":
	case ScheduleCosine, ScheduleKerasDecay:
		s.Position++
	default:
		return fmt.Errorf("scheduler error, got: %s", s.Name)
	}
	return nil
}
