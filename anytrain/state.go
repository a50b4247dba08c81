package anytrain

import "math"

// Metrics summarizes one training epoch.
type Metrics struct {
	Epoch   int
	Loss    float64
	DevEER  float64
	DevTDCF float64

	// Snapshot is set if the epoch was folded into the
	// weight average.
	Snapshot bool

	// Evaluated is set if the epoch was scored on the
	// evaluation set, in which case EvalEER and EvalTDCF
	// are meaningful.
	Evaluated bool
	EvalEER   float64
	EvalTDCF  float64
}

// State tracks the best metrics of a run.
//
// EERs are percentages. The fields should only be updated
// through the Observe and Record methods.
type State struct {
	BestDevEER   float64
	BestDevTDCF  float64
	BestEvalEER  float64
	BestEvalTDCF float64
	SWAUpdates   int
}

// NewState creates the state at the start of a run.
func NewState() *State {
	return &State{
		BestDevEER:   100,
		BestDevTDCF:  0.05,
		BestEvalEER:  100,
		BestEvalTDCF: 1,
	}
}

// ObserveDev records the development metrics of an epoch
// and reports whether the EER ties or beats the best one.
func (s *State) ObserveDev(eer, tdcf float64) bool {
	s.BestDevTDCF = math.Min(tdcf, s.BestDevTDCF)
	if s.BestDevEER >= eer {
		s.BestDevEER = eer
		return true
	}
	return false
}

// ObserveEval records the evaluation metrics of a new best
// epoch and reports whether the t-DCF strictly improved.
func (s *State) ObserveEval(eer, tdcf float64) bool {
	if eer < s.BestEvalEER {
		s.BestEvalEER = eer
	}
	if tdcf < s.BestEvalTDCF {
		s.BestEvalTDCF = tdcf
		return true
	}
	return false
}

// ObserveFinal records the metrics of the final model and
// reports whether the t-DCF ties or beats the best one.
func (s *State) ObserveFinal(eer, tdcf float64) bool {
	if eer <= s.BestEvalEER {
		s.BestEvalEER = eer
	}
	if tdcf <= s.BestEvalTDCF {
		s.BestEvalTDCF = tdcf
		return true
	}
	return false
}

// RecordSWAUpdate counts a snapshot folded into the
// weight average.
func (s *State) RecordSWAUpdate() {
	s.SWAUpdates++
}
