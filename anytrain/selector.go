package anytrain

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/unixpickle/essentials"
)

// An Averager folds the live weights into an average and
// swaps the average in. It is satisfied by
// *anyswa.Averager.
type Averager interface {
	Update()
	Swap() error
}

// An EvalRunner scores the live model on the evaluation
// set and returns its EER (in percent) and min t-DCF.
type EvalRunner interface {
	// EvalEpoch evaluates a new best model during training.
	EvalEpoch(ctx context.Context, epoch int) (eer, tdcf float64, err error)

	// EvalFinal evaluates the model at the end of training.
	EvalFinal(ctx context.Context) (eer, tdcf float64, err error)
}

// A Selector decides which epochs are checkpointed and
// folded into the weight average.
type Selector struct {
	State       *State
	Checkpoints Saver
	Averager    Averager
	Eval        EvalRunner

	// Recalibrate recomputes normalization statistics after
	// the averaged weights are swapped in.
	Recalibrate func(ctx context.Context) error

	// EvalAllBest evaluates every new best model.
	EvalAllBest bool

	// MetricLog, if non-nil, receives a line for every
	// evaluation.
	MetricLog io.Writer

	Log zerolog.Logger
}

// Observe handles the development metrics of an epoch,
// filling in the selection fields of m.
//
// When the dev EER ties or beats the best one, the model is
// saved, optionally evaluated, folded into the average and
// replaced by the average.
func (s *Selector) Observe(ctx context.Context, m *Metrics) error {
	if !s.State.ObserveDev(m.DevEER, m.DevTDCF) {
		return nil
	}
	m.Snapshot = true
	s.Log.Info().Int("epoch", m.Epoch).Float64("dev_eer", m.DevEER).
		Msg("best model found")
	if err := s.Checkpoints.Save(RoleEpoch, m.Epoch, m.DevEER); err != nil {
		return err
	}

	if s.EvalAllBest {
		eer, tdcf, err := s.Eval.EvalEpoch(ctx, m.Epoch)
		if err != nil {
			return essentials.AddCtx(fmt.Sprintf("evaluate epoch %d", m.Epoch), err)
		}
		m.Evaluated = true
		m.EvalEER = eer
		m.EvalTDCF = tdcf
		if s.State.ObserveEval(eer, tdcf) {
			if err := s.Checkpoints.Save(RoleMidBest, m.Epoch, eer); err != nil {
				return err
			}
		}
		line := fmt.Sprintf("epoch%03d, best eer:%.4f%% , best tdcf:%.4f", m.Epoch, eer, tdcf)
		s.Log.Info().Msg(line)
		if err := s.logLine(line); err != nil {
			return err
		}
	}

	s.Averager.Update()
	s.State.RecordSWAUpdate()
	if err := s.Averager.Swap(); err != nil {
		return err
	}
	return s.Recalibrate(ctx)
}

// Finish swaps in the final average, if there is one,
// evaluates it and saves the final checkpoints.
//
// It returns the EER and t-DCF of the final model.
func (s *Selector) Finish(ctx context.Context, epoch int) (eer, tdcf float64, err error) {
	if s.State.SWAUpdates > 0 {
		if err := s.Averager.Swap(); err != nil {
			return 0, 0, err
		}
		if err := s.Recalibrate(ctx); err != nil {
			return 0, 0, err
		}
	}
	eer, tdcf, err = s.Eval.EvalFinal(ctx)
	if err != nil {
		return 0, 0, essentials.AddCtx("final evaluation", err)
	}
	sep := strings.Repeat("=", 5)
	err = s.logLine(fmt.Sprintf("%s\nswa EER: %.3f, min t-DCF: %.5f\n%s", sep, eer, tdcf, sep))
	if err != nil {
		return 0, 0, err
	}
	if err := s.Checkpoints.Save(RoleSWA, epoch, eer); err != nil {
		return 0, 0, err
	}

	s.Log.Info().Float64("eer", s.State.BestEvalEER).Float64("tdcf", s.State.BestEvalTDCF).
		Msg("best before final model")
	if s.State.ObserveFinal(eer, tdcf) {
		if err := s.Checkpoints.Save(RoleBest, epoch, eer); err != nil {
			return 0, 0, err
		}
	}
	s.Log.Info().Float64("eer", eer).Float64("tdcf", tdcf).Msg("final model")
	return eer, tdcf, nil
}

func (s *Selector) logLine(line string) error {
	if s.MetricLog == nil {
		return nil
	}
	if _, err := fmt.Fprintln(s.MetricLog, line); err != nil {
		return essentials.AddCtx("write metric log", err)
	}
	return nil
}
