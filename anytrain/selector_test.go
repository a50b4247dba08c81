package anytrain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type savedCheckpoint struct {
	Role  Role
	Epoch int
}

type recordingSaver struct {
	Saved []savedCheckpoint
}

func (r *recordingSaver) Save(role Role, epoch int, eer float64) error {
	r.Saved = append(r.Saved, savedCheckpoint{role, epoch})
	return nil
}

func (r *recordingSaver) Roles(role Role) []int {
	var res []int
	for _, s := range r.Saved {
		if s.Role == role {
			res = append(res, s.Epoch)
		}
	}
	return res
}

type countingAverager struct {
	Updates int
	Swaps   int
}

func (c *countingAverager) Update() {
	c.Updates++
}

func (c *countingAverager) Swap() error {
	c.Swaps++
	return nil
}

// scriptedEval returns one result per call, and a fixed
// result for the final evaluation.
type scriptedEval struct {
	EERs   []float64
	TDCFs  []float64
	Epochs []int

	FinalEER  float64
	FinalTDCF float64
}

func (s *scriptedEval) EvalEpoch(ctx context.Context, epoch int) (float64, float64, error) {
	i := len(s.Epochs)
	s.Epochs = append(s.Epochs, epoch)
	return s.EERs[i], s.TDCFs[i], nil
}

func (s *scriptedEval) EvalFinal(ctx context.Context) (float64, float64, error) {
	return s.FinalEER, s.FinalTDCF, nil
}

func newTestSelector(eval EvalRunner, log *strings.Builder) (*Selector, *recordingSaver,
	*countingAverager, *int) {
	saver := &recordingSaver{}
	avg := &countingAverager{}
	var recalibrations int
	s := &Selector{
		State:       NewState(),
		Checkpoints: saver,
		Averager:    avg,
		Eval:        eval,
		Recalibrate: func(ctx context.Context) error {
			recalibrations++
			return nil
		},
		EvalAllBest: true,
		MetricLog:   log,
	}
	return s, saver, avg, &recalibrations
}

func TestSelectorSequence(t *testing.T) {
	eval := &scriptedEval{
		EERs:      []float64{9, 8, 8.5, 7},
		TDCFs:     []float64{0.3, 0.3, 0.2, 0.25},
		FinalEER:  7,
		FinalTDCF: 0.2,
	}
	var log strings.Builder
	s, saver, avg, recalibrations := newTestSelector(eval, &log)

	var snapshots []int
	for epoch, eer := range []float64{5, 3, 3, 4, 2} {
		m := &Metrics{Epoch: epoch, DevEER: eer, DevTDCF: 0.1}
		require.NoError(t, s.Observe(context.Background(), m))
		if m.Snapshot {
			snapshots = append(snapshots, epoch)
			require.True(t, m.Evaluated)
		} else {
			require.False(t, m.Evaluated)
		}
	}
	require.Equal(t, []int{0, 1, 2, 4}, snapshots)
	require.Equal(t, 2.0, s.State.BestDevEER)
	require.Equal(t, []int{0, 1, 2, 4}, saver.Roles(RoleEpoch))
	require.Equal(t, []int{0, 1, 2, 4}, eval.Epochs)

	// Only strict t-DCF improvements are saved.
	require.Equal(t, []int{0, 2}, saver.Roles(RoleMidBest))
	require.Equal(t, 7.0, s.State.BestEvalEER)
	require.Equal(t, 0.2, s.State.BestEvalTDCF)

	require.Equal(t, 4, s.State.SWAUpdates)
	require.Equal(t, 4, avg.Updates)
	require.Equal(t, 4, avg.Swaps)
	require.Equal(t, 4, *recalibrations)
	require.Contains(t, log.String(), "epoch002, best eer:8.5000% , best tdcf:0.2000\n")

	eer, tdcf, err := s.Finish(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 7.0, eer)
	require.Equal(t, 0.2, tdcf)
	require.Equal(t, 5, avg.Swaps)
	require.Equal(t, 5, *recalibrations)
	require.Equal(t, []int{5}, saver.Roles(RoleSWA))

	// The final model ties the best t-DCF, so it is saved.
	require.Equal(t, []int{5}, saver.Roles(RoleBest))
	require.True(t, strings.HasSuffix(log.String(),
		"=====\nswa EER: 7.000, min t-DCF: 0.20000\n=====\n"))
}

func TestSelectorNoSnapshots(t *testing.T) {
	eval := &scriptedEval{FinalEER: 20, FinalTDCF: 1.5}
	s, saver, avg, recalibrations := newTestSelector(eval, nil)
	s.MetricLog = nil
	require.NoError(t, s.Observe(context.Background(), &Metrics{DevEER: 100.5}))

	_, _, err := s.Finish(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, avg.Swaps)
	require.Equal(t, 0, *recalibrations)
	require.Equal(t, []int{1}, saver.Roles(RoleSWA))
	require.Empty(t, saver.Roles(RoleBest))
}

func TestSelectorEvalDisabled(t *testing.T) {
	eval := &scriptedEval{}
	var log strings.Builder
	s, saver, _, _ := newTestSelector(eval, &log)
	s.EvalAllBest = false
	m := &Metrics{Epoch: 0, DevEER: 10}
	require.NoError(t, s.Observe(context.Background(), m))
	require.True(t, m.Snapshot)
	require.False(t, m.Evaluated)
	require.Empty(t, eval.Epochs)
	require.Empty(t, saver.Roles(RoleMidBest))
	require.Empty(t, log.String())
}

type failingEval struct{}

func (failingEval) EvalEpoch(ctx context.Context, epoch int) (float64, float64, error) {
	return 0, 0, errors.New("oracle failed")
}

func (failingEval) EvalFinal(ctx context.Context) (float64, float64, error) {
	return 0, 0, errors.New("oracle failed")
}

func TestSelectorEvalError(t *testing.T) {
	s, _, avg, _ := newTestSelector(failingEval{}, nil)
	s.MetricLog = nil
	err := s.Observe(context.Background(), &Metrics{Epoch: 3, DevEER: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprintf("evaluate epoch %d", 3))
	require.Equal(t, 0, avg.Updates)
}
