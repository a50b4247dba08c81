package anytrain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateObserveDev(t *testing.T) {
	s := NewState()
	var snapshots []int
	for i, eer := range []float64{5, 3, 3, 4, 2} {
		if s.ObserveDev(eer, 0.1) {
			snapshots = append(snapshots, i)
		}
	}
	require.Equal(t, []int{0, 1, 2, 4}, snapshots)
	require.Equal(t, 2.0, s.BestDevEER)
	require.Equal(t, 0.05, s.BestDevTDCF)

	s.ObserveDev(10, 0.01)
	require.Equal(t, 0.01, s.BestDevTDCF)
}

func TestStateObserveEval(t *testing.T) {
	s := NewState()
	require.True(t, s.ObserveEval(10, 0.5))
	require.False(t, s.ObserveEval(12, 0.5), "ties should not count")
	require.Equal(t, 10.0, s.BestEvalEER)
	require.True(t, s.ObserveEval(9, 0.4))
	require.Equal(t, 9.0, s.BestEvalEER)
	require.Equal(t, 0.4, s.BestEvalTDCF)
}

func TestStateObserveFinal(t *testing.T) {
	s := NewState()
	s.ObserveEval(5, 0.3)
	require.True(t, s.ObserveFinal(5, 0.3), "ties should count")
	require.False(t, s.ObserveFinal(4, 0.35))
	require.Equal(t, 4.0, s.BestEvalEER)
	require.Equal(t, 0.3, s.BestEvalTDCF)
}

func TestStateRecordSWAUpdate(t *testing.T) {
	s := NewState()
	s.RecordSWAUpdate()
	s.RecordSWAUpdate()
	require.Equal(t, 2, s.SWAUpdates)
}
