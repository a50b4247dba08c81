package anyeval

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// A DETCurve holds miss and false-alarm rates for every
// candidate threshold, in increasing threshold order.
type DETCurve struct {
	MissRates       []float64
	FalseAlarmRates []float64
	Thresholds      []float64
}

// ComputeDET sweeps a threshold over every score.
//
// At index i, samples scoring at or below Thresholds[i]
// are rejected. The first entry places the threshold just
// below every score.
func ComputeDET(targets, nonTargets []float64) (*DETCurve, error) {
	if len(targets) == 0 || len(nonTargets) == 0 {
		return nil, errors.New("compute DET: need target and non-target scores")
	}
	n := len(targets) + len(nonTargets)
	scores := make([]float64, 0, n)
	scores = append(scores, targets...)
	scores = append(scores, nonTargets...)
	if floats.HasNaN(scores) {
		return nil, errors.New("compute DET: scores contain NaN")
	}
	labels := make([]float64, n)
	for i := range targets {
		labels[i] = 1
	}

	// A stable sort keeps the threshold sweep identical for
	// tied scores across runs.
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return scores[indices[i]] < scores[indices[j]]
	})
	sortedLabels := make([]float64, n)
	sortedScores := make([]float64, n)
	for i, idx := range indices {
		sortedLabels[i] = labels[idx]
		sortedScores[i] = scores[idx]
	}

	targetSums := floats.CumSum(make([]float64, n), sortedLabels)
	res := &DETCurve{
		MissRates:       make([]float64, n+1),
		FalseAlarmRates: make([]float64, n+1),
		Thresholds:      make([]float64, n+1),
	}
	res.FalseAlarmRates[0] = 1
	res.Thresholds[0] = sortedScores[0] - 0.001
	for i := 0; i < n; i++ {
		nonTargetsBelow := float64(i+1) - targetSums[i]
		res.MissRates[i+1] = targetSums[i] / float64(len(targets))
		res.FalseAlarmRates[i+1] = (float64(len(nonTargets)) - nonTargetsBelow) /
			float64(len(nonTargets))
		res.Thresholds[i+1] = sortedScores[i]
	}
	return res, nil
}

// ComputeEER finds the equal error rate (as a fraction)
// and the threshold at which it occurs.
func ComputeEER(targets, nonTargets []float64) (eer, threshold float64, err error) {
	det, err := ComputeDET(targets, nonTargets)
	if err != nil {
		return 0, 0, err
	}
	diffs := make([]float64, len(det.MissRates))
	floats.SubTo(diffs, det.MissRates, det.FalseAlarmRates)
	for i, x := range diffs {
		diffs[i] = math.Abs(x)
	}
	idx := floats.MinIdx(diffs)
	eer = (det.MissRates[idx] + det.FalseAlarmRates[idx]) / 2
	return eer, det.Thresholds[idx], nil
}
