package anyeval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeASVErrors(t *testing.T) {
	errs, err := ComputeASVErrors(
		[]float64{3, 2, 0.5},
		[]float64{-1, 1.5},
		[]float64{0, 0.5, 2, 3},
		1,
	)
	require.NoError(t, err)
	require.InDelta(t, 1.0/2, errs.PFa, 1e-12)
	require.InDelta(t, 1.0/3, errs.PMiss, 1e-12)
	require.InDelta(t, 2.0/4, errs.PMissSpoof, 1e-12)
}

func TestMinTDCF(t *testing.T) {
	asv := &ASVErrors{PFa: 0.01, PMiss: 0.02, PMissSpoof: 0.5}
	cost := CostModel2019()

	tdcf, err := MinTDCF([]float64{2, 3, 4}, []float64{-1, 0, 1}, asv, cost)
	require.NoError(t, err)
	require.Equal(t, 0.0, tdcf)

	// With inverted scores the best threshold accepts or
	// rejects everything, which has a normalized cost of 1.
	tdcf, err = MinTDCF([]float64{-1, 0, 1}, []float64{2, 3, 4}, asv, cost)
	require.NoError(t, err)
	require.InDelta(t, 1.0, tdcf, 1e-12)
}

func TestMinTDCFErrors(t *testing.T) {
	asv := &ASVErrors{PFa: 0.01, PMiss: 0.02, PMissSpoof: 0.5}
	_, err := MinTDCF([]float64{1, 1}, []float64{0, 0}, asv, CostModel2019())
	require.Error(t, err, "binary scores should be rejected")

	cost := CostModel2019()
	cost.CFaCM = -1
	_, err = MinTDCF([]float64{1, 2}, []float64{0, 3}, asv, cost)
	require.Error(t, err)

	cost = CostModel2019()
	cost.PSpoof = 0.5
	_, err = MinTDCF([]float64{1, 2}, []float64{0, 3}, asv, cost)
	require.Error(t, err)
}
