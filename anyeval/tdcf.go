package anyeval

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// A CostModel holds the priors and costs of the tandem
// detection cost function.
type CostModel struct {
	// Prior probabilities of spoof, target and non-target
	// trials.
	PSpoof float64
	PTar   float64
	PNon   float64

	// Costs of ASV and CM misses and false alarms.
	CMissASV float64
	CFaASV   float64
	CMissCM  float64
	CFaCM    float64
}

// CostModel2019 is the legacy cost model of the ASVspoof
// 2019 challenge.
func CostModel2019() *CostModel {
	const pSpoof = 0.05
	return &CostModel{
		PSpoof:   pSpoof,
		PTar:     (1 - pSpoof) * 0.99,
		PNon:     (1 - pSpoof) * 0.01,
		CMissASV: 1,
		CFaASV:   10,
		CMissCM:  1,
		CFaCM:    10,
	}
}

// ASVErrors are the error rates of a fixed ASV system.
type ASVErrors struct {
	PFa        float64
	PMiss      float64
	PMissSpoof float64
}

// ComputeASVErrors measures an ASV system at a threshold.
func ComputeASVErrors(targets, nonTargets, spoofs []float64, threshold float64) (*ASVErrors,
	error) {
	if len(targets) == 0 || len(nonTargets) == 0 || len(spoofs) == 0 {
		return nil, errors.New("ASV errors: need target, non-target and spoof scores")
	}
	res := &ASVErrors{}
	for _, x := range nonTargets {
		if x >= threshold {
			res.PFa++
		}
	}
	res.PFa /= float64(len(nonTargets))
	for _, x := range targets {
		if x < threshold {
			res.PMiss++
		}
	}
	res.PMiss /= float64(len(targets))
	for _, x := range spoofs {
		if x < threshold {
			res.PMissSpoof++
		}
	}
	res.PMissSpoof /= float64(len(spoofs))
	return res, nil
}

// MinTDCF computes the minimum normalized tandem detection
// cost over every CM threshold.
func MinTDCF(bonafide, spoof []float64, asv *ASVErrors, cost *CostModel) (float64, error) {
	for _, x := range []float64{cost.CFaASV, cost.CMissASV, cost.CFaCM, cost.CMissCM} {
		if x < 0 {
			return 0, errors.New("min t-DCF: costs must be non-negative")
		}
	}
	priors := []float64{cost.PTar, cost.PNon, cost.PSpoof}
	if floats.Min(priors) < 0 || math.Abs(floats.Sum(priors)-1) > 1e-10 {
		return 0, errors.New("min t-DCF: priors must be a probability distribution")
	}
	if countUnique(append(append([]float64{}, bonafide...), spoof...)) < 3 {
		return 0, errors.New("min t-DCF: CM scores must be soft, not binary decisions")
	}

	det, err := ComputeDET(bonafide, spoof)
	if err != nil {
		return 0, err
	}
	c1 := cost.PTar*(cost.CMissCM-cost.CMissASV*asv.PMiss) - cost.PNon*cost.CFaASV*asv.PFa
	c2 := cost.CFaCM * cost.PSpoof * (1 - asv.PMissSpoof)
	if c1 < 0 || c2 < 0 {
		return 0, fmt.Errorf("min t-DCF: negative weights C1=%f C2=%f", c1, c2)
	}
	curve := make([]float64, len(det.MissRates))
	for i := range curve {
		curve[i] = (c1*det.MissRates[i] + c2*det.FalseAlarmRates[i]) / math.Min(c1, c2)
	}
	return floats.Min(curve), nil
}

func countUnique(x []float64) int {
	seen := map[float64]bool{}
	for _, v := range x {
		seen[v] = true
	}
	return len(seen)
}
