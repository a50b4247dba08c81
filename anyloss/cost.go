package anyloss

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Consistency computes the mean squared error between a
// target and an actual output, averaged over every
// component of the batch.
//
// The result has one component.
func Consistency(target, actual anydiff.Res) anydiff.Res {
	if target.Output().Len() != actual.Output().Len() {
		panic(fmt.Sprintf("length mismatch: %d vs %d", target.Output().Len(),
			actual.Output().Len()))
	}
	diff := anydiff.Sub(actual, target)
	sum := anydiff.Sum(anydiff.Square(diff))
	normalizer := 1 / float64(diff.Output().Len())
	return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(normalizer))
}

// WCE is a class-weighted cross-entropy on two-class
// logits.
//
// The cost is normalized by the total weight of the
// batch, so a batch of one class has the unweighted mean
// cross-entropy of that class.
type WCE struct {
	// Weights holds the weight of class 0 and class 1.
	Weights [2]float64
}

// NewWCE creates the weighting used for ASVspoof, where
// spoofed samples (class 0) far outnumber bona fide ones.
func NewWCE() *WCE {
	return &WCE{Weights: [2]float64{0.1, 0.9}}
}

// Loss computes the weighted cross-entropy of a batch.
func (w *WCE) Loss(logits anydiff.Res, labels []int) anydiff.Res {
	n := checkBatch(logits, labels)
	c := logits.Output().Creator()

	weights := make([]float64, 2*n)
	var total float64
	for i, y := range labels {
		weights[2*i+y] = w.Weights[y]
		total += w.Weights[y]
	}
	logProbs := anydiff.LogSoftmax(logits, 2)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(constVec(c, weights), logProbs),
		Rows: n,
		Cols: 2,
	})
	sum := anydiff.Sum(dots)
	return anydiff.Scale(sum, c.MakeNumeric(-1/total))
}

// selectColumn extracts one column of a packed matrix.
func selectColumn(r anydiff.Res, rows, cols, col int) anydiff.Res {
	mask := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		mask[i*cols+col] = 1
	}
	return anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(r, constVec(r.Output().Creator(), mask)),
		Rows: rows,
		Cols: cols,
	})
}

// repeatLabels produces a packed [n, cols] matrix where
// every entry of row i is labels[i].
func repeatLabels(c anyvec.Creator, labels []int, cols int) *anydiff.Const {
	res := make([]float64, 0, len(labels)*cols)
	for _, y := range labels {
		for j := 0; j < cols; j++ {
			res = append(res, float64(y))
		}
	}
	return constVec(c, res)
}

func constVec(c anyvec.Creator, data []float64) *anydiff.Const {
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(data)))
}

// mean averages the components of r into a single
// component.
func mean(r anydiff.Res) anydiff.Res {
	normalizer := 1 / float64(r.Output().Len())
	return anydiff.Scale(anydiff.Sum(r), r.Output().Creator().MakeNumeric(normalizer))
}

func checkBatch(logits anydiff.Res, labels []int) int {
	n := len(labels)
	if n == 0 {
		panic("empty batch")
	}
	if logits.Output().Len() != 2*n {
		panic(fmt.Sprintf("expected %d logits but got %d", 2*n, logits.Output().Len()))
	}
	for _, y := range labels {
		if y != 0 && y != 1 {
			panic(fmt.Sprintf("invalid label: %d", y))
		}
	}
	return n
}

// positiveColumn copies column 1 of packed [n, 2] logits.
func positiveColumn(logits anyvec.Vector) []float64 {
	n := logits.Len() / 2
	res := make([]float64, n)
	switch data := logits.Data().(type) {
	case []float64:
		for i := range res {
			res[i] = data[2*i+1]
		}
	case []float32:
		for i := range res {
			res[i] = float64(data[2*i+1])
		}
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
	return res
}

func float64Slice(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return append([]float64{}, data...)
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}
