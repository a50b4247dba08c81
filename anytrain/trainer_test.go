package anytrain

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anykd"
	"github.com/unixpickle/anykd/anyloss"
	"github.com/unixpickle/anykd/anyopt"
	"github.com/unixpickle/anykd/anyspoof"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec/anyvec64"
)

// biasModel adds a single trainable bias to the sum of
// each batch.
type biasModel struct {
	Bias     *anydiff.Var
	Training bool
}

func newBiasModel() *biasModel {
	return &biasModel{Bias: anydiff.NewVar(anyvec64.MakeVector(1))}
}

func (b *biasModel) Forward(in anydiff.Res, n int, augment bool) (feat, logits anydiff.Res) {
	out := anydiff.Add(anydiff.Sum(in), b.Bias)
	return out, out
}

func (b *biasModel) Parameters() []*anydiff.Var {
	return []*anydiff.Var{b.Bias}
}

func (b *biasModel) SetTraining(t bool) {
	b.Training = t
}

func (b *biasModel) BatchNorms() []*anykd.BatchNorm {
	return nil
}

// scriptedObjective returns predetermined losses with a
// unit gradient on the logits.
type scriptedObjective struct {
	Losses   []float64
	Teacher  bool
	Teachers []anydiff.Res
	calls    int
}

func (s *scriptedObjective) Kind() string       { return "scripted" }
func (s *scriptedObjective) NeedsTeacher() bool { return s.Teacher }

func (s *scriptedObjective) Loss(in *anyloss.Inputs) anydiff.Res {
	s.Teachers = append(s.Teachers, in.Teacher)
	value := s.Losses[s.calls%len(s.Losses)]
	s.calls++
	sum := anydiff.Sum(in.Logits)
	zero := anydiff.Sub(sum, anydiff.NewConst(sum.Output().Copy()))
	return anydiff.Add(zero, anydiff.NewConst(anyvec64.MakeVectorData([]float64{value})))
}

func (s *scriptedObjective) Scores(feat, logits anydiff.Res, n int) []float64 {
	return make([]float64, n)
}

// batchList is a BatchSource of fixed batches.
type batchList []*anyspoof.Batch

func (b batchList) Len() int {
	return len(b)
}

func (b batchList) Iterate(ctx context.Context, f func(b *anyspoof.Batch) error) error {
	for _, batch := range b {
		if err := f(batch); err != nil {
			return err
		}
	}
	return nil
}

func testBatches(t *testing.T, sizes ...int) batchList {
	var res batchList
	for _, size := range sizes {
		var samples []*anyspoof.Sample
		for i := 0; i < size; i++ {
			samples = append(samples, &anyspoof.Sample{
				ID:    "utt",
				Wave:  []float64{float64(i), 1},
				Label: i % 2,
			})
		}
		b, err := anyspoof.NewBatch(anyvec64.CurrentCreator(), samples)
		require.NoError(t, err)
		res = append(res, b)
	}
	return res
}

func newTestTrainer(t *testing.T, model anykd.Model, obj anyloss.Objective) *EpochTrainer {
	opt, err := anyopt.New(model.Parameters(), &anyopt.Config{Optimizer: anyopt.NameSGD},
		anysgd.ConstRater(0.1))
	require.NoError(t, err)
	return &EpochTrainer{Student: model, Objective: obj, Optimizer: opt}
}

func TestEpochTrainerWeightedMean(t *testing.T) {
	model := newBiasModel()
	obj := &scriptedObjective{Losses: []float64{1.0, 2.0, 0.5}}
	trainer := newTestTrainer(t, model, obj)
	loss, err := trainer.Epoch(context.Background(), testBatches(t, 3, 3, 4))
	require.NoError(t, err)
	require.InDelta(t, 1.1, loss, 1e-12)
	require.True(t, model.Training)

	// Every step has a unit gradient on the bias.
	require.InDelta(t, -0.3, model.Bias.Vector.Data().([]float64)[0], 1e-12)
	require.Equal(t, 3, trainer.Optimizer.NumSteps)
}

func TestEpochTrainerLog(t *testing.T) {
	var buf bytes.Buffer
	trainer := newTestTrainer(t, newBiasModel(), &scriptedObjective{Losses: []float64{1.0, 2.0}})
	trainer.Log = zerolog.New(&buf)
	_, err := trainer.Epoch(context.Background(), testBatches(t, 2, 2))
	require.NoError(t, err)

	var entry struct {
		Message string  `json:"message"`
		Samples int     `json:"samples"`
		Loss    float64 `json:"loss"`
		LR      float64 `json:"lr"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "trained epoch", entry.Message)
	require.Equal(t, 4, entry.Samples)
	require.InDelta(t, 1.5, entry.Loss, 1e-12)
	require.InDelta(t, 0.1, entry.LR, 1e-12)
}

func TestEpochTrainerScheduler(t *testing.T) {
	model := newBiasModel()
	trainer := newTestTrainer(t, model, &scriptedObjective{Losses: []float64{1}})
	sched, err := anyopt.NewScheduler(anyopt.ScheduleCosine, 0.1, 0, 2, 3)
	require.NoError(t, err)
	trainer.Scheduler = sched
	trainer.Optimizer.Rater = sched
	_, err = trainer.Epoch(context.Background(), testBatches(t, 2, 2, 2))
	require.NoError(t, err)
	require.Equal(t, 3, sched.Position)

	trainer.Scheduler = &anyopt.Scheduler{Name: "step", BaseLR: 0.1}
	_, err = trainer.Epoch(context.Background(), testBatches(t, 2))
	require.Error(t, err)
	require.Contains(t, err.Error(), "scheduler error")
}

func TestEpochTrainerTeacher(t *testing.T) {
	model := newBiasModel()
	obj := &scriptedObjective{Losses: []float64{1}, Teacher: true}
	trainer := newTestTrainer(t, model, obj)
	_, err := trainer.Epoch(context.Background(), testBatches(t, 2))
	require.ErrorIs(t, err, ErrNoTeacher)

	teacher := newBiasModel()
	teacher.Bias.Vector.SetData([]float64{5})
	trainer.Teacher = anykd.Freeze(teacher)
	_, err = trainer.Epoch(context.Background(), testBatches(t, 2, 2))
	require.NoError(t, err)
	require.Len(t, obj.Teachers, 2)
	for _, r := range obj.Teachers {
		_, isConst := r.(*anydiff.Const)
		require.True(t, isConst)
	}
	require.Equal(t, []float64{5}, teacher.Bias.Vector.Data())
	require.False(t, teacher.Training)
}

func TestEpochTrainerDistillation(t *testing.T) {
	c := anyvec64.CurrentCreator()
	r := rand.New(rand.NewSource(3))
	conf := testDetectorConfig()
	student, err := anykd.NewDetector(c, conf, r)
	require.NoError(t, err)
	teacherModel, err := anykd.NewDetector(c, conf, r)
	require.NoError(t, err)
	teacherParams := snapshot(teacherModel.Parameters())

	obj, err := anyloss.New(c, &anyloss.Config{Kind: anyloss.KindKDWCEDOC, EncDim: conf.EncDim,
		FocalAlpha: 0.1, FocalGamma: 1, Beta: 0.5}, r)
	require.NoError(t, err)
	aux, ok := anyloss.AuxiliaryOf(obj)
	require.True(t, ok)
	auxParams := snapshot(aux.Parameters())

	opt, err := anyopt.New(student.Parameters(), &anyopt.Config{Optimizer: anyopt.NameAdam,
		Betas: [2]float64{0.9, 0.999}}, anysgd.ConstRater(1e-3))
	require.NoError(t, err)
	lossOpt, err := anyopt.New(aux.Parameters(), &anyopt.Config{Optimizer: anyopt.NameSGD},
		anysgd.ConstRater(1e-2))
	require.NoError(t, err)
	studentParams := snapshot(student.Parameters())

	trainer := &EpochTrainer{
		Student:       student,
		Teacher:       anykd.Freeze(teacherModel),
		Objective:     obj,
		Optimizer:     opt,
		LossOptimizer: lossOpt,
		FreqAug:       true,
	}
	loss, err := trainer.Epoch(context.Background(), randomBatches(t, r, conf.NumSamples, 4, 4))
	require.NoError(t, err)
	require.Greater(t, loss, 0.0)

	require.NotEqual(t, studentParams, snapshot(student.Parameters()))
	require.NotEqual(t, auxParams, snapshot(aux.Parameters()))
	require.Equal(t, teacherParams, snapshot(teacherModel.Parameters()))
}

func snapshot(params []*anydiff.Var) [][]float64 {
	var res [][]float64
	for _, p := range params {
		res = append(res, append([]float64{}, p.Vector.Data().([]float64)...))
	}
	return res
}

func randomBatches(t *testing.T, r *rand.Rand, length int, sizes ...int) batchList {
	var res batchList
	for _, size := range sizes {
		var samples []*anyspoof.Sample
		for i := 0; i < size; i++ {
			wave := make([]float64, length)
			for j := range wave {
				wave[j] = r.NormFloat64() * 0.1
			}
			samples = append(samples, &anyspoof.Sample{ID: "utt", Wave: wave, Label: i % 2})
		}
		b, err := anyspoof.NewBatch(anyvec64.CurrentCreator(), samples)
		require.NoError(t, err)
		res = append(res, b)
	}
	return res
}
