package anytrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unixpickle/anykd"
	"github.com/unixpickle/anykd/anyeval"
	"github.com/unixpickle/anykd/anyloss"
	"github.com/unixpickle/anykd/anyopt"
	"github.com/unixpickle/anykd/anyspoof"
	"github.com/unixpickle/anykd/anyswa"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ErrRunLocked is returned when another process is using
// the run directory.
var ErrRunLocked = errors.New("run directory is locked by another process")

// File names inside a run directory.
const (
	weightsDir    = "weights"
	metricsDir    = "metrics"
	lockFile      = ".lock"
	metricLogFile = "metric_log.txt"
	configCopy    = "config.conf"
	devScoreFile  = "dev_score.txt"
	finalReport   = "t-DCF_EER.txt"
	preEvalScores = "pre_model_eval_scores.txt"
	preEvalReport = "pre_model_t-DCF_EER.txt"
)

// LossSchedule is the learning rate schedule of the
// trainable part of an objective.
type LossSchedule struct {
	LR       float64
	Decay    float64
	Interval int
}

// DefaultLossSchedule returns the default auxiliary
// learning rate schedule.
func DefaultLossSchedule() LossSchedule {
	return LossSchedule{LR: 3e-4, Decay: 0.5, Interval: 10}
}

// An Orchestrator runs the training and evaluation modes
// of an experiment.
type Orchestrator struct {
	Config     *Config
	ConfigPath string
	OutputDir  string
	Comment    string
	Seed       int64

	LossSchedule LossSchedule

	// ModelPath, if set, overrides Config.ModelPath in the
	// evaluation modes.
	ModelPath string

	// LossModelPath, if set, is a loss model loaded for
	// scoring in the evaluation modes.
	LossModelPath string

	// Progress, if non-nil, receives progress bars.
	Progress io.Writer

	Log zerolog.Logger
}

// A Summary describes a finished run.
type Summary struct {
	RunID   string
	RunDir  string
	History []*Metrics
	State   *State

	FinalEER  float64
	FinalTDCF float64
}

// RunDir returns the directory of the run.
func (o *Orchestrator) RunDir() string {
	return filepath.Join(o.OutputDir, o.Config.RunName(o.ConfigPath, o.Comment))
}

// Train runs every epoch and the final averaging step.
func (o *Orchestrator) Train(ctx context.Context) (*Summary, error) {
	summary, err := o.train(ctx)
	if err != nil {
		return nil, essentials.AddCtx("train", err)
	}
	return summary, nil
}

func (o *Orchestrator) train(ctx context.Context) (summary *Summary, err error) {
	c, err := anykd.NewCreator(o.Config.Device)
	if err != nil {
		return nil, err
	}
	runDir := o.RunDir()
	unlock, err := o.lockRun(runDir)
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, dir := range []string{weightsDir, metricsDir} {
		if err := recreateDir(filepath.Join(runDir, dir)); err != nil {
			return nil, err
		}
	}
	if err := copyFile(o.ConfigPath, filepath.Join(runDir, configCopy)); err != nil {
		return nil, err
	}

	r := rand.New(rand.NewSource(o.Seed))
	student, err := anykd.NewDetector(c, o.Config.DetectorConfig(), r)
	if err != nil {
		return nil, err
	}
	o.Log.Info().Int("params", anykd.NumParams(student)).Msg("created student")
	objective, err := anyloss.New(c, o.Config.ObjectiveConfig(), r)
	if err != nil {
		return nil, err
	}
	teacher, err := o.teacher(objective)
	if err != nil {
		return nil, err
	}

	trainData, err := o.loader(c, "train", true)
	if err != nil {
		return nil, err
	}
	devData, err := o.loader(c, "dev", false)
	if err != nil {
		return nil, err
	}
	evalData, err := o.loader(c, "eval", false)
	if err != nil {
		return nil, err
	}

	optConf := o.Config.OptimConfig
	scheduler, err := anyopt.NewScheduler(optConf.Scheduler, optConf.BaseLR, optConf.MinLR,
		o.Config.NumEpochs, trainData.Len())
	if err != nil {
		return nil, err
	}
	optimizer, err := anyopt.New(student.Parameters(), o.Config.OptimizerConfig(), scheduler)
	if err != nil {
		return nil, err
	}
	trainer := &EpochTrainer{
		Student:   student,
		Teacher:   teacher,
		Objective: objective,
		Optimizer: optimizer,
		Scheduler: scheduler,
		FreqAug:   o.Config.FreqAugEnabled(),
		Progress:  o.Progress,
	}
	aux, hasAux := anyloss.AuxiliaryOf(objective)
	var lossDecay *anyopt.StepDecay
	if hasAux {
		lossDecay = &anyopt.StepDecay{
			BaseLR:   o.LossSchedule.LR,
			Factor:   o.LossSchedule.Decay,
			Interval: o.LossSchedule.Interval,
		}
		trainer.LossOptimizer, err = anyopt.New(aux.Parameters(),
			&anyopt.Config{Optimizer: anyopt.NameSGD}, anysgd.ConstRater(lossDecay.BaseLR))
		if err != nil {
			return nil, err
		}
	}

	metricLog, err := os.OpenFile(filepath.Join(runDir, metricLogFile),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer metricLog.Close()
	runID := uuid.NewString()
	if _, err := fmt.Fprintf(metricLog, "%s\nrun %s\n", strings.Repeat("=", 5), runID); err != nil {
		return nil, err
	}
	log := o.Log.With().Str("run", runID).Logger()
	trainer.Log = log

	evaluator := &anyeval.Evaluator{Model: student, Scorer: objective, Progress: o.Progress,
		Log: log}
	oracle := o.oracle()
	runner := &evalRunner{
		Evaluator: evaluator,
		Oracle:    oracle,
		Data:      evalData,
		TrialPath: o.trialPath("eval"),
		RunDir:    runDir,
		Output:    o.Config.EvalOutput,
	}
	selector := &Selector{
		State:       NewState(),
		Checkpoints: &Checkpoints{Dir: filepath.Join(runDir, weightsDir), Model: student, Loss: aux},
		Averager:    anyswa.NewAverager(student.Parameters()),
		Eval:        runner,
		Recalibrate: func(ctx context.Context) error {
			return anyswa.Recalibrate(ctx, student, trainData)
		},
		EvalAllBest: o.Config.EvalAllBestEnabled(),
		MetricLog:   metricLog,
		Log:         log,
	}

	summary = &Summary{RunID: runID, RunDir: runDir, State: selector.State}
	for epoch := 0; epoch < o.Config.NumEpochs; epoch++ {
		log.Info().Int("epoch", epoch).Msg("start training epoch")
		if lossDecay != nil {
			trainer.LossOptimizer.Rater = anysgd.ConstRater(lossDecay.Rate(float64(epoch)))
		}
		m := &Metrics{Epoch: epoch}
		m.Loss, err = trainer.Epoch(ctx, trainData)
		if err != nil {
			return nil, err
		}

		evaluator.Data = devData
		devScores := filepath.Join(runDir, metricsDir, devScoreFile)
		if err := evaluator.Run(ctx, o.trialPath("dev"), devScores); err != nil {
			return nil, err
		}
		report := filepath.Join(runDir, metricsDir, fmt.Sprintf("dev_t-DCF_EER_%depo.txt", epoch))
		m.DevEER, m.DevTDCF, err = oracle.Compute(devScores, report)
		if err != nil {
			return nil, err
		}
		log.Info().Int("epoch", epoch).Float64("loss", m.Loss).Float64("dev_eer", m.DevEER).
			Float64("dev_tdcf", m.DevTDCF).Msg("epoch done")

		if err := selector.Observe(ctx, m); err != nil {
			return nil, err
		}
		summary.History = append(summary.History, m)
	}

	log.Info().Msg("start final evaluation")
	summary.FinalEER, summary.FinalTDCF, err = selector.Finish(ctx, o.Config.NumEpochs)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Eval scores a saved model on the evaluation set and
// returns its EER (in percent) and min t-DCF.
func (o *Orchestrator) Eval(ctx context.Context) (eer, tdcf float64, err error) {
	eer, tdcf, err = o.eval(ctx)
	if err != nil {
		return 0, 0, essentials.AddCtx("eval", err)
	}
	return eer, tdcf, nil
}

func (o *Orchestrator) eval(ctx context.Context) (float64, float64, error) {
	c, model, scorer, err := o.loadForEval()
	if err != nil {
		return 0, 0, err
	}
	runDir := o.RunDir()
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return 0, 0, err
	}
	data, err := o.loader(c, "eval", false)
	if err != nil {
		return 0, 0, err
	}
	evaluator := &anyeval.Evaluator{Model: model, Scorer: scorer, Data: data,
		Progress: o.Progress, Log: o.Log}
	scorePath := filepath.Join(runDir, preEvalScores)
	if err := evaluator.Run(ctx, o.trialPath("eval"), scorePath); err != nil {
		return 0, 0, err
	}
	return o.oracle().Compute(scorePath, filepath.Join(runDir, preEvalReport))
}

// Eval2021 writes the scores of a saved model on the 2021
// evaluation trials.
//
// No metrics are computed, since the 2021 keys are not
// part of the trial metadata. The score file path is
// returned.
func (o *Orchestrator) Eval2021(ctx context.Context) (string, error) {
	scorePath, err := o.eval2021(ctx)
	if err != nil {
		return "", essentials.AddCtx("eval2021", err)
	}
	return scorePath, nil
}

func (o *Orchestrator) eval2021(ctx context.Context) (string, error) {
	c, model, scorer, err := o.loadForEval()
	if err != nil {
		return "", err
	}
	runDir := o.RunDir()
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	trialPath := anyspoof.Protocol2021Path(o.Config.DatabaseLogicalPath, o.Config.Track)
	ds, err := anyspoof.NewDataset(o.Config.Eval2021DatabasePath, trialPath,
		anyspoof.Protocol2021, o.Config.ModelConfig.NumSamples, false)
	if err != nil {
		return "", err
	}
	evaluator := &anyeval.Evaluator{
		Model:    model,
		Scorer:   scorer,
		Data:     o.newLoader(c, ds, false),
		Mode2021: true,
		Progress: o.Progress,
		Log:      o.Log,
	}
	scorePath := filepath.Join(runDir, preEvalScores)
	if err := evaluator.Run(ctx, trialPath, scorePath); err != nil {
		return "", err
	}
	return scorePath, nil
}

func (o *Orchestrator) loadForEval() (anyvec.Creator, anykd.Forwarder, anyeval.Scorer, error) {
	c, err := anykd.NewCreator(o.Config.Device)
	if err != nil {
		return nil, nil, nil, err
	}
	path := o.ModelPath
	if path == "" {
		path = o.Config.ModelPath
	}
	model, err := anykd.LoadDetector(path)
	if err != nil {
		return nil, nil, nil, essentials.AddCtx("load model", err)
	}
	o.Log.Info().Str("path", path).Int("params", anykd.NumParams(model)).Msg("model loaded")

	objective, err := anyloss.New(c, o.Config.ObjectiveConfig(), rand.New(rand.NewSource(o.Seed)))
	if err != nil {
		return nil, nil, nil, err
	}
	if o.LossModelPath != "" {
		aux, err := LoadLoss(o.LossModelPath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := anyloss.SetAuxiliary(objective, aux); err != nil {
			return nil, nil, nil, err
		}
	}
	return c, model, objective, nil
}

func (o *Orchestrator) teacher(obj anyloss.Objective) (anykd.Forwarder, error) {
	if o.Config.TeacherModelPath == "" {
		if obj.NeedsTeacher() {
			return nil, ErrNoTeacher
		}
		return nil, nil
	}
	teacher, err := anykd.LoadFrozen(o.Config.TeacherModelPath)
	if err != nil {
		return nil, err
	}
	return teacher, nil
}

func (o *Orchestrator) trialPath(split string) string {
	return anyspoof.ProtocolPath(o.Config.DatabaseLogicalPath, o.Config.Track, split)
}

func (o *Orchestrator) loader(c anyvec.Creator, split string, train bool) (*anyspoof.Loader, error) {
	ds, err := anyspoof.NewDataset(o.Config.DatabasePath, o.trialPath(split),
		anyspoof.Protocol2019, o.Config.ModelConfig.NumSamples, train)
	if err != nil {
		return nil, err
	}
	o.Log.Info().Str("split", split).Int("files", ds.Len()).Msg("loaded trials")
	return o.newLoader(c, ds, train), nil
}

func (o *Orchestrator) newLoader(c anyvec.Creator, src anyspoof.Source, train bool) *anyspoof.Loader {
	return &anyspoof.Loader{
		Source:    src,
		Creator:   c,
		BatchSize: o.Config.BatchSize,
		Shuffle:   train,
		DropLast:  train,
		Seed:      o.Seed,
		Prefetch:  o.Config.Prefetch,
		Workers:   o.Config.Workers,
	}
}

func (o *Orchestrator) oracle() anyeval.Oracle {
	return &anyeval.TDCFOracle{
		ASVScorePath: filepath.Join(o.Config.DatabaseLogicalPath, o.Config.ASVScorePath),
	}
}

func (o *Orchestrator) lockRun(runDir string) (func(), error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(runDir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, essentials.AddCtx("acquire lock", err)
	}
	if !ok {
		return nil, ErrRunLocked
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			o.Log.Warn().Err(err).Msg("failed to release run lock")
		}
	}, nil
}

// evalRunner evaluates the live student on the evaluation
// set for a Selector.
type evalRunner struct {
	Evaluator *anyeval.Evaluator
	Oracle    anyeval.Oracle
	Data      anyeval.Batches
	TrialPath string
	RunDir    string
	Output    string
}

func (e *evalRunner) EvalEpoch(ctx context.Context, epoch int) (float64, float64, error) {
	dir := filepath.Join(e.RunDir, metricsDir)
	return e.run(ctx, filepath.Join(dir, fmt.Sprintf("eval_score_%03depo.txt", epoch)),
		filepath.Join(dir, fmt.Sprintf("t-DCF_EER_%03depo.txt", epoch)))
}

func (e *evalRunner) EvalFinal(ctx context.Context) (float64, float64, error) {
	return e.run(ctx, filepath.Join(e.RunDir, e.Output), filepath.Join(e.RunDir, finalReport))
}

func (e *evalRunner) run(ctx context.Context, scorePath, reportPath string) (float64, float64, error) {
	e.Evaluator.Data = e.Data
	if err := e.Evaluator.Run(ctx, e.TrialPath, scorePath); err != nil {
		return 0, 0, err
	}
	return e.Oracle.Compute(scorePath, reportPath)
}

func recreateDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0755)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return essentials.AddCtx("copy config", err)
	}
	return os.WriteFile(dst, data, 0644)
}
