// Package anyeval scores trial lists with a trained model
// and computes ASVspoof detection metrics from the scores.
package anyeval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anykd"
	"github.com/unixpickle/anykd/anyspoof"
	"github.com/unixpickle/essentials"
)

var (
	// ErrCountMismatch indicates that the number of scores
	// differs from the number of trial lines.
	ErrCountMismatch = errors.New("score count does not match trial count")

	// ErrUttMismatch indicates that a scored utterance is not
	// the utterance on the same line of the trial list.
	ErrUttMismatch = errors.New("utterance id does not match trial list")
)

// A Scorer turns model outputs into one detection score
// per sample. It is satisfied by anyloss.Objective.
type Scorer interface {
	Scores(feat, logits anydiff.Res, n int) []float64
}

// Batches is a source of labelled batches, such as an
// *anyspoof.Loader.
type Batches interface {
	Len() int
	Iterate(ctx context.Context, f func(b *anyspoof.Batch) error) error
}

// A Record is one line of a score file.
type Record struct {
	UttID string
	Tag   string
	Label string
	Score float64
}

// An Evaluator writes a score file for a model.
type Evaluator struct {
	Model anykd.Forwarder

	// Scorer computes scores from the model outputs.
	// If it is nil, the bona fide logit is the score.
	Scorer Scorer

	Data Batches

	// Mode2021 writes "utt score" lines and skips the
	// per-line trial checks, since 2021 trial metadata does
	// not follow the five-column layout.
	Mode2021 bool

	// Progress, if non-nil, receives a progress bar.
	Progress io.Writer

	Log zerolog.Logger
}

// Run scores every batch and writes the score file.
//
// The model is put in inference mode if it supports
// training modes.
// The output file is only written once every score lines
// up with the trial list.
func (e *Evaluator) Run(ctx context.Context, trialPath, outPath string) error {
	if m, ok := e.Model.(anykd.Model); ok {
		m.SetTraining(false)
	}

	ids, scores, err := e.score(ctx)
	if err != nil {
		return essentials.AddCtx("evaluate", err)
	}
	lines, err := readLines(trialPath)
	if err != nil {
		return essentials.AddCtx("evaluate", err)
	}
	records, err := e.records(ids, scores, lines)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", trialPath, err)
	}
	if err := e.write(outPath, records); err != nil {
		return essentials.AddCtx("evaluate", err)
	}
	e.Log.Info().Str("path", outPath).Int("scores", len(records)).Msg("scores saved")
	return nil
}

func (e *Evaluator) score(ctx context.Context) ([]string, []float64, error) {
	var bar *progressbar.ProgressBar
	if e.Progress != nil {
		bar = progressbar.NewOptions(e.Data.Len(),
			progressbar.OptionSetWriter(e.Progress),
			progressbar.OptionSetDescription("scoring"),
			progressbar.OptionClearOnFinish())
	}

	var ids []string
	var scores []float64
	err := e.Data.Iterate(ctx, func(b *anyspoof.Batch) error {
		feat, logits := e.Model.Forward(b.Inputs, b.Num, false)
		var batchScores []float64
		if e.Scorer != nil {
			batchScores = e.Scorer.Scores(feat, logits, b.Num)
		} else {
			batchScores = bonafideLogits(logits)
		}
		if len(batchScores) != b.Num || len(b.IDs) != b.Num {
			return fmt.Errorf("batch of %d produced %d scores and %d ids", b.Num,
				len(batchScores), len(b.IDs))
		}
		ids = append(ids, b.IDs...)
		scores = append(scores, batchScores...)
		if bar != nil {
			bar.Add(1)
		}
		return nil
	})
	if bar != nil {
		bar.Finish()
	}
	return ids, scores, err
}

func (e *Evaluator) records(ids []string, scores []float64, lines []string) ([]*Record, error) {
	if len(lines) != len(ids) || len(ids) != len(scores) {
		return nil, fmt.Errorf("%w: %d trial lines, %d ids, %d scores", ErrCountMismatch,
			len(lines), len(ids), len(scores))
	}
	res := make([]*Record, len(ids))
	for i, id := range ids {
		res[i] = &Record{UttID: id, Score: scores[i]}
		if e.Mode2021 {
			continue
		}
		fields := strings.Split(strings.TrimSpace(lines[i]), " ")
		if len(fields) != 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields but got %d", i+1, len(fields))
		}
		if fields[1] != id {
			return nil, fmt.Errorf("%w: line %d lists %s but %s was scored", ErrUttMismatch,
				i+1, fields[1], id)
		}
		res[i].Tag = fields[3]
		res[i].Label = fields[4]
	}
	return res, nil
}

func (e *Evaluator) write(path string, records []*Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	w := bufio.NewWriter(f)
	for _, r := range records {
		score := strconv.FormatFloat(r.Score, 'g', -1, 64)
		if e.Mode2021 {
			fmt.Fprintf(w, "%s %s\n", r.UttID, score)
		} else {
			fmt.Fprintf(w, "%s %s %s %s\n", r.UttID, r.Tag, r.Label, score)
		}
	}
	return w.Flush()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var res []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		res = append(res, scanner.Text())
	}
	return res, scanner.Err()
}

func bonafideLogits(logits anydiff.Res) []float64 {
	out := logits.Output()
	res := make([]float64, out.Len()/2)
	switch data := out.Data().(type) {
	case []float32:
		for i := range res {
			res[i] = float64(data[2*i+1])
		}
	case []float64:
		for i := range res {
			res[i] = data[2*i+1]
		}
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
	return res
}
