package anyspoof

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"golang.org/x/sync/errgroup"
)

const defaultPrefetch = 2

// A Batch stores waveforms and labels in a packed format.
type Batch struct {
	// Inputs is a packed [Num, samples] matrix.
	Inputs *anydiff.Const

	Labels []int

	// IDs holds the utterance of every sample.
	IDs []string

	Num int
}

// NewBatch packs samples of equal length into a Batch.
func NewBatch(c anyvec.Creator, samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("new batch: empty batch")
	}
	length := len(samples[0].Wave)
	joined := make([]float64, 0, length*len(samples))
	res := &Batch{Num: len(samples)}
	for _, s := range samples {
		if len(s.Wave) != length {
			return nil, fmt.Errorf("new batch: sample %s has length %d (expected %d)",
				s.ID, len(s.Wave), length)
		}
		if s.Label != LabelSpoof && s.Label != LabelBonafide {
			return nil, fmt.Errorf("new batch: sample %s has invalid label %d", s.ID, s.Label)
		}
		joined = append(joined, s.Wave...)
		res.Labels = append(res.Labels, s.Label)
		res.IDs = append(res.IDs, s.ID)
	}
	res.Inputs = anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(joined)))
	return res, nil
}

// Validate checks that the batch fields agree with Num.
func (b *Batch) Validate() error {
	if b.Num <= 0 {
		return fmt.Errorf("invalid batch size: %d", b.Num)
	}
	if len(b.Labels) != b.Num {
		return fmt.Errorf("batch has %d labels for %d samples", len(b.Labels), b.Num)
	}
	if b.IDs != nil && len(b.IDs) != b.Num {
		return fmt.Errorf("batch has %d ids for %d samples", len(b.IDs), b.Num)
	}
	if b.Inputs.Output().Len()%b.Num != 0 {
		return fmt.Errorf("batch input of length %d cannot hold %d samples",
			b.Inputs.Output().Len(), b.Num)
	}
	return nil
}

// A Loader produces batches from a Source.
//
// Batches are loaded ahead of time on a background
// goroutine, and the samples of each batch are read in
// parallel.
type Loader struct {
	Source    Source
	Creator   anyvec.Creator
	BatchSize int

	// Shuffle, if set, reorders the samples at the start of
	// every pass using a generator seeded by Seed and the
	// number of passes so far.
	Shuffle bool

	// DropLast, if set, skips the final batch when it is
	// smaller than BatchSize.
	DropLast bool

	Seed int64

	// Prefetch is the number of batches which may be loaded
	// before they are consumed.
	// If it is 0, a default is used.
	Prefetch int

	// Workers is the maximum number of samples to load at
	// once.
	// If it is 0, GOMAXPROCS is used.
	Workers int

	passes int64
}

// Len returns the number of batches in one pass.
func (l *Loader) Len() int {
	n := l.Source.Len()
	if l.DropLast {
		return n / l.BatchSize
	}
	return (n + l.BatchSize - 1) / l.BatchSize
}

// Iterate runs one pass over the source, calling f with
// every batch in order.
//
// Iteration stops at the first error from f or from the
// source, or when ctx is done.
func (l *Loader) Iterate(ctx context.Context, f func(b *Batch) error) error {
	if l.BatchSize <= 0 {
		return fmt.Errorf("iterate: invalid batch size %d", l.BatchSize)
	}
	order, seeds := l.plan()
	numBatches := l.Len()

	prefetch := l.Prefetch
	if prefetch == 0 {
		prefetch = defaultPrefetch
	}
	batches := make(chan *Batch, prefetch)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(batches)
		for i := 0; i < numBatches; i++ {
			end := min((i+1)*l.BatchSize, len(order))
			b, err := l.loadBatch(ctx, order[i*l.BatchSize:end], seeds[i*l.BatchSize:end])
			if err != nil {
				return err
			}
			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		for b := range batches {
			// On error, the group context stops the producer.
			if err := f(b); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// plan determines the sample order of the next pass and
// the seed used for each sample's randomness.
func (l *Loader) plan() ([]int, []int64) {
	r := rand.New(rand.NewSource(l.Seed + l.passes))
	l.passes++

	order := make([]int, l.Source.Len())
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		r.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	seeds := make([]int64, len(order))
	for i := range seeds {
		seeds[i] = r.Int63()
	}
	return order, seeds
}

func (l *Loader) loadBatch(ctx context.Context, indices []int, seeds []int64) (*Batch, error) {
	samples := make([]*Sample, len(indices))

	workers := l.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample, err := l.Source.Load(idx, rand.New(rand.NewSource(seeds[i])))
			if err != nil {
				return essentials.AddCtx("fetch batch", err)
			}
			samples[i] = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewBatch(l.Creator, samples)
}
