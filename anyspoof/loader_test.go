package anyspoof

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func testSource(n int) SliceSource {
	var res SliceSource
	for i := 0; i < n; i++ {
		res = append(res, &Sample{
			ID:    fmt.Sprintf("utt%d", i),
			Wave:  []float64{float64(i), float64(-i)},
			Label: i % 2,
		})
	}
	return res
}

func collect(t *testing.T, l *Loader) []*Batch {
	var res []*Batch
	require.NoError(t, l.Iterate(context.Background(), func(b *Batch) error {
		require.NoError(t, b.Validate())
		res = append(res, b)
		return nil
	}))
	return res
}

func TestLoaderOrdered(t *testing.T) {
	l := &Loader{
		Source:    testSource(7),
		Creator:   anyvec64.CurrentCreator(),
		BatchSize: 3,
		Workers:   2,
	}
	require.Equal(t, 3, l.Len())
	batches := collect(t, l)
	require.Len(t, batches, 3)
	var ids []string
	for _, b := range batches {
		ids = append(ids, b.IDs...)
	}
	require.Equal(t, []string{"utt0", "utt1", "utt2", "utt3", "utt4", "utt5", "utt6"}, ids)
	require.Equal(t, 1, batches[2].Num)
	require.Equal(t, []float64{6, -6}, batches[2].Inputs.Output().Data().([]float64))
	require.Equal(t, []int{1, 0, 1}, batches[1].Labels)
}

func TestLoaderShuffleDropLast(t *testing.T) {
	l := &Loader{
		Source:    testSource(10),
		Creator:   anyvec64.CurrentCreator(),
		BatchSize: 4,
		Shuffle:   true,
		DropLast:  true,
		Seed:      42,
	}
	require.Equal(t, 2, l.Len())

	pass1 := collect(t, l)
	pass2 := collect(t, l)
	require.Len(t, pass1, 2)
	require.Len(t, pass2, 2)

	seen := map[string]bool{}
	for _, b := range pass1 {
		require.Equal(t, 4, b.Num)
		for _, id := range b.IDs {
			require.False(t, seen[id], "duplicate sample %s", id)
			seen[id] = true
		}
	}

	replay := &Loader{
		Source:    l.Source,
		Creator:   l.Creator,
		BatchSize: 4,
		Shuffle:   true,
		DropLast:  true,
		Seed:      42,
	}
	require.Equal(t, pass1[0].IDs, collect(t, replay)[0].IDs, "same seed should replay")
}

func TestLoaderError(t *testing.T) {
	expected := errors.New("stop")
	l := &Loader{
		Source:    testSource(20),
		Creator:   anyvec64.CurrentCreator(),
		BatchSize: 2,
		Prefetch:  1,
	}
	calls := 0
	err := l.Iterate(context.Background(), func(b *Batch) error {
		calls++
		if calls == 2 {
			return expected
		}
		return nil
	})
	require.ErrorIs(t, err, expected)
	require.Equal(t, 2, calls)
}

type failingSource struct {
	SliceSource
	loads int32
}

func (f *failingSource) Load(idx int, r *rand.Rand) (*Sample, error) {
	atomic.AddInt32(&f.loads, 1)
	if idx == 3 {
		return nil, errors.New("corrupt file")
	}
	return f.SliceSource.Load(idx, r)
}

func TestLoaderSourceError(t *testing.T) {
	l := &Loader{
		Source:    &failingSource{SliceSource: testSource(8)},
		Creator:   anyvec64.CurrentCreator(),
		BatchSize: 2,
	}
	var batches int
	err := l.Iterate(context.Background(), func(b *Batch) error {
		batches++
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt file")
	require.Equal(t, 1, batches)
}

func TestLoaderCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		Source:    testSource(10),
		Creator:   anyvec64.CurrentCreator(),
		BatchSize: 1,
	}
	err := l.Iterate(ctx, func(b *Batch) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBatchValidate(t *testing.T) {
	b := &Batch{
		Inputs: anydiff.NewConst(anyvec64.MakeVector(6)),
		Labels: []int{0, 1},
		Num:    3,
	}
	require.Error(t, b.Validate())
	b.Labels = append(b.Labels, 1)
	require.NoError(t, b.Validate())
	b.IDs = []string{"a"}
	require.Error(t, b.Validate())

	_, err := NewBatch(anyvec64.CurrentCreator(), []*Sample{
		{ID: "a", Wave: []float64{1, 2}},
		{ID: "b", Wave: []float64{1}},
	})
	require.Error(t, err)
	_, err = NewBatch(anyvec64.CurrentCreator(), nil)
	require.Error(t, err)
}
