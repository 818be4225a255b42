package dataProcess

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toyDataset(n int, withGroups bool) *Dataset {
	ds := &Dataset{NumClasses: 3}
	for i := 0; i < n; i++ {
		ds.Images = append(ds.Images, []float64{float64(i), float64(-i)})
		ds.Labels = append(ds.Labels, i%3)
		if withGroups {
			ds.Groups = append(ds.Groups, i%2)
		}
	}
	return ds
}

func collectLabels(t *testing.T, l *Loader) [][]int {
	t.Helper()
	var out [][]int
	err := l.Iterate(context.Background(), func(_ int, b *Batch) error {
		out = append(out, append([]int(nil), b.Labels...))
		return nil
	})
	require.NoError(t, err)
	return out
}

func collectFirstFeature(t *testing.T, l *Loader) []float64 {
	t.Helper()
	var out []float64
	require.NoError(t, l.Iterate(context.Background(), func(_ int, b *Batch) error {
		for _, x := range b.Inputs {
			out = append(out, x.AtVec(0))
		}
		return nil
	}))
	return out
}

func TestLoaderBatchCounts(t *testing.T) {
	ds := toyDataset(10, false)

	l, err := NewLoader(ds, nil, LoaderOptions{BatchSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 10, l.NumSamples())
	batches := collectLabels(t, l)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2], 2)

	l, err = NewLoader(ds, nil, LoaderOptions{BatchSize: 4, DropLast: true})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 8, l.NumSamples())
	assert.Len(t, collectLabels(t, l), 2)
}

func TestLoaderPrefetchPreservesOrder(t *testing.T) {
	ds := toyDataset(37, false)
	sync, err := NewLoader(ds, nil, LoaderOptions{BatchSize: 5, Shuffle: true, Seed: 7})
	require.NoError(t, err)
	pre, err := NewLoader(ds, nil, LoaderOptions{BatchSize: 5, Shuffle: true, Seed: 7, Prefetch: 2})
	require.NoError(t, err)

	for pass := 0; pass < 3; pass++ {
		a := collectFirstFeature(t, sync)
		b := collectFirstFeature(t, pre)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("pass %d: prefetch order differs (-sync +prefetch):\n%s", pass, diff)
		}
	}
}

func TestLoaderShuffleChangesBetweenPasses(t *testing.T) {
	ds := toyDataset(50, false)
	l, err := NewLoader(ds, nil, LoaderOptions{BatchSize: 50, Shuffle: true, Seed: 1})
	require.NoError(t, err)
	first := collectFirstFeature(t, l)
	second := collectFirstFeature(t, l)
	assert.NotEqual(t, first, second)
	assert.ElementsMatch(t, first, second)
}

func TestLoaderStopsOnError(t *testing.T) {
	ds := toyDataset(40, false)
	l, err := NewLoader(ds, nil, LoaderOptions{BatchSize: 4, Prefetch: 1})
	require.NoError(t, err)
	stop := errors.New("stop")
	calls := 0
	err = l.Iterate(context.Background(), func(step int, _ *Batch) error {
		calls++
		if step == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, calls)
}

func TestLoaderCancelledContext(t *testing.T) {
	ds := toyDataset(8, false)
	for _, prefetch := range []int{0, 1, 4} {
		l, err := NewLoader(ds, nil, LoaderOptions{BatchSize: 2, Prefetch: prefetch})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		// 预取模式下重复多次，确保已取消的 ctx 不会交付任何批次
		for i := 0; i < 50; i++ {
			calls := 0
			err = l.Iterate(ctx, func(int, *Batch) error {
				calls++
				return nil
			})
			assert.ErrorIs(t, err, context.Canceled)
			require.Zero(t, calls, "prefetch=%d", prefetch)
		}
	}
}

func TestLoaderGroupsResolvedOnce(t *testing.T) {
	l, err := NewLoader(toyDataset(6, true), nil, LoaderOptions{BatchSize: 3})
	require.NoError(t, err)
	require.NoError(t, l.Iterate(context.Background(), func(_ int, b *Batch) error {
		assert.True(t, b.HasGroups())
		assert.Len(t, b.Groups, b.Size())
		return nil
	}))

	l, err = NewLoader(toyDataset(6, false), nil, LoaderOptions{BatchSize: 3})
	require.NoError(t, err)
	require.NoError(t, l.Iterate(context.Background(), func(_ int, b *Batch) error {
		assert.False(t, b.HasGroups())
		return nil
	}))
}

func TestLoaderRejectsBadIndices(t *testing.T) {
	_, err := NewLoader(toyDataset(3, false), []int{0, 5}, LoaderOptions{BatchSize: 1})
	assert.Error(t, err)
	_, err = NewLoader(toyDataset(3, false), nil, LoaderOptions{BatchSize: 0})
	assert.Error(t, err)
}

func TestSyntheticDeterministic(t *testing.T) {
	spec := SyntheticSpec{Classes: 3, Features: 4, TrainPerClass: 5, TestPerClass: 2, Spread: 0.5, Groups: 2}
	a, at := Synthetic(spec, 11)
	b, bt := Synthetic(spec, 11)
	assert.Equal(t, a.Images, b.Images)
	assert.Equal(t, at.Labels, bt.Labels)
	assert.Equal(t, 15, a.Len())
	assert.Equal(t, 6, at.Len())
	assert.True(t, a.HasGroups())
	require.NoError(t, a.Validate())
	assert.Equal(t, []int{0, 1, 2}, a.SortedClasses())
}

func TestReadIDX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [4]int32{2051, 2, 1, 2}))
	buf.Write([]byte{0, 255, 51, 102})
	images, err := readIDXImages(&buf)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {0.2, 0.4}}, images)

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [2]int32{2049, 3}))
	buf.Write([]byte{7, 0, 9})
	labels, err := readIDXLabels(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 0, 9}, labels)

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [2]int32{1234, 0}))
	_, err = readIDXLabels(&buf)
	assert.Error(t, err)
}

func TestLoadCSVSplitRejectsRaggedRows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train_images.csv"), []byte("1,2,3\n4,5\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train_labels.csv"), []byte("0\n1\n"), 0o644))

	_, err := LoadCSVSplit(dir, "train")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "样本 1")
}

func TestValidateImageWidth(t *testing.T) {
	ds := &Dataset{Images: [][]float64{{1, 2}, {3}}, Labels: []int{0, 1}, NumClasses: 2}
	assert.Error(t, ds.Validate())
	ds.Images[1] = []float64{3, 4}
	assert.NoError(t, ds.Validate())
}

func TestLoadCSVSplitWithGroups(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("train_images.csv", "0,255\n51,0\n")
	write("train_labels.csv", "1\n0\n")
	write("train_groups.csv", "0\n1\n")

	ds, err := LoadCSVSplit(dir, "train")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {0.2, 0}}, ds.Images)
	assert.Equal(t, []int{1, 0}, ds.Labels)
	assert.Equal(t, []int{0, 1}, ds.Groups)
	assert.Equal(t, 2, ds.NumClasses)

	_, err = LoadCSVSplit(dir, "test")
	assert.Error(t, err)
}
