package evaluation

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"PPDLDev/pkg/dataProcess"
	"PPDLDev/pkg/network"
	"PPDLDev/pkg/sampler"
)

// lookupModel 输入的第一个分量就是预测类别
type lookupModel struct{ classes int }

func (m lookupModel) Forward(x *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(m.classes, nil)
	out.SetVec(int(x.AtVec(0)), 1)
	return out
}
func (lookupModel) Parameters() []*network.Parameter                  { return nil }
func (lookupModel) ZeroGrad()                                         {}
func (lookupModel) Backward(_ *mat.VecDense, _ int, _ float64) float64 { return 0 }
func (m lookupModel) NumClasses() int                                 { return m.classes }

// dataset 每个样本为 (预测, 标签, 分组)
func dataset(classes int, rows [][3]int) *dataProcess.Dataset {
	ds := &dataProcess.Dataset{NumClasses: classes}
	for _, r := range rows {
		ds.Images = append(ds.Images, []float64{float64(r[0])})
		ds.Labels = append(ds.Labels, r[1])
		ds.Groups = append(ds.Groups, r[2])
	}
	return ds
}

func loaderOf(t *testing.T, ds *dataProcess.Dataset, batch int) *dataProcess.Loader {
	t.Helper()
	l, err := dataProcess.NewLoader(ds, nil, dataProcess.LoaderOptions{BatchSize: batch})
	require.NoError(t, err)
	return l
}

func TestEvaluateConfusionAndAccuracy(t *testing.T) {
	// 类别 0: 3 个样本对 2 个；类别 1: 2 个样本全对；类别 2: 无样本
	ds := dataset(3, [][3]int{
		{0, 0, 0}, {0, 0, 1}, {1, 0, 1},
		{1, 1, 0}, {1, 1, 0},
	})
	r, err := Evaluate(context.Background(), lookupModel{3}, loaderOf(t, ds, 2), 3)
	require.NoError(t, err)

	want := mat.NewDense(3, 3, []float64{2, 1, 0, 0, 2, 0, 0, 0, 0})
	assert.True(t, mat.Equal(want, r.Confusion))
	assert.Equal(t, 5, r.Total)
	assert.Equal(t, 4, r.Correct)
	assert.InDelta(t, 80, r.Accuracy, 1e-12)
	assert.InDelta(t, 200.0/3, r.PerClass[0], 1e-12)
	assert.InDelta(t, 100, r.PerClass[1], 1e-12)
	assert.True(t, math.IsNaN(r.PerClass[2]))
	assert.Equal(t, []bool{true, true, false}, r.Defined)

	// 已定义类别 {66.67, 100} 的总体方差为 (100-66.67)²/4
	d := 100 - 200.0/3
	assert.InDelta(t, d*d/4, r.Disparity.Variance, 1e-9)
	assert.InDelta(t, 200.0/3, r.Disparity.Min, 1e-12)
	assert.InDelta(t, 100, r.Disparity.Max, 1e-12)
	assert.Equal(t, 2, r.Disparity.Classes)

	assert.InDelta(t, 100, r.Groups["0/0"], 1e-12)
	assert.InDelta(t, 50, r.Groups["0/1"], 1e-12)
	assert.InDelta(t, 100, r.Groups["1/0"], 1e-12)
}

func TestEvaluateRejectsOutOfRangeLabel(t *testing.T) {
	ds := dataset(3, [][3]int{{0, 2, 0}})
	_, err := Evaluate(context.Background(), lookupModel{3}, loaderOf(t, ds, 1), 2)
	assert.Error(t, err)
}

func TestEvaluateGroupsRequiresGroups(t *testing.T) {
	ds := dataset(2, [][3]int{{0, 0, 0}})
	ds.Groups = nil
	_, err := EvaluateGroups(context.Background(), lookupModel{2}, loaderOf(t, ds, 1), 2)
	assert.Error(t, err)
}

func TestComputeDisparityAllUndefined(t *testing.T) {
	d := ComputeDisparity([]float64{math.NaN(), math.NaN()})
	assert.True(t, math.IsNaN(d.Variance))
	assert.Zero(t, d.Classes)
}

func TestEvaluatePartitions(t *testing.T) {
	ds := dataset(3, [][3]int{
		{0, 0, 0}, {1, 0, 0}, {0, 0, 0}, {0, 0, 0},
		{1, 1, 0}, {1, 1, 0},
	})
	parts, err := sampler.PerClassPartitions(ds, 3, 0)
	require.NoError(t, err)
	empty, err := dataProcess.NewLoader(ds, []int{}, dataProcess.LoaderOptions{BatchSize: 3})
	require.NoError(t, err)
	parts[2] = empty

	res, err := EvaluatePartitions(context.Background(), lookupModel{3}, parts)
	require.NoError(t, err)
	assert.InDelta(t, 75, res[0].Accuracy, 1e-12)
	assert.Equal(t, 4, res[0].Count)
	assert.InDelta(t, 100, res[1].Accuracy, 1e-12)
	assert.False(t, res[2].Defined)
	assert.True(t, math.IsNaN(res[2].Accuracy))
}
