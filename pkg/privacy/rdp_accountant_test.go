package privacy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetMonotoneInNoise(t *testing.T) {
	q := SamplingRate(64, 50000)
	steps := StepsFor(20, 50000/64)
	prev := math.Inf(1)
	for _, z := range []float64{0.3, 0.5, 0.7, 0.9, 1.1, 1.5, 2, 4, 8} {
		b, err := ComputeBudget(z, q, steps, 1e-5)
		require.NoError(t, err)
		assert.LessOrEqual(t, b.Epsilon, prev, "z=%v", z)
		prev = b.Epsilon
	}
}

func TestBudgetMonotoneInSamplingRate(t *testing.T) {
	prev := 0.0
	for _, q := range []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.2, 1} {
		b, err := ComputeBudget(1.1, q, 1000, 1e-5)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.Epsilon, prev, "q=%v", q)
		prev = b.Epsilon
	}
}

func TestBudgetFullBatchClosedForm(t *testing.T) {
	// q=1 时单步 RDP 为 α/(2z²)
	z, steps, delta := 2.0, 10, 1e-5
	want := math.Inf(1)
	for _, a := range DefaultOrders {
		eps := float64(steps)*a/(2*z*z) + math.Log(1/delta)/(a-1)
		want = math.Min(want, eps)
	}
	b, err := ComputeBudget(z, 1, steps, delta)
	require.NoError(t, err)
	assert.InDelta(t, want, b.Epsilon, 1e-9)
}

func TestBudgetKnownMNISTSetting(t *testing.T) {
	// 60000 样本、批次 256、z=1.1、60 轮，公开结果约为 ε≈3
	q := SamplingRate(256, 60000)
	steps := StepsFor(60, 60000/256)
	b, err := ComputeBudget(1.1, q, steps, 1e-5)
	require.NoError(t, err)
	assert.Greater(t, b.Epsilon, 2.0)
	assert.Less(t, b.Epsilon, 4.5)
	assert.Greater(t, b.Order, 1.0)
}

func TestRDPNonDecreasingInOrder(t *testing.T) {
	// 整数阶与分数阶两条计算路径应衔接成单调曲线
	rdp := ComputeRDP(0.01, 1.0, 1, DefaultOrders)
	for i := 1; i < len(rdp); i++ {
		assert.GreaterOrEqual(t, rdp[i]*(1+1e-6)+1e-12, rdp[i-1],
			"order %v -> %v", DefaultOrders[i-1], DefaultOrders[i])
	}
}

func TestBudgetEdgeCases(t *testing.T) {
	b, err := ComputeBudget(1, 0, 100, 1e-5)
	require.NoError(t, err)
	// q=0 时 RDP 为 0，只剩转换项
	assert.InDelta(t, math.Log(1e5)/(512-1), b.Epsilon, 1e-12)

	b, err = ComputeBudget(0, 0.01, 100, 1e-5)
	require.NoError(t, err)
	assert.True(t, math.IsInf(b.Epsilon, 1))

	b, err = ComputeBudget(1, 0.01, 0, 1e-5)
	require.NoError(t, err)
	assert.Less(t, b.Epsilon, 0.1)

	for _, tc := range []struct {
		z, q  float64
		steps int
		delta float64
	}{
		{-1, 0.1, 1, 1e-5},
		{1, 1.5, 1, 1e-5},
		{1, 0.1, -1, 1e-5},
		{1, 0.1, 1, 0},
		{1, 0.1, 1, 1},
	} {
		_, err := ComputeBudget(tc.z, tc.q, tc.steps, tc.delta)
		assert.Error(t, err, "%+v", tc)
	}
}

func TestLogHelpers(t *testing.T) {
	assert.InDelta(t, math.Log(5), logAddExp(math.Log(2), math.Log(3)), 1e-12)
	assert.InDelta(t, math.Log(1), logSubExp(math.Log(3), math.Log(2)), 1e-12)
	assert.True(t, math.IsInf(logSubExp(1, 1), -1))
	assert.InDelta(t, math.Log(10), logBinomial(5, 2), 1e-12)
	assert.InDelta(t, math.Log(math.Erfc(1.5)), logErfc(1.5), 1e-12)
	// 渐近分支与直接计算在边界附近一致
	assert.InDelta(t, -30*30-math.Log(30)-math.Log(math.Pi)/2, logErfc(30), 1e-2)
}

func TestSamplingRateClamp(t *testing.T) {
	assert.Equal(t, 1.0, SamplingRate(100, 10))
	assert.Equal(t, 0.0, SamplingRate(10, 0))
	assert.Equal(t, 0.5, SamplingRate(5, 10))
}
