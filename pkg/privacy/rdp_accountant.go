package privacy

import (
	"fmt"
	"math"
)

/*
采样高斯机制的 Rényi 差分隐私(RDP)记账：
在一组阶数 α 上计算单步 RDP，按步数线性组合，再转换为 (ε, δ)-DP 并对 α 取最小值。
*/

// DefaultOrders 默认的RDP阶数
var DefaultOrders = func() []float64 {
	orders := make([]float64, 0, 99+53+3)
	for i := 1; i < 100; i++ {
		orders = append(orders, 1.0+float64(i)/10.0)
	}
	for i := 11; i <= 63; i++ {
		orders = append(orders, float64(i))
	}
	return append(orders, 128.0, 256.0, 512.0)
}()

// Budget 一次训练运行的隐私预算，启动时计算一次
type Budget struct {
	Epsilon         float64
	Delta           float64
	Order           float64 // 取得最小 ε 的阶数
	NoiseMultiplier float64
	SamplingRate    float64
	Steps           int
}

func (b Budget) String() string {
	return fmt.Sprintf("ε=%.4f (α=%.1f, δ=%.0e, z=%.2f, q=%.5f, T=%d)",
		b.Epsilon, b.Order, b.Delta, b.NoiseMultiplier, b.SamplingRate, b.Steps)
}

// SamplingRate 采样率 q = batch/n
func SamplingRate(batchSize, datasetSize int) float64 {
	if datasetSize <= 0 {
		return 0
	}
	q := float64(batchSize) / float64(datasetSize)
	if q > 1 {
		q = 1
	}
	return q
}

// StepsFor 计划的总步数
func StepsFor(epochs, batchesPerEpoch int) int {
	if epochs < 0 || batchesPerEpoch < 0 {
		return 0
	}
	return epochs * batchesPerEpoch
}

// ComputeBudget 计算噪声乘数 z、采样率 q、步数 T 下 δ 对应的 ε
func ComputeBudget(noiseMultiplier, q float64, steps int, delta float64) (Budget, error) {
	switch {
	case noiseMultiplier < 0 || math.IsNaN(noiseMultiplier):
		return Budget{}, fmt.Errorf("z=%v: 噪声乘数不能为负数", noiseMultiplier)
	case q < 0 || q > 1 || math.IsNaN(q):
		return Budget{}, fmt.Errorf("采样率 q=%v 必须位于 [0, 1]", q)
	case steps < 0:
		return Budget{}, fmt.Errorf("步数 T=%d 不能为负数", steps)
	case delta <= 0 || delta >= 1:
		return Budget{}, fmt.Errorf("delta=%v 必须位于 (0, 1)", delta)
	}

	rdp := ComputeRDP(q, noiseMultiplier, steps, DefaultOrders)
	eps, order := ConvertRDPtoDP(DefaultOrders, rdp, delta)
	return Budget{
		Epsilon:         eps,
		Delta:           delta,
		Order:           order,
		NoiseMultiplier: noiseMultiplier,
		SamplingRate:    q,
		Steps:           steps,
	}, nil
}

// ComputeRDP 计算各阶数下 T 步的总RDP
func ComputeRDP(q, noiseMultiplier float64, steps int, orders []float64) []float64 {
	rdpValues := make([]float64, len(orders))
	for i, alpha := range orders {
		rdpValues[i] = computeSingleStepRDP(q, noiseMultiplier, alpha) * float64(steps)
	}
	return rdpValues
}

// ConvertRDPtoDP 使用 ε = rdp + log(1/δ)/(α-1) 转换，并返回最小 ε 及对应阶数
func ConvertRDPtoDP(orders []float64, rdpValues []float64, delta float64) (float64, float64) {
	minEpsilon := math.Inf(1)
	optOrder := 0.0
	for i, alpha := range orders {
		epsilon := rdpValues[i] + math.Log(1/delta)/(alpha-1)
		if math.IsNaN(epsilon) {
			continue
		}
		if epsilon < minEpsilon {
			minEpsilon = epsilon
			optOrder = alpha
		}
	}
	return minEpsilon, optOrder
}

func computeSingleStepRDP(q, sigma, alpha float64) float64 {
	if q == 0 {
		return 0
	}
	if sigma == 0 {
		return math.Inf(1)
	}
	if q == 1.0 {
		return alpha / (2 * sigma * sigma)
	}
	if math.IsInf(alpha, 1) {
		return math.Inf(1)
	}
	if alpha == math.Floor(alpha) {
		return computeLogAInt(q, sigma, int(alpha)) / (alpha - 1)
	}
	return computeLogAFrac(q, sigma, alpha) / (alpha - 1)
}

// computeLogAInt 整数阶：对二项展开逐项做 log-sum-exp
func computeLogAInt(q, sigma float64, alpha int) float64 {
	logA := math.Inf(-1)
	for i := 0; i <= alpha; i++ {
		logB := logBinomial(alpha, i) +
			float64(i)*math.Log(q) +
			float64(alpha-i)*math.Log(1-q) +
			float64(i*i-i)/(2*sigma*sigma)
		logA = logAddExp(logA, logB)
	}
	return logA
}

// computeLogAFrac 分数阶：两个以 erfc 加权的级数，直到项小于 e^-30
func computeLogAFrac(q, sigma, alpha float64) float64 {
	logA0, logA1 := math.Inf(-1), math.Inf(-1)
	z0 := sigma*sigma*math.Log(1/q-1) + 0.5

	logAbsCoef := 0.0 // log|C(alpha, i)|
	sign := 1.0
	for i := 0; ; i++ {
		if i > 0 {
			k := float64(i - 1)
			logAbsCoef += math.Log(math.Abs(alpha-k)) - math.Log(k+1)
			if alpha-k < 0 {
				sign = -sign
			}
		}
		fi := float64(i)
		j := alpha - fi

		logT0 := logAbsCoef + fi*math.Log(q) + j*math.Log(1-q)
		logT1 := logAbsCoef + j*math.Log(q) + fi*math.Log(1-q)

		logE0 := math.Log(0.5) + logErfc((fi-z0)/(math.Sqrt2*sigma))
		logE1 := math.Log(0.5) + logErfc((z0-j)/(math.Sqrt2*sigma))

		logS0 := logT0 + (fi*fi-fi)/(2*sigma*sigma) + logE0
		logS1 := logT1 + (j*j-j)/(2*sigma*sigma) + logE1

		if sign > 0 {
			logA0 = logAddExp(logA0, logS0)
			logA1 = logAddExp(logA1, logS1)
		} else {
			logA0 = logSubExp(logA0, logS0)
			logA1 = logSubExp(logA1, logS1)
		}

		if math.Max(logS0, logS1) < -30 || i > 10000 {
			break
		}
	}
	return logAddExp(logA0, logA1)
}

// logBinomial 计算 log C(n,k)
func logBinomial(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}

// logErfc 计算 log(erfc(x))，erfc 下溢时使用渐近展开
func logErfc(x float64) float64 {
	r := math.Erfc(x)
	if r == 0 {
		return -math.Log(math.Pi)/2 - math.Log(x) - x*x - 0.5/(x*x) +
			0.625/math.Pow(x, 4) - 37.0/24.0/math.Pow(x, 6) + 353.0/64.0/math.Pow(x, 8)
	}
	return math.Log(r)
}

// logAddExp 计算 log(exp(a) + exp(b))，避免数值溢出
func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	maxVal := math.Max(a, b)
	minVal := math.Min(a, b)
	return maxVal + math.Log1p(math.Exp(minVal-maxVal))
}

// logSubExp 计算 log(exp(a) - exp(b))，要求 a >= b；a == b 时结果为 log(0)
func logSubExp(a, b float64) float64 {
	if math.IsInf(b, -1) {
		return a
	}
	if a <= b {
		return math.Inf(-1)
	}
	d := a - b
	if d > 700 {
		return a
	}
	return math.Log(math.Expm1(d)) + b
}
