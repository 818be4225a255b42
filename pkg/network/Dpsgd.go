package network

import (
	"math"
	"math/rand/v2"

	dprand "github.com/google/differential-privacy/go/v3/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

/*
差分隐私SGD使用的梯度原语：全局L2范数、裁剪、累加器和高斯噪声源
*/

// minClipNorm 低于该范数时不做缩放
const minClipNorm = 1e-12

// Gradients 参数名到累加梯度的映射，只在一个训练步内有效
type Gradients map[string]*mat.Dense

// NewGradients 为每个参数创建零初始化的累加器
func NewGradients(params []*Parameter) Gradients {
	g := make(Gradients, len(params))
	for _, p := range params {
		r, c := p.Value.Dims()
		g[p.Name] = mat.NewDense(r, c, nil)
	}
	return g
}

// Add 把参数当前的梯度累加进来，没有梯度的参数跳过；touched 记录收到过梯度的参数
func (g Gradients) Add(params []*Parameter, touched map[string]bool) {
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		acc := g[p.Name]
		acc.Add(acc, p.Grad)
		if touched != nil {
			touched[p.Name] = true
		}
	}
}

// GlobalL2Norm 所有参数梯度拼接后的L2范数，nil 梯度不计入
func GlobalL2Norm(params []*Parameter) float64 {
	sum := 0.0
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		n := mat.Norm(p.Grad, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// ClipGradientByL2Norm 全局范数超过 maxNorm 时把所有梯度按 maxNorm/norm 缩放，返回裁剪前的范数
func ClipGradientByL2Norm(params []*Parameter, maxNorm float64) float64 {
	norm := GlobalL2Norm(params)
	if norm < minClipNorm || norm <= maxNorm {
		return norm
	}
	scaleFactor := maxNorm / norm
	for _, p := range params {
		if p.Grad != nil {
			p.Grad.Scale(scaleFactor, p.Grad)
		}
	}
	return norm
}

// NoiseSource 标准差为 sigma 的零均值高斯噪声
type NoiseSource interface {
	Sample(sigma float64) float64
}

type seededNoise struct {
	normal distuv.Normal
}

// NewSeededNoise 可复现的噪声源，用于实验和测试
func NewSeededNoise(seed int64) NoiseSource {
	return &seededNoise{normal: distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewPCG(uint64(seed), 0xd9),
	}}
}

func (s *seededNoise) Sample(sigma float64) float64 {
	return sigma * s.normal.Rand()
}

type secureNoise struct{}

// NewSecureNoise 基于密码学安全随机数的噪声源，不可复现
func NewSecureNoise() NoiseSource {
	return secureNoise{}
}

func (secureNoise) Sample(sigma float64) float64 {
	return sigma * dprand.Normal()
}

// AddGaussianNoise 给矩阵的每个元素加上独立的 N(0, sigma²) 噪声
func AddGaussianNoise(m *mat.Dense, sigma float64, src NoiseSource) {
	if sigma == 0 {
		return
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)+src.Sample(sigma))
		}
	}
}
