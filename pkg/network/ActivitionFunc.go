package network

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ActivationKind 激活函数类型
type ActivationKind int

const (
	ActivationIdentity ActivationKind = iota
	ActivationReLU
	ActivationSigmoid
)

func (k ActivationKind) String() string {
	switch k {
	case ActivationReLU:
		return "relu"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return "identity"
	}
}

// ParseActivation 按名称解析隐藏层激活函数
func ParseActivation(name string) (ActivationKind, error) {
	switch name {
	case "identity":
		return ActivationIdentity, nil
	case "relu":
		return ActivationReLU, nil
	case "sigmoid":
		return ActivationSigmoid, nil
	}
	return ActivationIdentity, fmt.Errorf("未知的激活函数: %s", name)
}

// activationFuncs 返回激活函数及其导数；导数以激活后的输出 a 为自变量
func activationFuncs(k ActivationKind) (func(*mat.VecDense) *mat.VecDense, func(*mat.VecDense) *mat.VecDense) {
	switch k {
	case ActivationReLU:
		return ReLU, ReLUDerivative
	case ActivationSigmoid:
		return Sigmoid, SigmoidDerivative
	default:
		return Identity, IdentityDerivative
	}
}

// Sigmoid 逐元素 1/(1+e^-z)
func Sigmoid(z *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(z.Len(), nil)
	for i := 0; i < z.Len(); i++ {
		out.SetVec(i, 1/(1+math.Exp(-z.AtVec(i))))
	}
	return out
}

// SigmoidDerivative 以输出 a 表示的导数 a(1-a)
func SigmoidDerivative(a *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	for i := 0; i < a.Len(); i++ {
		v := a.AtVec(i)
		out.SetVec(i, v*(1-v))
	}
	return out
}

// ReLU 激活函数
func ReLU(z *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(z.Len(), nil)
	for i := 0; i < z.Len(); i++ {
		if val := z.AtVec(i); val > 0 {
			out.SetVec(i, val)
		}
	}
	return out
}

// ReLU 的导数函数
func ReLUDerivative(a *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	for i := 0; i < a.Len(); i++ {
		if a.AtVec(i) > 0 {
			out.SetVec(i, 1)
		}
	}
	return out
}

// Identity 线性层（无激活）
func Identity(z *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(z.Len(), nil)
	out.CopyVec(z)
	return out
}

func IdentityDerivative(a *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	for i := 0; i < a.Len(); i++ {
		out.SetVec(i, 1)
	}
	return out
}

// softmax函数，减去最大值避免溢出
func Softmax(z *mat.VecDense) *mat.VecDense {
	raw := z.RawVector()
	vals := make([]float64, z.Len())
	for i := range vals {
		vals[i] = raw.Data[i*raw.Inc]
	}
	maxVal := floats.Max(vals)
	sum := 0.0
	for i, v := range vals {
		vals[i] = math.Exp(v - maxVal)
		sum += vals[i]
	}
	floats.Scale(1/sum, vals)
	return mat.NewVecDense(len(vals), vals)
}

// LogSoftmax 数值稳定的 log(softmax(z))
func LogSoftmax(z *mat.VecDense) *mat.VecDense {
	vals := make([]float64, z.Len())
	for i := range vals {
		vals[i] = z.AtVec(i)
	}
	lse := floats.LogSumExp(vals)
	floats.AddConst(-lse, vals)
	return mat.NewVecDense(len(vals), vals)
}
