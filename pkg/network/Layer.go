package network

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

/*
该文件包含神经网络层的封装和该层的前向传播
权重与偏置都以具名 Parameter 保存，梯度由反向传播按需分配
*/

// 定义一个Layer层，不单独封装输入层，直接将数据输入到第一个隐藏层
type Layer struct {
	InputSize  int
	OutputSize int
	Weights    *Parameter // OutputSize*InputSize
	Biases     *Parameter // OutputSize*1
	Activation ActivationKind

	activate func(*mat.VecDense) *mat.VecDense
	derive   func(*mat.VecDense) *mat.VecDense
}

// NewLayer 创建一层，权重使用HE初始化
func NewLayer(index, inputSize, outputSize int, act ActivationKind, rng *rand.Rand) *Layer {
	weights := mat.NewDense(outputSize, inputSize, nil)
	scale := math.Sqrt(2.0 / float64(inputSize))
	for i := 0; i < outputSize; i++ {
		for j := 0; j < inputSize; j++ {
			weights.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	l := &Layer{
		InputSize:  inputSize,
		OutputSize: outputSize,
		Weights:    &Parameter{Name: fmt.Sprintf("layer%d.weight", index), Value: weights},
		Biases:     &Parameter{Name: fmt.Sprintf("layer%d.bias", index), Value: mat.NewDense(outputSize, 1, nil)},
		Activation: act,
	}
	l.activate, l.derive = activationFuncs(act)
	return l
}

// preActivation z = Wx + b
func (l *Layer) preActivation(x *mat.VecDense) *mat.VecDense {
	z := mat.NewVecDense(l.OutputSize, nil)
	z.MulVec(l.Weights.Value, x)
	z.AddVec(z, l.Biases.Value.ColView(0))
	return z
}

// Forward 该层的前向传播
func (l *Layer) Forward(x *mat.VecDense) *mat.VecDense {
	return l.activate(l.preActivation(x))
}

func (l *Layer) clone() *Layer {
	c := &Layer{
		InputSize:  l.InputSize,
		OutputSize: l.OutputSize,
		Weights:    l.Weights.clone(),
		Biases:     l.Biases.clone(),
		Activation: l.Activation,
	}
	c.activate, c.derive = activationFuncs(l.Activation)
	return c
}
