package network

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

/*
该文件包含了网络的前向传播和后向传播
此外还有一些辅助函数，例如预测，损失计算等
*/

// Forward 整个网络的前向传播，返回logits
func (nn *NeuronNetwork) Forward(input *mat.VecDense) *mat.VecDense {
	a := input
	for _, layer := range nn.Layers {
		a = layer.Forward(a)
	}
	return a
}

// CrossEntropy 单个样本的交叉熵损失 -log softmax(logits)[label]
func CrossEntropy(logits *mat.VecDense, label int) float64 {
	return -LogSoftmax(logits).AtVec(label)
}

// PerExampleLoss 逐样本的损失（reduction none）
func PerExampleLoss(m Model, inputs []*mat.VecDense, labels []int) []float64 {
	losses := make([]float64, len(inputs))
	for i, x := range inputs {
		losses[i] = CrossEntropy(m.Forward(x), labels[i])
	}
	return losses
}

// MeanLoss 批次平均损失
func MeanLoss(m Model, inputs []*mat.VecDense, labels []int) float64 {
	if len(inputs) == 0 {
		return 0
	}
	return floats.Sum(PerExampleLoss(m, inputs, labels)) / float64(len(inputs))
}

// Predict 返回 argmax 类别
func Predict(m Model, x *mat.VecDense) int {
	logits := m.Forward(x)
	best, bestVal := 0, math.Inf(-1)
	for i := 0; i < logits.Len(); i++ {
		if v := logits.AtVec(i); v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

// Backward 计算单个样本的梯度并按 scale 累加到参数梯度上
// 输出层误差 delta = softmax(z) - onehot(label)
func (nn *NeuronNetwork) Backward(x *mat.VecDense, label int, scale float64) float64 {
	activations := make([]*mat.VecDense, len(nn.Layers)+1)
	activations[0] = x
	for i, layer := range nn.Layers {
		activations[i+1] = layer.Forward(activations[i])
	}
	logits := activations[len(activations)-1]
	loss := CrossEntropy(logits, label)

	delta := Softmax(logits)
	delta.SetVec(label, delta.AtVec(label)-1)

	// 从后向前传播误差
	for i := len(nn.Layers) - 1; i >= 0; i-- {
		layer := nn.Layers[i]

		// dW = delta * a^T, db = delta
		var dW mat.Dense
		dW.Outer(1, delta, activations[i])
		layer.Weights.accumulate(&dW, scale)
		layer.Biases.accumulate(delta, scale)

		if i == 0 {
			break
		}
		// delta = (W^T * delta) ⊙ σ'(a)，冻结层同样需要向前传递误差
		prevDelta := mat.NewVecDense(layer.InputSize, nil)
		prevDelta.MulVec(layer.Weights.Value.T(), delta)
		prevDelta.MulElemVec(prevDelta, nn.Layers[i-1].derive(activations[i]))
		delta = prevDelta
	}
	return loss
}
