package network

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"

	"PPDLDev/pkg/config"
)

/*
该文件包含模型接口、具名参数以及整个神经网络的初始化方法
*/

// Model 训练和评估所需的模型能力
type Model interface {
	// Forward 返回未归一化的logits
	Forward(x *mat.VecDense) *mat.VecDense
	// Parameters 按固定顺序返回具名参数
	Parameters() []*Parameter
	// ZeroGrad 将所有梯度置为 nil
	ZeroGrad()
	// Backward 把 scale*∂loss/∂θ 累加到可训练参数的梯度上，返回该样本的交叉熵损失
	Backward(x *mat.VecDense, label int, scale float64) float64
	NumClasses() int
}

// Parameter 具名张量及其梯度；Grad 为 nil 表示本步没有梯度
type Parameter struct {
	Name   string
	Value  *mat.Dense
	Grad   *mat.Dense
	Frozen bool
}

// Size 参数元素个数
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// accumulate Grad += scale*g，冻结参数不接收梯度
func (p *Parameter) accumulate(g mat.Matrix, scale float64) {
	if p.Frozen {
		return
	}
	if p.Grad == nil {
		r, c := p.Value.Dims()
		p.Grad = mat.NewDense(r, c, nil)
	}
	var tmp mat.Dense
	tmp.Scale(scale, g)
	p.Grad.Add(p.Grad, &tmp)
}

func (p *Parameter) clone() *Parameter {
	return &Parameter{Name: p.Name, Value: mat.DenseCopyOf(p.Value), Frozen: p.Frozen}
}

type NeuronNetwork struct {
	Layers []*Layer
}

// NewNeuronNetwork 按层大小构造网络，隐藏层使用 hiddenAct，输出层为线性（输出logits）
func NewNeuronNetwork(layerSize []int, hiddenAct ActivationKind, seed int64) *NeuronNetwork {
	rng := rand.New(rand.NewPCG(uint64(seed), 0x1a7e))
	layers := make([]*Layer, len(layerSize)-1)
	for i := range layers {
		act := hiddenAct
		if i == len(layers)-1 {
			act = ActivationIdentity
		}
		layers[i] = NewLayer(i, layerSize[i], layerSize[i+1], act, rng)
	}
	return &NeuronNetwork{Layers: layers}
}

// New 模型工厂：linear 为无激活的多层线性网络，simple 为单隐藏层ReLU，mlp 为多隐藏层ReLU
func New(kind string, inputSize, numClasses int, hidden []int, seed int64) (*NeuronNetwork, error) {
	if inputSize <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("模型维度无效: input=%d classes=%d", inputSize, numClasses)
	}
	sizes := []int{inputSize}
	switch strings.ToLower(kind) {
	case "linear":
		sizes = append(sizes, hidden...)
		return NewNeuronNetwork(append(sizes, numClasses), ActivationIdentity, seed), nil
	case "simple":
		if len(hidden) == 0 {
			return nil, config.NewConfigError("hidden", hidden, "simple 模型需要一个隐藏层")
		}
		sizes = append(sizes, hidden[0], numClasses)
		return NewNeuronNetwork(sizes, ActivationReLU, seed), nil
	case "mlp":
		if len(hidden) == 0 {
			return nil, config.NewConfigError("hidden", hidden, "mlp 模型至少需要一个隐藏层")
		}
		sizes = append(sizes, hidden...)
		return NewNeuronNetwork(append(sizes, numClasses), ActivationReLU, seed), nil
	default:
		return nil, config.NewConfigError("model", kind, "不支持的模型")
	}
}

// SetHiddenActivation 替换所有隐藏层的激活函数，输出层保持线性
func (nn *NeuronNetwork) SetHiddenActivation(act ActivationKind) {
	for _, l := range nn.Layers[:len(nn.Layers)-1] {
		l.Activation = act
		l.activate, l.derive = activationFuncs(act)
	}
}

// Parameters 按层顺序返回 weight、bias
func (nn *NeuronNetwork) Parameters() []*Parameter {
	params := make([]*Parameter, 0, 2*len(nn.Layers))
	for _, l := range nn.Layers {
		params = append(params, l.Weights, l.Biases)
	}
	return params
}

func (nn *NeuronNetwork) ZeroGrad() {
	for _, p := range nn.Parameters() {
		p.Grad = nil
	}
}

func (nn *NeuronNetwork) NumClasses() int {
	return nn.Layers[len(nn.Layers)-1].OutputSize
}

func (nn *NeuronNetwork) InputSize() int {
	return nn.Layers[0].InputSize
}

// Freeze 冻结指定名称的参数，返回未找到的名称
func (nn *NeuronNetwork) Freeze(names ...string) []string {
	byName := make(map[string]*Parameter)
	for _, p := range nn.Parameters() {
		byName[p.Name] = p
	}
	var missing []string
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		p.Frozen = true
		p.Grad = nil
	}
	return missing
}

// Clone 深拷贝参数值，不拷贝梯度
func (nn *NeuronNetwork) Clone() *NeuronNetwork {
	layers := make([]*Layer, len(nn.Layers))
	for i, l := range nn.Layers {
		layers[i] = l.clone()
	}
	return &NeuronNetwork{Layers: layers}
}

// NumParams 参数总数
func (nn *NeuronNetwork) NumParams() int {
	n := 0
	for _, p := range nn.Parameters() {
		n += p.Size()
	}
	return n
}

func (nn *NeuronNetwork) String() string {
	var b strings.Builder
	for i, l := range nn.Layers {
		fmt.Fprintf(&b, "layer%d: %d -> %d (%s)\n", i, l.InputSize, l.OutputSize, l.Activation)
	}
	return b.String()
}
