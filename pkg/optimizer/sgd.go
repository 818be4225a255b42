package optimizer

import (
	"gonum.org/v1/gonum/mat"

	"PPDLDev/pkg/config"
	"PPDLDev/pkg/network"
)

// Optimizer 用参数当前的梯度更新参数
type Optimizer interface {
	Step(params []*network.Parameter)
	LR() float64
	SetLR(lr float64)
}

// SGD 带动量和权重衰减的随机梯度下降
// v = momentum*v + (g + decay*w)，w = w - lr*v
type SGD struct {
	lr       float64
	Momentum float64
	Decay    float64

	velocity map[string]*mat.Dense
}

func NewSGD(lr, momentum, decay float64) *SGD {
	return &SGD{lr: lr, Momentum: momentum, Decay: decay, velocity: make(map[string]*mat.Dense)}
}

// New 按名称创建优化器，未知名称返回 ConfigError
func New(name string, lr, momentum, decay float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(lr, momentum, decay), nil
	default:
		return nil, config.NewConfigError("optimizer", name, "不支持的优化器")
	}
}

func (o *SGD) LR() float64      { return o.lr }
func (o *SGD) SetLR(lr float64) { o.lr = lr }

// Step 没有梯度的参数不更新
func (o *SGD) Step(params []*network.Parameter) {
	for _, p := range params {
		if p.Grad == nil || p.Frozen {
			continue
		}
		var d mat.Dense
		d.CloneFrom(p.Grad)
		if o.Decay != 0 {
			d.Apply(func(i, j int, v float64) float64 { return v + o.Decay*p.Value.At(i, j) }, &d)
		}
		if o.Momentum != 0 {
			v, ok := o.velocity[p.Name]
			if !ok {
				v = mat.DenseCopyOf(&d)
				o.velocity[p.Name] = v
			} else {
				v.Scale(o.Momentum, v)
				v.Add(v, &d)
			}
			d.CloneFrom(v)
		}
		d.Scale(o.lr, &d)
		p.Value.Sub(p.Value, &d)
	}
}
