package training

import (
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"PPDLDev/pkg/config"
	"PPDLDev/pkg/dataProcess"
	"PPDLDev/pkg/network"
	"PPDLDev/pkg/optimizer"
)

/*
该文件包含单个训练步：带微批裁剪和高斯噪声的DP-SGD步，以及普通的SGD步
*/

// DPConfig 差分隐私SGD步的参数
type DPConfig struct {
	S            float64 // L2范数裁剪阈值
	Z            float64 // 噪声乘数
	Microbatches int
	Noise        network.NoiseSource
}

// Sigma 噪声标准差
func (c DPConfig) Sigma() float64 {
	return c.Z * c.S
}

// StepResult 一个训练步的结果
type StepResult struct {
	Loss      float64   // 批次平均损失
	ClipNorms []float64 // 每个微批裁剪前的全局范数
}

// NormRecord 按 "<class>" 或 "<class>/<group>" 记录的裁剪前范数，每轮重建
type NormRecord map[string][]float64

// NormKey 微批第一个样本对应的记录键
func NormKey(b *dataProcess.Batch, i int) string {
	if b.HasGroups() {
		return fmt.Sprintf("%d/%d", b.Labels[i], b.Groups[i])
	}
	return strconv.Itoa(b.Labels[i])
}

func (n NormRecord) Add(key string, norm float64) {
	n[key] = append(n[key], norm)
}

// ClassMeans 每个类别的平均范数，分组键合并到所属类别
func (n NormRecord) ClassMeans() map[int]float64 {
	sums := make(map[int][]float64)
	for key, vals := range n {
		var class int
		if _, err := fmt.Sscanf(key, "%d", &class); err != nil {
			continue
		}
		sums[class] = append(sums[class], vals...)
	}
	out := make(map[int]float64, len(sums))
	for c, vals := range sums {
		out[c] = floats.Sum(vals) / float64(len(vals))
	}
	return out
}

// checkDPBatch 在修改任何状态之前校验批次与配置
func checkDPBatch(b *dataProcess.Batch, cfg DPConfig) error {
	if cfg.Microbatches <= 0 {
		return config.NewConfigError("num_microbatches", cfg.Microbatches, "必须为正数")
	}
	if b.Size() == 0 {
		return fmt.Errorf("空批次")
	}
	if b.Size()%cfg.Microbatches != 0 {
		return config.NewConfigError("num_microbatches", cfg.Microbatches,
			fmt.Sprintf("批次大小 %d 不能被 num_microbatches=%d 整除", b.Size(), cfg.Microbatches))
	}
	if cfg.S <= 0 {
		return config.NewConfigError("S", cfg.S, "裁剪阈值必须为正数")
	}
	if cfg.Z < 0 {
		return config.NewConfigError("z", cfg.Z, "噪声乘数不能为负数")
	}
	if cfg.Z > 0 && cfg.Noise == nil {
		return config.NewConfigError("noise", nil, "z>0 时需要噪声源")
	}
	return nil
}

// DPStep 执行一个DP-SGD训练步：
// 批次被切分为 Microbatches 个连续的微批，每个微批的平均损失单独反向传播，
// 全局L2范数超过 S 时缩放到 S 后累加；对收到过梯度的参数加 N(0, (zS)²) 噪声，
// 再除以微批数作为最终梯度（从未收到梯度的参数得到零梯度），最后执行一次优化器更新。
// norms 非 nil 时记录每个微批裁剪前的范数。
func DPStep(b *dataProcess.Batch, m network.Model, opt optimizer.Optimizer, cfg DPConfig, norms NormRecord) (StepResult, error) {
	if err := checkDPBatch(b, cfg); err != nil {
		return StepResult{}, err
	}
	params := m.Parameters()
	acc := network.NewGradients(params)
	touched := make(map[string]bool, len(params))
	size := b.Size() / cfg.Microbatches
	res := StepResult{ClipNorms: make([]float64, 0, cfg.Microbatches)}

	m.ZeroGrad()
	totalLoss := 0.0
	for k := 0; k < cfg.Microbatches; k++ {
		start := k * size
		for i := start; i < start+size; i++ {
			totalLoss += m.Backward(b.Inputs[i], b.Labels[i], 1/float64(size))
		}
		norm := network.ClipGradientByL2Norm(params, cfg.S)
		res.ClipNorms = append(res.ClipNorms, norm)
		if norms != nil {
			norms.Add(NormKey(b, start), norm)
		}
		acc.Add(params, touched)
		m.ZeroGrad()
	}

	sigma := cfg.Sigma()
	scale := 1 / float64(cfg.Microbatches)
	for _, p := range params {
		if p.Frozen {
			continue
		}
		g := acc[p.Name]
		if touched[p.Name] {
			network.AddGaussianNoise(g, sigma, cfg.Noise)
		}
		g.Scale(scale, g)
		p.Grad = g
	}
	opt.Step(params)
	m.ZeroGrad()

	res.Loss = totalLoss / float64(b.Size())
	return res, nil
}

// StandardStep 普通SGD步：批次平均损失的梯度，无裁剪无噪声
func StandardStep(b *dataProcess.Batch, m network.Model, opt optimizer.Optimizer) (float64, error) {
	if b.Size() == 0 {
		return 0, fmt.Errorf("空批次")
	}
	m.ZeroGrad()
	totalLoss := 0.0
	scale := 1 / float64(b.Size())
	for i, x := range b.Inputs {
		totalLoss += m.Backward(x, b.Labels[i], scale)
	}
	opt.Step(m.Parameters())
	m.ZeroGrad()
	return totalLoss / float64(b.Size()), nil
}
