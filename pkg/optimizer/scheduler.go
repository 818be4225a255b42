package optimizer

import "sort"

// MultiStepLR 每经过一个里程碑 epoch，学习率乘以 Gamma
type MultiStepLR struct {
	opt        Optimizer
	baseLR     float64
	Milestones []int
	Gamma      float64
}

func NewMultiStepLR(opt Optimizer, milestones []int, gamma float64) *MultiStepLR {
	ms := append([]int(nil), milestones...)
	sort.Ints(ms)
	return &MultiStepLR{opt: opt, baseLR: opt.LR(), Milestones: ms, Gamma: gamma}
}

// DefaultMilestones 训练总轮数的 50% 与 75%
func DefaultMilestones(epochs int) []int {
	return []int{int(0.5 * float64(epochs)), int(0.75 * float64(epochs))}
}

// Step 在第 epoch 轮结束后调用，设置下一轮的学习率
func (s *MultiStepLR) Step(epoch int) float64 {
	passed := 0
	for _, m := range s.Milestones {
		if epoch >= m {
			passed++
		}
	}
	lr := s.baseLR
	for i := 0; i < passed; i++ {
		lr *= s.Gamma
	}
	s.opt.SetLR(lr)
	return lr
}
