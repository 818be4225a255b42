package dataProcess

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticSpec 合成高斯团数据集参数
type SyntheticSpec struct {
	Classes       int
	Features      int
	TrainPerClass int
	TestPerClass  int
	Spread        float64 // 类内标准差
	Groups        int     // 子群数量，0 表示不分组
}

// Synthetic 生成训练/测试两份合成数据：每个类别一个高斯中心，样本按中心加噪声得到。
// 同一 seed 生成完全相同的数据。
func Synthetic(spec SyntheticSpec, seed int64) (*Dataset, *Dataset) {
	src := rand.NewPCG(uint64(seed), 0x5eed)
	centerDist := distuv.Uniform{Min: -1, Max: 1, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: spec.Spread, Src: src}

	centers := make([][]float64, spec.Classes)
	for c := range centers {
		centers[c] = make([]float64, spec.Features)
		for j := range centers[c] {
			centers[c][j] = centerDist.Rand()
		}
	}

	build := func(perClass int) *Dataset {
		ds := &Dataset{NumClasses: spec.Classes}
		for c := 0; c < spec.Classes; c++ {
			for k := 0; k < perClass; k++ {
				x := make([]float64, spec.Features)
				for j := range x {
					x[j] = centers[c][j] + noise.Rand()
				}
				ds.Images = append(ds.Images, x)
				ds.Labels = append(ds.Labels, c)
				if spec.Groups > 0 {
					ds.Groups = append(ds.Groups, k%spec.Groups)
				}
			}
		}
		return ds
	}

	return build(spec.TrainPerClass), build(spec.TestPerClass)
}
