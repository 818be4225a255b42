package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"PPDLDev/pkg/dataProcess"
)

/*
该文件构造各类数据划分：按类别的评估划分、指数倾斜的训练子集和测试子集。
所有随机性来自 seed 派生的 PCG 流，同一配置多次调用得到相同的样本集合。
*/

// Partitions 类别标签到独立Loader的映射
type Partitions map[int]*dataProcess.Loader

// SkewConfig 指数倾斜训练子集的配置
type SkewConfig struct {
	Mu          float64     // 衰减参数，类别 c 的权重为 exp(-Mu*c)
	TotalCount  int         // 子集总样本数上限
	Excluded    *int        // 被整体剔除的类别，nil 表示不剔除
	TargetSizes map[int]int // 可选的每类上限
	BatchSize   int
	Seed        int64
	Prefetch    int
	DropLast    bool
}

// PerClassPartitions 为每个出现的类别建立一个只包含该类样本的Loader
func PerClassPartitions(ds *dataProcess.Dataset, batchSize int, prefetch int) (Partitions, error) {
	parts := make(Partitions)
	for c, idx := range ds.ClassIndices() {
		l, err := dataProcess.NewLoader(ds, idx, dataProcess.LoaderOptions{BatchSize: batchSize, Prefetch: prefetch})
		if err != nil {
			return nil, fmt.Errorf("类别 %d 的划分创建失败: %v", c, err)
		}
		parts[c] = l
	}
	return parts, nil
}

// Classes 划分中的类别，升序
func (p Partitions) Classes() []int {
	out := make([]int, 0, len(p))
	for c := range p {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// ExponentialSkewCounts 计算每个类别的抽样数量。
// 权重 exp(-mu*c) 归一化到 total 后向下取整，再按小数部分从大到小（同值取较小类别）
// 逐个补足余数；每类不超过可用样本数和 targetSizes 上限，总和不超过 total，被剔除类别为 0。
func ExponentialSkewCounts(available map[int]int, mu float64, total int, excluded *int, targetSizes map[int]int) map[int]int {
	classes := make([]int, 0, len(available))
	for c := range available {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	capOf := func(c int) int {
		cp := available[c]
		if t, ok := targetSizes[c]; ok && t < cp {
			cp = t
		}
		if cp < 0 {
			cp = 0
		}
		return cp
	}

	counts := make(map[int]int, len(classes))
	weights := make(map[int]float64, len(classes))
	sum := 0.0
	for _, c := range classes {
		counts[c] = 0
		if excluded != nil && c == *excluded {
			continue
		}
		w := math.Exp(-mu * float64(c))
		weights[c] = w
		sum += w
	}
	if sum == 0 || total <= 0 || !finite(sum) {
		return counts
	}

	type frac struct {
		class int
		rem   float64
	}
	var fracs []frac
	assigned := 0
	for _, c := range classes {
		w, ok := weights[c]
		if !ok {
			continue
		}
		exact := float64(total) * w / sum
		n := int(math.Floor(exact))
		if n > capOf(c) {
			n = capOf(c)
		}
		if n < 0 {
			n = 0
		}
		counts[c] = n
		assigned += n
		fracs = append(fracs, frac{class: c, rem: exact - math.Floor(exact)})
	}

	sort.SliceStable(fracs, func(i, j int) bool {
		if fracs[i].rem != fracs[j].rem {
			return fracs[i].rem > fracs[j].rem
		}
		return fracs[i].class < fracs[j].class
	})
	for _, f := range fracs {
		if assigned >= total {
			break
		}
		if f.rem > 0 && counts[f.class] < capOf(f.class) {
			counts[f.class]++
			assigned++
		}
	}
	return counts
}

// pick 从每个类别的索引中按 seed 打乱后取前 counts[c] 个，结果按类别升序拼接
func pick(perClass map[int][]int, counts map[int]int, seed int64) []int {
	classes := make([]int, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	var out []int
	for _, c := range classes {
		idx := append([]int(nil), perClass[c]...)
		r := rand.New(rand.NewPCG(uint64(seed), uint64(c)))
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		out = append(out, idx[:counts[c]]...)
	}
	return out
}

func availability(perClass map[int][]int) map[int]int {
	avail := make(map[int]int, len(perClass))
	for c, idx := range perClass {
		avail[c] = len(idx)
	}
	return avail
}

// ExponentialSkewPartition 构造指数倾斜的训练子集，返回Loader及每类实际数量
func ExponentialSkewPartition(ds *dataProcess.Dataset, cfg SkewConfig) (*dataProcess.Loader, map[int]int, error) {
	if cfg.TotalCount <= 0 {
		return nil, nil, fmt.Errorf("ds_size=%d 必须为正数", cfg.TotalCount)
	}
	if cfg.Mu < 0 || !finite(cfg.Mu) {
		return nil, nil, fmt.Errorf("mu=%v 必须为非负有限值", cfg.Mu)
	}
	perClass := ds.ClassIndices()
	counts := ExponentialSkewCounts(availability(perClass), cfg.Mu, cfg.TotalCount, cfg.Excluded, cfg.TargetSizes)
	indices := pick(perClass, counts, cfg.Seed)
	if len(indices) == 0 {
		return nil, nil, fmt.Errorf("倾斜划分为空 (mu=%v, ds_size=%d)", cfg.Mu, cfg.TotalCount)
	}

	l, err := dataProcess.NewLoader(ds, indices, dataProcess.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		DropLast:  cfg.DropLast,
		Seed:      cfg.Seed,
		Prefetch:  cfg.Prefetch,
	})
	if err != nil {
		return nil, nil, err
	}
	return l, counts, nil
}

// HeldOutSkewCounts 测试集倾斜数量：类别 c 取 floor(largest*exp(-mu*c))，不超过可用数量
func HeldOutSkewCounts(available map[int]int, mu float64, largest int) map[int]int {
	counts := make(map[int]int, len(available))
	for c, n := range available {
		k := int(math.Floor(float64(largest) * math.Exp(-mu*float64(c))))
		if k > n {
			k = n
		}
		if k < 0 {
			k = 0
		}
		counts[c] = k
	}
	return counts
}

// ExponentialSkewTestPartition 在独立的测试集上按同一衰减规律构造非均衡评估子集。
// 不剔除任何类别，只从测试集抽样。
func ExponentialSkewTestPartition(testDs *dataProcess.Dataset, mu float64, largest int, batchSize int, seed int64) (*dataProcess.Loader, map[int]int, error) {
	if largest <= 0 {
		return nil, nil, fmt.Errorf("number_of_entries_test=%d 必须为正数", largest)
	}
	if mu < 0 || !finite(mu) {
		return nil, nil, fmt.Errorf("mu=%v 必须为非负有限值", mu)
	}
	perClass := testDs.ClassIndices()
	counts := HeldOutSkewCounts(availability(perClass), mu, largest)
	indices := pick(perClass, counts, seed)
	if len(indices) == 0 {
		return nil, nil, fmt.Errorf("测试倾斜划分为空 (mu=%v)", mu)
	}
	l, err := dataProcess.NewLoader(testDs, indices, dataProcess.LoaderOptions{BatchSize: batchSize})
	if err != nil {
		return nil, nil, err
	}
	return l, counts, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Sum 数量总和
func Sum(counts map[int]int) int {
	s := 0
	for _, n := range counts {
		s += n
	}
	return s
}
