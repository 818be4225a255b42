package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"PPDLDev/pkg/dataProcess"
	"PPDLDev/pkg/network"
)

/*
该文件实现模型评估：混淆矩阵、总体准确率、每类及每个(类别,分组)的准确率，
以及各类准确率之间的差异统计。准确率均为百分比。
*/

// Disparity 已定义类别准确率的总体方差、最小值和最大值
type Disparity struct {
	Variance float64
	Min      float64
	Max      float64
	Classes  int
}

// Report 一次评估的结果
type Report struct {
	Confusion *mat.Dense // 行为真实类别，列为预测类别
	Total     int
	Correct   int
	Accuracy  float64
	PerClass  []float64 // 没有样本的类别为 NaN
	Defined   []bool
	Disparity Disparity
	// Groups 以 "<class>/<group>" 为键，仅当批次带有分组时填充
	Groups map[string]float64
}

type groupCount struct {
	correct, total int
}

// Evaluate 只做推理，遍历一轮 loader 并生成报告
func Evaluate(ctx context.Context, m network.Model, loader *dataProcess.Loader, numClasses int) (*Report, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("类别数 %d 必须为正数", numClasses)
	}
	cm := mat.NewDense(numClasses, numClasses, nil)
	groups := make(map[string]*groupCount)

	err := loader.Iterate(ctx, func(_ int, b *dataProcess.Batch) error {
		for i, x := range b.Inputs {
			y := b.Labels[i]
			if y < 0 || y >= numClasses {
				return fmt.Errorf("标签 %d 超出范围 [0, %d)", y, numClasses)
			}
			pred := network.Predict(m, x)
			if pred >= numClasses {
				return fmt.Errorf("预测类别 %d 超出范围 [0, %d)", pred, numClasses)
			}
			cm.Set(y, pred, cm.At(y, pred)+1)
			if b.HasGroups() {
				key := fmt.Sprintf("%d/%d", y, b.Groups[i])
				g, ok := groups[key]
				if !ok {
					g = &groupCount{}
					groups[key] = g
				}
				g.total++
				if pred == y {
					g.correct++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("评估失败: %v", err)
	}

	r := FromConfusion(cm)
	if len(groups) > 0 {
		r.Groups = make(map[string]float64, len(groups))
		for k, g := range groups {
			r.Groups[k] = 100 * float64(g.correct) / float64(g.total)
		}
	}
	return r, nil
}

// EvaluateGroups 与 Evaluate 相同，但要求数据集带有分组
func EvaluateGroups(ctx context.Context, m network.Model, loader *dataProcess.Loader, numClasses int) (*Report, error) {
	if !loader.Dataset().HasGroups() {
		return nil, fmt.Errorf("数据集没有分组信息")
	}
	return Evaluate(ctx, m, loader, numClasses)
}

// FromConfusion 由混淆矩阵计算各项准确率
func FromConfusion(cm *mat.Dense) *Report {
	n, _ := cm.Dims()
	r := &Report{
		Confusion: cm,
		PerClass:  make([]float64, n),
		Defined:   make([]bool, n),
	}
	for c := 0; c < n; c++ {
		row := mat.Sum(cm.RowView(c))
		diag := cm.At(c, c)
		r.Total += int(row)
		r.Correct += int(diag)
		if row == 0 {
			r.PerClass[c] = math.NaN()
			continue
		}
		r.PerClass[c] = 100 * diag / row
		r.Defined[c] = true
	}
	if r.Total > 0 {
		r.Accuracy = 100 * float64(r.Correct) / float64(r.Total)
	}
	r.Disparity = ComputeDisparity(r.PerClass)
	return r
}

// ComputeDisparity 忽略 NaN 项；没有已定义项时各值为 NaN
func ComputeDisparity(acc []float64) Disparity {
	var vals []float64
	for _, v := range acc {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return Disparity{Variance: math.NaN(), Min: math.NaN(), Max: math.NaN()}
	}
	return Disparity{
		Variance: stat.PopVariance(vals, nil),
		Min:      floats.Min(vals),
		Max:      floats.Max(vals),
		Classes:  len(vals),
	}
}

// ClassResult 单个类别划分上的结果
type ClassResult struct {
	Accuracy float64
	Count    int
	Defined  bool
}

// EvaluatePartitions 在每个单类别的 loader 上评估；空划分返回未定义项而不是错误
func EvaluatePartitions(ctx context.Context, m network.Model, parts map[int]*dataProcess.Loader) (map[int]ClassResult, error) {
	classes := make([]int, 0, len(parts))
	for c := range parts {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	out := make(map[int]ClassResult, len(parts))
	for _, c := range classes {
		loader := parts[c]
		res := ClassResult{Accuracy: math.NaN()}
		if loader == nil || loader.NumSamples() == 0 {
			out[c] = res
			continue
		}
		correct := 0
		err := loader.Iterate(ctx, func(_ int, b *dataProcess.Batch) error {
			for i, x := range b.Inputs {
				if network.Predict(m, x) == b.Labels[i] {
					correct++
				}
				res.Count++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("类别 %d 评估失败: %v", c, err)
		}
		if res.Count > 0 {
			res.Accuracy = 100 * float64(correct) / float64(res.Count)
			res.Defined = true
		}
		out[c] = res
	}
	return out, nil
}
