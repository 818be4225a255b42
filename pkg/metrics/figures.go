package metrics

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// matrixGrid 把混淆矩阵适配为 plotter.GridXYZ，行（真实类别）对应 Y，列（预测类别）对应 X
type matrixGrid struct {
	m *mat.Dense
}

func (g matrixGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g matrixGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g matrixGrid) X(c int) float64    { return float64(c) }
func (g matrixGrid) Y(r int) float64    { return float64(r) }

// SaveConfusionMatrix 把混淆矩阵保存为热力图
func SaveConfusionMatrix(cm *mat.Dense, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	r, c := cm.Dims()
	if r == 0 || c == 0 {
		return fmt.Errorf("混淆矩阵为空")
	}
	hm := plotter.NewHeatMap(matrixGrid{m: cm}, palette.Heat(12, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)
	p.NominalX(classLabels(c)...)
	p.NominalY(classLabels(r)...)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("保存混淆矩阵图失败: %v", err)
	}
	return nil
}

// SaveClassAccuracy 每个类别准确率的柱状图，未定义的类别画为 0
func SaveClassAccuracy(perClass []float64, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Class"
	p.Y.Label.Text = "Accuracy (%)"

	vals := make(plotter.Values, len(perClass))
	for i, v := range perClass {
		if !math.IsNaN(v) {
			vals[i] = v
		}
	}
	bars, err := plotter.NewBarChart(vals, vg.Points(20))
	if err != nil {
		return fmt.Errorf("创建柱状图失败 %v: %v", vals, err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(classLabels(len(perClass))...)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("保存柱状图失败: %v", err)
	}
	return nil
}

func classLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}
	return labels
}
