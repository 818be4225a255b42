package dataProcess

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Batch 一个批次的(输入, 标签)对；Groups 仅在数据集带分组时非空，
// 是否带分组在构造 Loader 时一次确定
type Batch struct {
	Inputs []*mat.VecDense
	Labels []int
	Groups []int
}

// Size 批次大小
func (b *Batch) Size() int {
	return len(b.Labels)
}

// HasGroups 批次是否携带子群索引
func (b *Batch) HasGroups() bool {
	return b.Groups != nil
}

// LoaderOptions 数据加载选项
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Seed      int64
	Prefetch  int // 预取队列长度，0 表示同步生成
}

// Loader 在数据集的一个索引子集上产生有限、可重启的批次序列
type Loader struct {
	ds         *Dataset
	indices    []int
	opts       LoaderOptions
	pass       uint64
	withGroups bool
}

// NewLoader 基于索引子集创建Loader，indices 为 nil 时使用全部样本
func NewLoader(ds *Dataset, indices []int, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size=%d 必须为正数", opts.BatchSize)
	}
	if opts.Prefetch < 0 {
		return nil, fmt.Errorf("prefetch=%d 不能为负数", opts.Prefetch)
	}
	if indices == nil {
		indices = make([]int, ds.Len())
		for i := range indices {
			indices[i] = i
		}
	}
	for _, idx := range indices {
		if idx < 0 || idx >= ds.Len() {
			return nil, fmt.Errorf("样本索引 %d 超出数据集范围 [0, %d)", idx, ds.Len())
		}
	}
	own := make([]int, len(indices))
	copy(own, indices)
	return &Loader{ds: ds, indices: own, opts: opts, withGroups: ds.HasGroups()}, nil
}

// Dataset 底层数据集
func (l *Loader) Dataset() *Dataset {
	return l.ds
}

// Indices 该Loader覆盖的样本索引（副本）
func (l *Loader) Indices() []int {
	out := make([]int, len(l.indices))
	copy(out, l.indices)
	return out
}

// NumSamples 每轮实际产出的样本数
func (l *Loader) NumSamples() int {
	if l.opts.DropLast {
		return l.Len() * l.opts.BatchSize
	}
	return len(l.indices)
}

// BatchSize 批次大小
func (l *Loader) BatchSize() int {
	return l.opts.BatchSize
}

// Len 每轮批次数
func (l *Loader) Len() int {
	n := len(l.indices)
	if l.opts.DropLast {
		return n / l.opts.BatchSize
	}
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// order 本轮的样本顺序；打乱时使用 (seed, 轮次) 派生的随机流，保证可复现
func (l *Loader) order() []int {
	ord := make([]int, len(l.indices))
	copy(ord, l.indices)
	if l.opts.Shuffle {
		r := rand.New(rand.NewPCG(uint64(l.opts.Seed), l.pass))
		r.Shuffle(len(ord), func(i, j int) { ord[i], ord[j] = ord[j], ord[i] })
	}
	l.pass++
	return ord
}

func (l *Loader) makeBatch(ids []int) *Batch {
	b := &Batch{
		Inputs: make([]*mat.VecDense, len(ids)),
		Labels: make([]int, len(ids)),
	}
	if l.withGroups {
		b.Groups = make([]int, len(ids))
	}
	for i, idx := range ids {
		img := l.ds.Images[idx]
		b.Inputs[i] = mat.NewVecDense(len(img), img)
		b.Labels[i] = l.ds.Labels[idx]
		if l.withGroups {
			b.Groups[i] = l.ds.Groups[idx]
		}
	}
	return b
}

func (l *Loader) batches(ord []int) [][]int {
	bs := l.opts.BatchSize
	var out [][]int
	for i := 0; i < len(ord); i += bs {
		end := i + bs
		if end > len(ord) {
			if l.opts.DropLast {
				break
			}
			end = len(ord)
		}
		out = append(out, ord[i:end])
	}
	return out
}

// Iterate 遍历一轮数据，按顺序对每个批次调用 fn；fn 返回错误或 ctx 取消时提前结束。
// 开启预取时由一个后台协程填充有界队列，批次顺序与同步模式一致。
func (l *Loader) Iterate(ctx context.Context, fn func(step int, b *Batch) error) error {
	groups := l.batches(l.order())

	if l.opts.Prefetch == 0 {
		for i, ids := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i, l.makeBatch(ids)); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan *Batch, l.opts.Prefetch)
	go func() {
		defer close(queue)
		for _, ids := range groups {
			select {
			case queue <- l.makeBatch(ids):
			case <-ctx.Done():
				return
			}
		}
	}()

	step := 0
	for b := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(step, b); err != nil {
			return err
		}
		step++
	}
	return ctx.Err()
}
