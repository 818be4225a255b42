package dataProcess

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

/*
该文件实现数据集的定义与加载
*/

// Dataset 图像分类数据集，像素已归一化到[0,1]
// Groups 为可选的子群索引（用于公平性审计），长度为0表示数据集不带分组
type Dataset struct {
	Images     [][]float64
	Labels     []int
	Groups     []int
	NumClasses int
}

// Len 样本数
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// HasGroups 数据集是否带有子群索引
func (d *Dataset) HasGroups() bool {
	return len(d.Groups) > 0
}

// InputSize 单个样本的特征维度
func (d *Dataset) InputSize() int {
	if len(d.Images) == 0 {
		return 0
	}
	return len(d.Images[0])
}

// ClassIndices 按标签收集样本索引，索引保持原始顺序
func (d *Dataset) ClassIndices() map[int][]int {
	perClass := make(map[int][]int)
	width := d.InputSize()
	for i, img := range d.Images {
		if len(img) != width {
			return fmt.Errorf("样本 %d 的特征维度 %d 与第一个样本的 %d 不一致", i, len(img), width)
		}
	}
	for i, l := range d.Labels {
		perClass[l] = append(perClass[l], i)
	}
	return perClass
}

// SortedClasses 数据集中出现的标签，升序
func (d *Dataset) SortedClasses() []int {
	perClass := d.ClassIndices()
	classes := make([]int, 0, len(perClass))
	for c := range perClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}

// Validate 检查样本、标签、分组长度一致
func (d *Dataset) Validate() error {
	if len(d.Images) != len(d.Labels) {
		return fmt.Errorf("图像数量(%d)与标签数量(%d)不一致", len(d.Images), len(d.Labels))
	}
	if d.HasGroups() && len(d.Groups) != len(d.Labels) {
		return fmt.Errorf("分组数量(%d)与标签数量(%d)不一致", len(d.Groups), len(d.Labels))
	}
	for i, l := range d.Labels {
		if l < 0 || (d.NumClasses > 0 && l >= d.NumClasses) {
			return fmt.Errorf("样本 %d 的标签 %d 超出范围 [0, %d)", i, l, d.NumClasses)
		}
	}
	return nil
}

func maxLabel(labels []int) int {
	m := -1
	for _, l := range labels {
		if l > m {
			m = l
		}
	}
	return m
}

// LoadImages 从 gzip 压缩的 IDX 文件加载图像，并归一化像素值
func LoadImages(filename string) ([][]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("无法打开图像文件: %v", err)
	}
	defer file.Close()

	// 解压缩文件
	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("无法解压缩文件: %v", err)
	}
	defer reader.Close()

	return readIDXImages(reader)
}

func readIDXImages(reader io.Reader) ([][]float64, error) {
	// 读取 IDX 头信息（魔数、维度等）
	var header [4]int32
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("读取图像文件头失败: %v", err)
	}
	magicNumber, numImages, numRows, numCols := header[0], header[1], header[2], header[3]
	if magicNumber != 2051 {
		return nil, fmt.Errorf("文件格式不正确（魔数不匹配）")
	}

	images := make([][]float64, numImages)
	raw := make([]byte, numRows*numCols)
	for i := 0; i < int(numImages); i++ {
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, fmt.Errorf("读取图像数据失败: %v", err)
		}
		img := make([]float64, len(raw))
		for j, px := range raw {
			img[j] = float64(px) / 255.0
		}
		images[i] = img
	}
	return images, nil
}

// LoadLabels 从 IDX 文件加载标签数据
func LoadLabels(filename string) ([]int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("无法打开标签文件: %v", err)
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("无法解压缩文件: %v", err)
	}
	defer reader.Close()

	return readIDXLabels(reader)
}

func readIDXLabels(reader io.Reader) ([]int, error) {
	// 魔数用于验证文件的格式是否正确
	var magicNumber, numItems int32
	if err := binary.Read(reader, binary.BigEndian, &magicNumber); err != nil {
		return nil, fmt.Errorf("读取魔数失败: %v", err)
	}
	if magicNumber != 2049 {
		return nil, fmt.Errorf("文件格式不正确（魔数不匹配）")
	}
	if err := binary.Read(reader, binary.BigEndian, &numItems); err != nil {
		return nil, fmt.Errorf("读取标签数量失败: %v", err)
	}

	raw := make([]byte, numItems)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return nil, fmt.Errorf("读取标签数据失败: %v", err)
	}
	labels := make([]int, numItems)
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}

// LoadMNIST 从目录加载 MNIST 训练集和测试集
func LoadMNIST(dir string) (*Dataset, *Dataset, error) {
	load := func(images, labels string) (*Dataset, error) {
		imgs, err := LoadImages(filepath.Join(dir, images))
		if err != nil {
			return nil, err
		}
		lbls, err := LoadLabels(filepath.Join(dir, labels))
		if err != nil {
			return nil, err
		}
		ds := &Dataset{Images: imgs, Labels: lbls, NumClasses: 10}
		return ds, ds.Validate()
	}

	train, err := load("train-images-idx3-ubyte.gz", "train-labels-idx1-ubyte.gz")
	if err != nil {
		return nil, nil, fmt.Errorf("加载训练数据失败: %v", err)
	}
	test, err := load("t10k-images-idx3-ubyte.gz", "t10k-labels-idx1-ubyte.gz")
	if err != nil {
		return nil, nil, fmt.Errorf("加载测试数据失败: %v", err)
	}
	return train, test, nil
}
