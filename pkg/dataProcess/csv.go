package dataProcess

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LoadImagesCSV 载入CSV格式的图像数据，每行一个样本，像素取值 0-255
func LoadImagesCSV(path string) ([][]float64, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	images := make([][]float64, len(records))
	for i, record := range records {
		images[i] = make([]float64, len(record))
		for j, val := range record {
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("%s 第 %d 行第 %d 列: %v", path, i+1, j+1, err)
			}
			images[i][j] = v / 255.0
		}
	}
	return images, nil
}

// LoadIntsCSV 载入每行第一列为整数的CSV（标签或分组）
func LoadIntsCSV(path string) ([]int, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	values := make([]int, len(records))
	for i, record := range records {
		values[i], err = strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("%s 第 %d 行: %v", path, i+1, err)
		}
	}
	return values, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

// LoadCSVSplit 载入 <dir>/<split>_images.csv、<split>_labels.csv，
// 若存在 <split>_groups.csv 则一并载入为子群索引
func LoadCSVSplit(dir, split string) (*Dataset, error) {
	imagesPath := filepath.Join(dir, split+"_images.csv")
	labelsPath := filepath.Join(dir, split+"_labels.csv")
	groupsPath := filepath.Join(dir, split+"_groups.csv")

	if _, err := os.Stat(imagesPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("图像文件不存在: %s", imagesPath)
	}
	if _, err := os.Stat(labelsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("标签文件不存在: %s", labelsPath)
	}

	images, err := LoadImagesCSV(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("载入图像数据失败: %v", err)
	}
	labels, err := LoadIntsCSV(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("载入标签数据失败: %v", err)
	}
	ds := &Dataset{Images: images, Labels: labels, NumClasses: maxLabel(labels) + 1}

	if _, err := os.Stat(groupsPath); err == nil {
		groups, err := LoadIntsCSV(groupsPath)
		if err != nil {
			return nil, fmt.Errorf("载入分组数据失败: %v", err)
		}
		ds.Groups = groups
	}
	return ds, ds.Validate()
}

// LoadCSV 载入 train/test 两个CSV分片，类别数取两者最大值
func LoadCSV(dir string) (*Dataset, *Dataset, error) {
	train, err := LoadCSVSplit(dir, "train")
	if err != nil {
		return nil, nil, fmt.Errorf("加载训练数据失败: %v", err)
	}
	test, err := LoadCSVSplit(dir, "test")
	if err != nil {
		return nil, nil, fmt.Errorf("加载测试数据失败: %v", err)
	}
	n := train.NumClasses
	if test.NumClasses > n {
		n = test.NumClasses
	}
	train.NumClasses, test.NumClasses = n, n
	return train, test, nil
}
