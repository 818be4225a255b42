package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

/*
该文件包含训练参数的定义、默认值、YAML加载与启动时校验
*/

// SyntheticConfig 合成数据集参数（dataset: synthetic）
type SyntheticConfig struct {
	Classes       int     `yaml:"classes"`
	Features      int     `yaml:"features"`
	TrainPerClass int     `yaml:"train_per_class"`
	TestPerClass  int     `yaml:"test_per_class"`
	Spread        float64 `yaml:"spread"`
	Groups        int     `yaml:"groups"`
}

// Params 一次训练运行的全部配置，启动后只读
type Params struct {
	BatchSize       int     `yaml:"batch_size"`
	TestBatchSize   int     `yaml:"test_batch_size"`
	NumMicrobatches int     `yaml:"num_microbatches"`
	LR              float64 `yaml:"lr"`
	Momentum        float64 `yaml:"momentum"`
	Decay           float64 `yaml:"decay"`
	Epochs          int     `yaml:"epochs"`
	S               float64 `yaml:"S"` // 裁剪阈值
	Z               float64 `yaml:"z"` // 噪声乘数，sigma = z*S
	DP              bool    `yaml:"dp"`
	Mu              float64 `yaml:"mu"` // 指数倾斜参数
	Dataset         string  `yaml:"dataset"`
	Model           string  `yaml:"model"`
	Optimizer       string  `yaml:"optimizer"`
	Scheduler       bool    `yaml:"scheduler"`

	DSSize               int      `yaml:"ds_size"`
	KeyToDrop            *int     `yaml:"key_to_drop"`
	NumberOfEntries      int      `yaml:"number_of_entries"`
	NumberOfEntriesTest  int      `yaml:"number_of_entries_test"`
	Delta                float64  `yaml:"delta"`
	Seed                 int64    `yaml:"seed"`
	Hidden               []int    `yaml:"hidden"`
	HiddenActivation     string   `yaml:"hidden_activation"` // 为空时按模型默认
	Frozen               []string `yaml:"frozen"`
	Device               string   `yaml:"device"`
	Noise                string   `yaml:"noise"`
	DataDir              string   `yaml:"data_dir"`
	SaveDir              string   `yaml:"save_dir"`
	LogInterval          int      `yaml:"log_interval"`
	Prefetch             int      `yaml:"prefetch"`
	SaveConfusionFigures bool     `yaml:"save_confusion_figures"`
	RunID                string   `yaml:"run_id"` // 为空时由运行开始时生成

	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// 可识别的取值
var (
	KnownDatasets   = []string{"mnist", "csv", "synthetic"}
	KnownModels     = []string{"linear", "simple", "mlp"}
	KnownOptimizers = []string{"sgd"}
	KnownDevices    = []string{"cpu", "avx2", "avx512"}
	KnownNoise      = []string{"seeded", "secure"}
	KnownHiddenActs = []string{"", "relu", "sigmoid"}
)

// Default 返回一份默认配置
func Default() *Params {
	return &Params{
		BatchSize:       64,
		TestBatchSize:   256,
		NumMicrobatches: 64,
		LR:              0.1,
		Momentum:        0.5,
		Decay:           0,
		Epochs:          10,
		S:               1.0,
		Z:               1.0,
		DP:              true,
		Mu:              0,
		Dataset:         "synthetic",
		Model:           "simple",
		Optimizer:       "sgd",
		Delta:           1e-5,
		Seed:            42,
		Hidden:          []int{64},
		Device:          "cpu",
		Noise:           "seeded",
		SaveDir:         "saved_models",
		LogInterval:     20,
		Prefetch:        2,
		Synthetic: SyntheticConfig{
			Classes:       10,
			Features:      20,
			TrainPerClass: 500,
			TestPerClass:  100,
			Spread:        1.0,
		},
	}
}

// Load 读取YAML参数文件，未出现的键保留默认值
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取参数文件 %s: %v", path, err)
	}
	return Parse(data)
}

// Parse 解析YAML内容并校验
func Parse(data []byte) (*Params, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("解析参数文件失败: %v", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Params) normalize() {
	p.Dataset = strings.ToLower(strings.TrimSpace(p.Dataset))
	p.Model = strings.ToLower(strings.TrimSpace(p.Model))
	p.Optimizer = strings.ToLower(strings.TrimSpace(p.Optimizer))
	p.Device = strings.ToLower(strings.TrimSpace(p.Device))
	p.Noise = strings.ToLower(strings.TrimSpace(p.Noise))
	p.HiddenActivation = strings.ToLower(strings.TrimSpace(p.HiddenActivation))
	if p.TestBatchSize == 0 {
		p.TestBatchSize = p.BatchSize
	}
}

// Sigma 噪声标准差 sigma = z*S
func (p *Params) Sigma() float64 {
	return p.Z * p.S
}

// finite 检查浮点参数，yaml 会把 .nan/.inf 解析为合法的 float64
func (p *Params) finite() error {
	for _, f := range []struct {
		key string
		v   float64
	}{
		{"lr", p.LR}, {"momentum", p.Momentum}, {"decay", p.Decay},
		{"S", p.S}, {"z", p.Z}, {"mu", p.Mu}, {"delta", p.Delta},
		{"synthetic.spread", p.Synthetic.Spread},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return NewConfigError(f.key, f.v, "必须为有限值")
		}
	}
	return nil
}

// Validate 启动时校验，返回的错误总是 *ConfigError
func (p *Params) Validate() error {
	if err := p.finite(); err != nil {
		return err
	}
	if p.BatchSize <= 0 {
		return NewConfigError("batch_size", p.BatchSize, "必须为正数")
	}
	if p.TestBatchSize <= 0 {
		return NewConfigError("test_batch_size", p.TestBatchSize, "必须为正数")
	}
	if p.Epochs <= 0 {
		return NewConfigError("epochs", p.Epochs, "必须为正数")
	}
	if p.LR <= 0 {
		return NewConfigError("lr", p.LR, "必须为正数")
	}
	if p.Momentum < 0 {
		return NewConfigError("momentum", p.Momentum, "不能为负数")
	}
	if p.Decay < 0 {
		return NewConfigError("decay", p.Decay, "不能为负数")
	}
	if !contains(KnownDatasets, p.Dataset) {
		return NewConfigError("dataset", p.Dataset, "不支持的数据集，可选: "+strings.Join(KnownDatasets, ", "))
	}
	if !contains(KnownModels, p.Model) {
		return NewConfigError("model", p.Model, "不支持的模型，可选: "+strings.Join(KnownModels, ", "))
	}
	if !contains(KnownOptimizers, p.Optimizer) {
		return NewConfigError("optimizer", p.Optimizer, "无法识别的优化器，可选: "+strings.Join(KnownOptimizers, ", "))
	}
	if !contains(KnownDevices, p.Device) {
		return NewConfigError("device", p.Device, "不支持的设备，可选: "+strings.Join(KnownDevices, ", "))
	}
	if p.Mu < 0 {
		return NewConfigError("mu", p.Mu, "不能为负数")
	}
	if p.DSSize < 0 {
		return NewConfigError("ds_size", p.DSSize, "不能为负数")
	}
	if p.NumberOfEntries < 0 {
		return NewConfigError("number_of_entries", p.NumberOfEntries, "不能为负数")
	}
	if p.NumberOfEntriesTest < 0 {
		return NewConfigError("number_of_entries_test", p.NumberOfEntriesTest, "不能为负数")
	}
	if p.RunID != "" {
		if _, err := uuid.Parse(p.RunID); err != nil {
			return NewConfigError("run_id", p.RunID, "必须为UUID")
		}
	}
	if !contains(KnownHiddenActs, p.HiddenActivation) {
		return NewConfigError("hidden_activation", p.HiddenActivation, "隐藏层激活函数可选: relu, sigmoid")
	}
	if p.HiddenActivation != "" && p.Model == "linear" {
		return NewConfigError("hidden_activation", p.HiddenActivation, "linear 模型的隐藏层没有激活函数")
	}
	for _, h := range p.Hidden {
		if h <= 0 {
			return NewConfigError("hidden", p.Hidden, "隐藏层节点数必须为正数")
		}
	}
	if p.Dataset == "synthetic" {
		s := p.Synthetic
		if s.Classes < 2 || s.Features <= 0 || s.TrainPerClass <= 0 || s.TestPerClass <= 0 {
			return NewConfigError("synthetic", s, "classes>=2, features/train_per_class/test_per_class 必须为正数")
		}
		if s.Spread < 0 {
			return NewConfigError("synthetic.spread", s.Spread, "不能为负数")
		}
		if s.Groups < 0 {
			return NewConfigError("synthetic.groups", s.Groups, "不能为负数")
		}
	}
	if (p.Dataset == "mnist" || p.Dataset == "csv") && p.DataDir == "" {
		return NewConfigError("data_dir", p.DataDir, "数据集 "+p.Dataset+" 需要指定数据目录")
	}

	if !p.DP {
		return nil
	}
	if p.NumMicrobatches <= 0 {
		return NewConfigError("num_microbatches", p.NumMicrobatches, "必须为正数")
	}
	if p.BatchSize%p.NumMicrobatches != 0 {
		return NewConfigError("num_microbatches", p.NumMicrobatches,
			fmt.Sprintf("batch_size=%d 不能被 num_microbatches=%d 整除", p.BatchSize, p.NumMicrobatches))
	}
	if p.S <= 0 {
		return NewConfigError("S", p.S, "裁剪阈值必须为正数")
	}
	if p.Z < 0 {
		return NewConfigError("z", p.Z, "噪声乘数不能为负数")
	}
	if p.Delta <= 0 || p.Delta >= 1 {
		return NewConfigError("delta", p.Delta, "必须位于 (0, 1)")
	}
	if !contains(KnownNoise, p.Noise) {
		return NewConfigError("noise", p.Noise, "噪声源可选: "+strings.Join(KnownNoise, ", "))
	}
	return nil
}

// Table 以 key: value 形式列出全部参数，用于日志记录
func (p *Params) Table() string {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%+v", *p)
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "| %s | %v |\n", k, m[k])
	}
	return b.String()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
