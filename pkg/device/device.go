package device

import (
	"errors"
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// ErrAcceleratorUnavailable 配置要求的加速能力在本机不可用
var ErrAcceleratorUnavailable = errors.New("加速器不可用")

// requirements 每种设备需要的CPU特性
var requirements = map[string][]cpuid.FeatureID{
	"cpu":    nil,
	"avx2":   {cpuid.AVX2, cpuid.FMA3},
	"avx512": {cpuid.AVX512F, cpuid.AVX512DQ},
}

// Info 当前CPU信息
type Info struct {
	Brand    string
	Cores    int
	Features []string
}

// Describe 返回本机CPU信息
func Describe() Info {
	return Info{
		Brand:    cpuid.CPU.BrandName,
		Cores:    cpuid.CPU.PhysicalCores,
		Features: cpuid.CPU.FeatureSet(),
	}
}

// Check 校验配置的设备是否可用，不可用时直接返回错误而不回退
func Check(name string) error {
	return check(name, cpuid.CPU.Supports)
}

func check(name string, supports func(...cpuid.FeatureID) bool) error {
	feats, ok := requirements[name]
	if !ok {
		return fmt.Errorf("device=%s: 未知设备", name)
	}
	for _, f := range feats {
		if !supports(f) {
			return fmt.Errorf("device=%s: 缺少CPU特性 %s: %w", name, f.String(), ErrAcceleratorUnavailable)
		}
	}
	return nil
}
