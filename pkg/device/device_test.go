package device

import (
	"errors"
	"testing"

	"github.com/klauspost/cpuid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUAlwaysAvailable(t *testing.T) {
	assert.NoError(t, Check("cpu"))
}

func TestMissingFeatureIsResourceFault(t *testing.T) {
	none := func(...cpuid.FeatureID) bool { return false }
	err := check("avx2", none)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcceleratorUnavailable))
	assert.Contains(t, err.Error(), "device=avx2")
}

func TestAllFeaturesPresent(t *testing.T) {
	all := func(...cpuid.FeatureID) bool { return true }
	assert.NoError(t, check("avx512", all))
}

func TestUnknownDevice(t *testing.T) {
	err := Check("tpu")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAcceleratorUnavailable))
}
