package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"PPDLDev/pkg/network"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	w, err := NewWriter(base, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, w.RunID.String()), w.Dir)

	m, err := network.New("mlp", 4, 3, []int{5}, 1)
	require.NoError(t, err)
	path, err := w.Save(m, 7, 91.5)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Dir, "model_epoch_7.json"), path)

	other, err := network.New("mlp", 4, 3, []int{5}, 2)
	require.NoError(t, err)
	snap, err := Load(path, other)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Epoch)
	assert.Equal(t, 91.5, snap.Accuracy)
	assert.Equal(t, w.RunID.String(), snap.RunID)

	for i, p := range m.Parameters() {
		assert.True(t, mat.Equal(p.Value, other.Parameters()[i].Value), p.Name)
	}
}

func TestWriterUsesGivenRunID(t *testing.T) {
	base := t.TempDir()
	id := uuid.MustParse("6f1c2a52-8d3e-4b7a-9c1d-2e4f5a6b7c8d")
	w, err := NewWriter(base, id)
	require.NoError(t, err)
	assert.Equal(t, id, w.RunID)
	assert.DirExists(t, filepath.Join(base, id.String()))
}

func TestLoadShapeMismatch(t *testing.T) {
	w, err := NewWriter(t.TempDir(), uuid.Nil)
	require.NoError(t, err)
	m, _ := network.New("linear", 4, 3, nil, 1)
	path, err := w.Save(m, 1, 0)
	require.NoError(t, err)

	wider, _ := network.New("linear", 5, 3, nil, 1)
	_, err = Load(path, wider)
	assert.Error(t, err)

	deeper, _ := network.New("linear", 4, 3, []int{2}, 1)
	_, err = Load(path, deeper)
	assert.Error(t, err)
}
