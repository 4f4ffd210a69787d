package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

func TestStorageManager_Open(t *testing.T) {
	sm := NewStorageManager(nil)
	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0644))

	for _, uri := range []string{path, "file://" + path} {
		rc, err := sm.Open(context.Background(), uri)
		require.NoError(t, err, uri)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "png", string(data))
	}

	_, err := sm.Open(context.Background(), "s3://bucket/a.png")
	assert.ErrorContains(t, err, "S3 storage not initialized")

	_, err = sm.Open(context.Background(), "gopher://host/a.png")
	assert.ErrorContains(t, err, "unsupported URI scheme")
}

func TestStorageManager_LocalizeInputs(t *testing.T) {
	sm := NewStorageManager(nil)
	dir := t.TempDir()
	still := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(still, []byte("jpeg"), 0644))

	inputs := []schemas.PlanInput{
		{Index: 0, Kind: schemas.InputColor, NodeID: "base"},
		{Index: 1, Kind: schemas.InputImage, Source: still, NodeID: "layer1"},
	}
	out, err := sm.LocalizeInputs(context.Background(), inputs, dir)
	require.NoError(t, err)
	assert.Equal(t, inputs, out)

	inputs[1].Source = filepath.Join(dir, "gone.jpg")
	_, err = sm.LocalizeInputs(context.Background(), inputs, dir)
	assert.ErrorIs(t, err, schemas.ErrMissingAsset)
	assert.ErrorContains(t, err, "input 1 (layer1)")
}

func TestStorageManager_UploadOutput(t *testing.T) {
	sm := NewStorageManager(nil)
	src := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("mp4"), 0644))

	dest := filepath.Join(t.TempDir(), "a", "b", "strip.mp4")
	assert.False(t, sm.IsRemote(dest))
	require.NoError(t, sm.UploadOutput(context.Background(), src, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mp4", string(data))

	assert.True(t, sm.IsRemote("s3://bucket/strip.mp4"))
}

func TestStorageManager_CleanupScratchDir(t *testing.T) {
	sm := NewStorageManager(nil)

	assert.Error(t, sm.CleanupScratchDir(""))
	assert.Error(t, sm.CleanupScratchDir("/"))

	keep := t.TempDir()
	assert.ErrorContains(t, sm.CleanupScratchDir(keep), "non-scratch")
	assert.DirExists(t, keep)

	scratch := filepath.Join(t.TempDir(), scratchPrefix+"1234")
	require.NoError(t, os.MkdirAll(filepath.Join(scratch, "nested"), 0755))
	require.NoError(t, sm.CleanupScratchDir(scratch))
	assert.NoDirExists(t, scratch)
}
