package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirectoryFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-10.jpg", "frame-2.jpg", "frame-1.png", "cover.jpg", "notes.txt", "cam_0003.JPG"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "frame-0.jpg"), 0o755))

	images, err := LoadDirectoryFrames(dir)
	require.NoError(t, err)

	var names []string
	var frames []int
	for _, image := range images {
		names = append(names, filepath.Base(image.Path))
		frames = append(frames, image.Frame)
	}
	assert.Equal(t, []string{"frame-1.png", "frame-2.jpg", "cam_0003.JPG", "frame-10.jpg", "cover.jpg"}, names)
	assert.Equal(t, []int{1, 2, 3, 10, -1}, frames)
}

func TestLoadDirectoryFramesMissingDir(t *testing.T) {
	_, err := LoadDirectoryFrames(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
