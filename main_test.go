package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSource(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "lane3.MP4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))

	assert.NoError(t, validateSource(video))
	assert.NoError(t, validateSource(dir), "frame directories are accepted")
	assert.NoError(t, validateSource("rtsp://camera.local/stream1"))

	err := validateSource(filepath.Join(dir, "missing.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")

	err = validateSource(notes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}
