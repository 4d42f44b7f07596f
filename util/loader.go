// Package util - Helpers for reading frame sequences from disk.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ImageFile represents one frame image on disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from the file name, or -1.
	Frame int
}

// LoadDirectoryFrames lists the image files of a frame directory in playback order.
//
// Frame numbers are taken from the trailing digits of the file name, so
// "frame-12.jpg", "12.png" and "cam_0012.jpg" all sort as frame 12. Files
// without a number follow the numbered ones in name order.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The frames in order.
// - error: Error if the directory cannot be read.
func LoadDirectoryFrames(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := filepath.Ext(file.Name())
		switch strings.ToLower(ext) {
		case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
			images = append(images, ImageFile{
				Path:  filepath.Join(dir, file.Name()),
				Frame: frameNumber(strings.TrimSuffix(file.Name(), ext)),
			})
		}
	}

	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if (a.Frame < 0) != (b.Frame < 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})

	return images, nil
}

func frameNumber(stem string) int {
	i := len(stem)
	for i > 0 && unicode.IsDigit(rune(stem[i-1])) {
		i--
	}
	n, err := strconv.Atoi(stem[i:])
	if err != nil {
		return -1
	}
	return n
}
