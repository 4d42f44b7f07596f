// Package video - Frame sources and the preprocessing applied before detection.
package video

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/util"
)

// ErrSourceUnavailable is returned when a video cannot be opened.
var ErrSourceUnavailable = errors.New("video source unavailable")

// Source yields frames in order.
type Source interface {
	// Read decodes the next frame into dst. It returns false at end of stream.
	Read(dst *gocv.Mat) bool
	Close() error
	Name() string
}

// Open opens uri as a frame source. A directory is read as a numbered image
// sequence; anything else is handed to the video decoder, which accepts files,
// stream URLs and device indexes.
func Open(uri string) (Source, error) {
	if info, err := os.Stat(uri); err == nil && info.IsDir() {
		files, err := util.LoadDirectoryFrames(uri)
		if err != nil {
			return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", uri, err)
		}
		if len(files) == 0 {
			return nil, errors.Wrapf(ErrSourceUnavailable, "%s: no frames", uri)
		}
		return &frameDirSource{name: Identifier(uri), files: files}, nil
	}

	capture, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", uri, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s", uri)
	}
	return &captureSource{capture: capture, name: Identifier(uri)}, nil
}

// Identifier derives the video id used in proof file names: the base name of
// the path without its extension. URL queries and fragments are ignored.
func Identifier(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(filepath.ToSlash(p), "/")
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		return "video"
	}
	return stem
}

type captureSource struct {
	capture *gocv.VideoCapture
	name    string
}

func (s *captureSource) Read(dst *gocv.Mat) bool {
	return s.capture.Read(dst) && !dst.Empty()
}

func (s *captureSource) Close() error {
	return s.capture.Close()
}

func (s *captureSource) Name() string {
	return s.name
}

type frameDirSource struct {
	name  string
	files []util.ImageFile
	next  int
}

func (s *frameDirSource) Read(dst *gocv.Mat) bool {
	for s.next < len(s.files) {
		f := s.files[s.next]
		s.next++

		img := gocv.IMRead(f.Path, gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			continue
		}
		img.CopyTo(dst)
		img.Close()
		return true
	}
	return false
}

func (s *frameDirSource) Close() error {
	s.next = len(s.files)
	return nil
}

func (s *frameDirSource) Name() string {
	return s.name
}
