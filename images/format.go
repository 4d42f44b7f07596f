package images

import (
	"strings"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
	FormatPNG  ImageFormat = "png"
)

// Extension returns the file extension used when writing the format, without the dot.
func (f ImageFormat) Extension() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return "jpg"
	}
}

// ParseImageFormat maps a config value or file extension to an ImageFormat.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "jpeg", "jpg", "":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", errors.Errorf("unsupported image format %q", s)
}
