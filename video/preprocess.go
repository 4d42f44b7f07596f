package video

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Preprocessor prepares a frame for detection: it keeps the columns between
// CropLeft and CropRight and caps the HSV brightness channel at BrightnessLimit.
// Capping brightness suppresses false item detections on glare.
type Preprocessor struct {
	CropLeft  int
	CropRight int
	// BrightnessLimit of 0 or >= 255 disables the cap.
	BrightnessLimit int
}

// Prepare returns the processed frame and the x offset of its first column in
// the original frame. The caller owns the returned Mat.
func (p Preprocessor) Prepare(frame gocv.Mat) (gocv.Mat, int, error) {
	if frame.Empty() {
		return gocv.Mat{}, 0, errors.New("preprocess: empty frame")
	}

	cols, rows := frame.Cols(), frame.Rows()
	left := min(max(p.CropLeft, 0), cols)
	right := cols
	if p.CropRight > 0 {
		right = min(p.CropRight, cols)
	}
	if right <= left {
		return gocv.Mat{}, 0, errors.Errorf("preprocess: crop [%d,%d) is empty for a %d px wide frame", p.CropLeft, p.CropRight, cols)
	}

	region := frame.Region(image.Rect(left, 0, right, rows))
	out := region.Clone()
	region.Close()

	if p.BrightnessLimit > 0 && p.BrightnessLimit < 255 && out.Channels() == 3 {
		capBrightness(&out, float32(p.BrightnessLimit))
	}
	return out, left, nil
}

func capBrightness(img *gocv.Mat, limit float32) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(*img, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	gocv.Threshold(channels[2], &channels[2], limit, limit, gocv.ThresholdTrunc)
	gocv.Merge(channels, &hsv)

	gocv.CvtColor(hsv, img, gocv.ColorHSVToBGR)
}
