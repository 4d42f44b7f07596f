package detector

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/nvr-ai/traywatch/images"
)

// Detection is one decoded model box in processed-frame coordinates.
type Detection struct {
	ClassID    int
	Confidence float32
	Box        images.Rect
}

// Decode turns a [1, 4+numClasses, anchors] YOLO output into detections.
//
// Each anchor column holds cx, cy, w, h in model input pixels followed by one
// score per class. The best class is kept when its score is strictly above
// confThreshold. Boxes are scaled by (scaleX, scaleY) back to the frame the
// model input was resized from.
//
// Arguments:
//   - output: The flattened output tensor.
//   - numClasses: Class scores per anchor.
//   - scaleX: Frame width divided by model input width.
//   - scaleY: Frame height divided by model input height.
//   - confThreshold: Minimum class score, exclusive.
//
// Returns:
//   - []Detection: Unsuppressed detections in anchor order.
func Decode(output []float32, numClasses int, scaleX, scaleY, confThreshold float32) []Detection {
	rows := 4 + numClasses
	if numClasses <= 0 || len(output) < rows {
		return nil
	}
	anchors := len(output) / rows

	var detections []Detection
	for idx := 0; idx < anchors; idx++ {
		classID := -1
		best := float32(-1)
		for c := 0; c < numClasses; c++ {
			score := output[(4+c)*anchors+idx]
			if score > best {
				best = score
				classID = c
			}
		}
		if best <= confThreshold {
			continue
		}

		cx, cy := output[idx], output[anchors+idx]
		w, h := output[2*anchors+idx], output[3*anchors+idx]
		detections = append(detections, Detection{
			ClassID:    classID,
			Confidence: best,
			Box: images.Rect{
				X1: int(math32.Round((cx - w/2) * scaleX)),
				Y1: int(math32.Round((cy - h/2) * scaleY)),
				X2: int(math32.Round((cx + w/2) * scaleX)),
				Y2: int(math32.Round((cy + h/2) * scaleY)),
			},
		})
	}
	return detections
}

// NMS applies greedy Non-Maximum Suppression within each class. Boxes whose
// overlap with a higher-confidence box of the same class exceeds iouThreshold
// are dropped. The result is ordered by descending confidence.
func NMS(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	result := make([]Detection, 0, len(sorted))
	used := make([]bool, len(sorted))
	for i := range sorted {
		if used[i] {
			continue
		}
		result = append(result, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if used[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if images.OverlapRatio(sorted[i].Box, sorted[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}
	return result
}

// Split separates container boxes and item centers, shifting both right by
// offsetX so they are in full-frame coordinates. Other classes are ignored.
func Split(detections []Detection, containerClass, itemClass, offsetX int) ([]images.Rect, []images.Point) {
	var containers []images.Rect
	var items []images.Point
	for _, d := range detections {
		box := d.Box.Offset(offsetX, 0)
		switch d.ClassID {
		case containerClass:
			containers = append(containers, box)
		case itemClass:
			items = append(items, box.Center())
		}
	}
	return containers, items
}
