package images

import (
	"crypto/md5"
	"fmt"

	"gocv.io/x/gocv"
)

// ComputeMatChecksum generates a deterministic checksum for a Mat.
//
// Arguments:
// - mat: The Mat to compute checksum for.
//
// Returns:
// - A hex-encoded MD5 checksum string.
//
// Example:
//
// ```go
//
//	checksum := ComputeMatChecksum(frame)
//	fmt.Printf("Frame checksum: %s\n", checksum)
//
// ```
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	data, _ := mat.DataPtrUint8()
	hash := md5.New()
	hash.Write(data)
	return fmt.Sprintf("%x", hash.Sum(nil))
}

// RegionChecksum computes the checksum of the pixels of mat inside r, clipped
// to the Mat bounds. The region is cloned so the checksum covers only r.
func RegionChecksum(mat gocv.Mat, r Rect) string {
	if mat.Empty() {
		return "empty"
	}
	roi := Clip(r, mat.Cols(), mat.Rows()).Rectangle()
	if roi.Empty() {
		return "empty"
	}
	region := mat.Region(roi)
	defer region.Close()

	clone := region.Clone()
	defer clone.Close()
	return ComputeMatChecksum(clone)
}

// Clip restricts r to an image of the given width and height.
func Clip(r Rect, width, height int) Rect {
	return Rect{
		X1: min(max(r.X1, 0), width),
		Y1: min(max(r.Y1, 0), height),
		X2: min(max(r.X2, 0), width),
		Y2: min(max(r.Y2, 0), height),
	}
}
