package tracking

import (
	"testing"

	"github.com/nvr-ai/traywatch/images"
)

// BenchmarkAssociate benchmarks one frame of association against a busy counter.
func BenchmarkAssociate(b *testing.B) {
	for _, policy := range []MatchPolicy{MatchFirst, MatchBest} {
		b.Run(policy.String(), func(b *testing.B) {
			reg := NewRegistry(1)
			boxes := make([]images.Rect, 12)
			for i := range boxes {
				x := i * 150
				boxes[i] = images.Rect{X1: x, Y1: 100, X2: x + 140, Y2: 250}
			}
			Associate(reg, boxes, DefaultOverlapThreshold, policy)

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Associate(reg, boxes, DefaultOverlapThreshold, policy)
			}
		})
	}
}

// BenchmarkCountInside benchmarks plate counting for a single tray.
func BenchmarkCountInside(b *testing.B) {
	box := images.Rect{X1: 100, Y1: 100, X2: 300, Y2: 250}
	points := make([]images.Point, 64)
	for i := range points {
		points[i] = images.Pt(i*7, 120+i%100)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CountInside(box, points)
	}
}
