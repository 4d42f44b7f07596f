// Package tracking - Tray tracks, their stability bookkeeping and frame-to-frame association.
package tracking

import (
	"github.com/nvr-ai/traywatch/images"
)

// CaptureFunc renders a snapshot for t at the given confirmed count. It is
// called with the track's current box already updated for the frame.
type CaptureFunc func(t *Track, count int) error

// Track is a tracked container (tray) followed across frames.
type Track struct {
	// ID is unique within the owning session and never reused.
	ID int
	// Box is the most recently matched position.
	Box images.Rect

	// LastObservedCount and ConfirmStreak implement count stabilisation.
	LastObservedCount int
	ConfirmStreak     int

	// MaxObservedCount only increases, and only together with a snapshot capture.
	MaxObservedCount int
	// HasSnapshot is true once MaxObservedCount has been confirmed at least once.
	HasSnapshot bool

	// MissedFrames counts consecutive frames without a match.
	MissedFrames int
	// Alarmed is terminal once set.
	Alarmed bool
}

// newTrack creates a track at its first observed position.
func newTrack(id int, box images.Rect) *Track {
	return &Track{ID: id, Box: box}
}

// MarkMatched moves the track to box and resets the loss counter.
func (t *Track) MarkMatched(box images.Rect) {
	t.Box = box
	t.MissedFrames = 0
}

// MarkMissed increments the loss counter and returns the new value.
func (t *Track) MarkMissed() int {
	t.MissedFrames++
	return t.MissedFrames
}

// Observe feeds the item count seen inside the track's box for one matched frame.
//
// A count is trusted once it has been seen for stableFrames consecutive matched
// frames. A trusted count strictly above MaxObservedCount triggers capture; only
// when capture succeeds is the count promoted. Alarmed tracks still keep their
// streak bookkeeping but never capture again.
//
// Arguments:
//   - count: Items inside the box this frame.
//   - stableFrames: Consecutive frames required before a count is trusted.
//   - capture: Renders the snapshot. May be nil in which case no image is kept.
//
// Returns:
//   - bool: Whether a new snapshot was captured.
//   - error: The capture error, if any.
func (t *Track) Observe(count, stableFrames int, capture CaptureFunc) (bool, error) {
	if count == t.LastObservedCount {
		t.ConfirmStreak++
	} else {
		t.ConfirmStreak = 1
		t.LastObservedCount = count
	}

	if t.Alarmed || t.ConfirmStreak < stableFrames || count <= t.MaxObservedCount {
		return false, nil
	}

	if capture != nil {
		if err := capture(t, count); err != nil {
			return false, err
		}
	}
	t.MaxObservedCount = count
	t.HasSnapshot = true
	return true, nil
}

// Confirmed reports whether the track has reached a confirmed count.
func (t *Track) Confirmed() bool {
	return t.HasSnapshot
}

// AlarmDue reports whether the loss path should raise the alarm now.
func (t *Track) AlarmDue(maxLost int) bool {
	return t.MissedFrames > maxLost && !t.Alarmed && t.HasSnapshot
}

// Alarm moves the track to its terminal alarmed state. It returns false if the
// track was already alarmed, so callers can emit exactly once.
func (t *Track) Alarm() bool {
	if t.Alarmed {
		return false
	}
	t.Alarmed = true
	return true
}

// Category classifies the highest confirmed count.
func (t *Track) Category() Category {
	return Classify(t.MaxObservedCount)
}

// CountInside returns how many points fall inside box (inclusive bounds).
func CountInside(box images.Rect, points []images.Point) int {
	n := 0
	for _, p := range points {
		if box.Contains(p) {
			n++
		}
	}
	return n
}
