package tracking

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/traywatch/images"
)

// DefaultOverlapThreshold is the minimum overlap ratio (exclusive) for a
// detection to continue an existing track.
const DefaultOverlapThreshold = 0.4

// MatchPolicy decides which track a detection continues when several qualify.
type MatchPolicy int

const (
	// MatchFirst picks the first track in creation order whose overlap exceeds
	// the threshold.
	MatchFirst MatchPolicy = iota
	// MatchBest picks the track with the highest overlap; ties go to the
	// earliest created track.
	MatchBest
)

func (p MatchPolicy) String() string {
	if p == MatchBest {
		return "best"
	}
	return "first"
}

// ParseMatchPolicy parses "first" or "best".
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return MatchFirst, nil
	case "best":
		return MatchBest, nil
	}
	return MatchFirst, errors.Errorf("unknown match policy %q", s)
}

// Association is the outcome of one frame's association pass.
type Association struct {
	// Matched holds every track id matched this frame, including created ones,
	// in detection order without duplicates.
	Matched []int
	// Created holds ids of tracks created this frame.
	Created []int
}

// Contains reports whether id was matched this frame.
func (a Association) Contains(id int) bool {
	for _, m := range a.Matched {
		if m == id {
			return true
		}
	}
	return false
}

// Associate matches each detected container box to an existing track or opens
// a new one.
//
// A box continues a track when their overlap ratio is strictly greater than
// threshold; the track's box is replaced and its loss counter reset. Otherwise
// a new track is created at the box. Tracks created earlier in the same frame
// are candidates for later boxes. Several boxes may land on the same track, in
// which case the last one wins the position.
//
// Arguments:
//   - reg: The session's registry.
//   - boxes: Container boxes detected in the frame.
//   - threshold: Overlap ratio that must be exceeded.
//   - policy: Tie-break when several tracks qualify.
//
// Returns:
//   - Association: Matched and created ids.
func Associate(reg *Registry, boxes []images.Rect, threshold float64, policy MatchPolicy) Association {
	var out Association
	seen := make(map[int]bool, len(boxes))

	for _, box := range boxes {
		t := findCandidate(reg, box, threshold, policy)
		if t != nil {
			t.MarkMatched(box)
		} else {
			t = reg.Create(box)
			out.Created = append(out.Created, t.ID)
		}
		if !seen[t.ID] {
			seen[t.ID] = true
			out.Matched = append(out.Matched, t.ID)
		}
	}
	return out
}

func findCandidate(reg *Registry, box images.Rect, threshold float64, policy MatchPolicy) *Track {
	var best *Track
	bestRatio := threshold
	for _, t := range reg.All() {
		ratio := images.OverlapRatio(t.Box, box)
		if ratio <= threshold {
			continue
		}
		if policy == MatchFirst {
			return t
		}
		if ratio > bestRatio {
			best, bestRatio = t, ratio
		}
	}
	return best
}
