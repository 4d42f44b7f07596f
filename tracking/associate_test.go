package tracking

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/traywatch/images"
)

func TestAssociateCreatesAndMatches(t *testing.T) {
	reg := NewRegistry(1)

	a := Associate(reg, []images.Rect{{0, 0, 100, 100}, {300, 0, 400, 100}}, DefaultOverlapThreshold, MatchFirst)
	assert.Equal(t, []int{1, 2}, a.Matched)
	assert.Equal(t, []int{1, 2}, a.Created)

	// Both trays shift slightly; identities continue.
	a = Associate(reg, []images.Rect{{305, 2, 405, 102}, {5, 0, 105, 100}}, DefaultOverlapThreshold, MatchFirst)
	assert.Equal(t, []int{2, 1}, a.Matched)
	assert.Empty(t, a.Created)

	t1, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, images.Rect{5, 0, 105, 100}, t1.Box)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 3, reg.NextID())
}

func TestAssociateThresholdIsExclusive(t *testing.T) {
	reg := NewRegistry(1)
	Associate(reg, []images.Rect{{0, 0, 100, 100}}, 0.25, MatchFirst)

	// Contained box: overlap exactly 0.25, not above the threshold.
	a := Associate(reg, []images.Rect{{25, 25, 75, 75}}, 0.25, MatchFirst)
	assert.Equal(t, []int{2}, a.Created)
}

func TestAssociateResetsMissedFrames(t *testing.T) {
	reg := NewRegistry(1)
	Associate(reg, []images.Rect{{0, 0, 100, 100}}, DefaultOverlapThreshold, MatchFirst)
	tr, _ := reg.Get(1)
	tr.MarkMissed()
	tr.MarkMissed()

	Associate(reg, []images.Rect{{0, 0, 100, 100}}, DefaultOverlapThreshold, MatchFirst)
	assert.Equal(t, 0, tr.MissedFrames)
}

func TestAssociateTieBreak(t *testing.T) {
	setup := func() *Registry {
		reg := NewRegistry(1)
		// Track 1 overlaps the probe at ~0.47, track 2 at ~0.82.
		reg.Create(images.Rect{0, 0, 100, 100})
		reg.Create(images.Rect{30, 0, 130, 100})
		return reg
	}
	probe := images.Rect{40, 0, 140, 100}

	t.Run("first keeps creation order", func(t *testing.T) {
		reg := setup()
		a := Associate(reg, []images.Rect{probe}, DefaultOverlapThreshold, MatchFirst)
		assert.Equal(t, []int{1}, a.Matched)
	})

	t.Run("best picks highest overlap", func(t *testing.T) {
		reg := setup()
		a := Associate(reg, []images.Rect{probe}, DefaultOverlapThreshold, MatchBest)
		assert.Equal(t, []int{2}, a.Matched)
	})
}

func TestAssociateDuplicateDetectionsCollapse(t *testing.T) {
	reg := NewRegistry(1)
	Associate(reg, []images.Rect{{0, 0, 100, 100}}, DefaultOverlapThreshold, MatchFirst)

	a := Associate(reg, []images.Rect{{2, 0, 102, 100}, {4, 0, 104, 100}}, DefaultOverlapThreshold, MatchFirst)
	assert.Equal(t, []int{1}, a.Matched)
	tr, _ := reg.Get(1)
	assert.Equal(t, images.Rect{4, 0, 104, 100}, tr.Box)
}

func TestAssociateIDsStrictlyIncreaseWithoutReuse(t *testing.T) {
	reg := NewRegistry(7)

	frames := [][]images.Rect{
		{{0, 0, 50, 50}},
		{},
		{{500, 500, 550, 550}},
		{{0, 0, 50, 50}, {900, 0, 950, 50}},
		{},
		{{200, 200, 250, 250}},
	}
	var created []int
	for _, boxes := range frames {
		created = append(created, Associate(reg, boxes, DefaultOverlapThreshold, MatchFirst).Created...)
	}

	if diff := cmp.Diff([]int{7, 8, 9, 10}, created); diff != "" {
		t.Errorf("created ids mismatch (-want +got):\n%s", diff)
	}
	for i, tr := range reg.All() {
		assert.Equal(t, 7+i, tr.ID)
	}
}

func TestAssociationContains(t *testing.T) {
	a := Association{Matched: []int{3, 5}}
	assert.True(t, a.Contains(5))
	assert.False(t, a.Contains(4))
}

func TestParseMatchPolicy(t *testing.T) {
	p, err := ParseMatchPolicy("best")
	require.NoError(t, err)
	assert.Equal(t, MatchBest, p)

	p, err = ParseMatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MatchFirst, p)

	_, err = ParseMatchPolicy("hungarian")
	assert.Error(t, err)
}
