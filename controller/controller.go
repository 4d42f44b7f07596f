// Package controller - This file contains the session controller that drives tray tracking frame by frame.
package controller

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/images"
	"github.com/nvr-ai/traywatch/tracking"
)

// ErrSessionClosed is returned when a finished session receives more work.
var ErrSessionClosed = errors.New("session closed")

// Frame is one video frame's detections.
type Frame struct {
	// Ordinal is the zero-based position of the frame in the stream.
	Ordinal int
	// Image is the full, unprocessed frame. It is borrowed for the duration
	// of Session.Process.
	Image gocv.Mat
	// Containers are the detected tray boxes in full-frame coordinates.
	Containers []images.Rect
	// Items are the centers of detected plates in full-frame coordinates.
	Items []images.Point
}

// Detector turns a raw frame into detections.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) (Frame, error)
	Name() string
}

// Renderer produces the evidence image for a confirmed count.
type Renderer interface {
	Capture(frame gocv.Mat, box images.Rect, label string) (gocv.Mat, error)
}

// AlarmRequest carries everything the dispatcher needs for one alarmed track.
type AlarmRequest struct {
	TransactionID string
	VideoID       string
	TrackID       int
	MaxCount      int
	// Snapshot is owned by the session and valid only during Dispatch.
	Snapshot gocv.Mat
	// Closing is set for alarms raised by Finalize.
	Closing bool
}

// Dispatcher emits alarms. Dispatch must not wait for remote sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req AlarmRequest) error
}

// Config holds the tracking thresholds for a session.
type Config struct {
	OverlapThreshold    float64
	StableConfirmFrames int
	MaxLost             int
	FirstTrackID        int
	MatchPolicy         tracking.MatchPolicy
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold:    tracking.DefaultOverlapThreshold,
		StableConfirmFrames: 2,
		MaxLost:             10,
		FirstTrackID:        1,
		MatchPolicy:         tracking.MatchFirst,
	}
}

// Meta identifies the work a session belongs to.
type Meta struct {
	TransactionID string
	VideoID       string
}

// Result summarises what happened to the registry during one frame.
type Result struct {
	Matched  []int
	Created  []int
	Captured []int
	Alarmed  []int
}

// TrackView is a read-only copy of a track's state.
type TrackView struct {
	ID                int
	Box               images.Rect
	LastObservedCount int
	ConfirmStreak     int
	MaxObservedCount  int
	MissedFrames      int
	HasSnapshot       bool
	Alarmed           bool
	Category          tracking.Category
}

// Session owns the track registry for one video. It is not safe for
// concurrent use; frames are processed strictly one after another.
type Session struct {
	cfg        Config
	meta       Meta
	registry   *tracking.Registry
	snapshots  map[int]gocv.Mat
	renderer   Renderer
	dispatcher Dispatcher
	logger     *zap.Logger
	frames     int
	finished   bool
}

// NewSession creates a session for one video.
//
// Arguments:
//   - cfg: Tracking thresholds.
//   - meta: Transaction and video identifiers passed on to alarms.
//   - renderer: Produces snapshot images. May be nil for image-less tracking.
//   - dispatcher: Receives alarms.
//   - logger: Session logger.
//
// Returns:
//   - *Session: A session with an empty registry.
func NewSession(cfg Config, meta Meta, renderer Renderer, dispatcher Dispatcher, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:        cfg,
		meta:       meta,
		registry:   tracking.NewRegistry(cfg.FirstTrackID),
		snapshots:  make(map[int]gocv.Mat),
		renderer:   renderer,
		dispatcher: dispatcher,
		logger: logger.With(
			zap.String("transaction", meta.TransactionID),
			zap.String("video", meta.VideoID),
		),
	}
}

// Process runs one frame through association, stability and loss handling.
//
// Arguments:
//   - ctx: Passed to the dispatcher.
//   - frame: The frame's detections and image.
//
// Returns:
//   - Result: Ids matched, created, captured and alarmed in this frame.
//   - error: ErrSessionClosed after Finalize or Close.
func (s *Session) Process(ctx context.Context, frame Frame) (Result, error) {
	if s.finished {
		return Result{}, ErrSessionClosed
	}
	s.frames++

	assoc := tracking.Associate(s.registry, frame.Containers, s.cfg.OverlapThreshold, s.cfg.MatchPolicy)
	res := Result{Matched: assoc.Matched, Created: assoc.Created}
	for _, id := range assoc.Created {
		t, _ := s.registry.Get(id)
		s.logger.Debug("new tray", zap.Int("track", id), zap.Stringer("box", t.Box), zap.Int("frame", frame.Ordinal))
	}

	matched := make(map[int]bool, len(assoc.Matched))
	for _, id := range assoc.Matched {
		matched[id] = true
	}

	for _, t := range s.registry.All() {
		if !matched[t.ID] {
			t.MarkMissed()
			if t.AlarmDue(s.cfg.MaxLost) && s.raise(ctx, t, false) {
				res.Alarmed = append(res.Alarmed, t.ID)
			}
			continue
		}

		count := tracking.CountInside(t.Box, frame.Items)
		captured, err := t.Observe(count, s.cfg.StableConfirmFrames, s.captureFrom(frame.Image))
		if err != nil {
			s.logger.Warn("snapshot capture failed", zap.Int("track", t.ID), zap.Int("count", count), zap.Error(err))
			continue
		}
		if captured {
			res.Captured = append(res.Captured, t.ID)
			s.logger.Info("tray updated", zap.Int("track", t.ID), zap.Int("max_count", t.MaxObservedCount))
		} else if t.ConfirmStreak < s.cfg.StableConfirmFrames {
			s.logger.Debug("waiting for stable count",
				zap.Int("track", t.ID), zap.Int("count", count), zap.Int("streak", t.ConfirmStreak))
		}
	}

	return res, nil
}

// Finalize raises closing alarms for every confirmed, unalarmed track and ends
// the session. It returns the number of alarms raised.
func (s *Session) Finalize(ctx context.Context) (int, error) {
	if s.finished {
		return 0, ErrSessionClosed
	}
	s.finished = true

	n := 0
	for _, t := range s.registry.All() {
		if t.Alarmed || !t.HasSnapshot {
			continue
		}
		if s.raise(ctx, t, true) {
			n++
		}
	}
	s.logger.Info("session finalized",
		zap.Int("frames", s.frames), zap.Int("tracks", s.registry.Len()), zap.Int("closing_alarms", n))
	return n, nil
}

// Close releases snapshot images. The session cannot be used afterwards.
// Abandoning a session with Close alone skips the closing alarms.
func (s *Session) Close() error {
	s.finished = true
	var err error
	for id, m := range s.snapshots {
		err = multierr.Append(err, m.Close())
		delete(s.snapshots, id)
	}
	return err
}

// Tracks returns a copy of every track's state in creation order.
func (s *Session) Tracks() []TrackView {
	all := s.registry.All()
	views := make([]TrackView, 0, len(all))
	for _, t := range all {
		views = append(views, TrackView{
			ID:                t.ID,
			Box:               t.Box,
			LastObservedCount: t.LastObservedCount,
			ConfirmStreak:     t.ConfirmStreak,
			MaxObservedCount:  t.MaxObservedCount,
			MissedFrames:      t.MissedFrames,
			HasSnapshot:       t.HasSnapshot,
			Alarmed:           t.Alarmed,
			Category:          t.Category(),
		})
	}
	return views
}

// Frames returns the number of frames processed so far.
func (s *Session) Frames() int {
	return s.frames
}

// Label is the text drawn on snapshots and previews.
func Label(id, count int) string {
	return fmt.Sprintf("ID %d | %d items | %s", id, count, tracking.Classify(count))
}

func (s *Session) captureFrom(img gocv.Mat) tracking.CaptureFunc {
	if s.renderer == nil {
		return nil
	}
	return func(t *tracking.Track, count int) error {
		snap, err := s.renderer.Capture(img, t.Box, Label(t.ID, count))
		if err != nil {
			return err
		}
		if old, ok := s.snapshots[t.ID]; ok {
			old.Close()
		}
		s.snapshots[t.ID] = snap
		return nil
	}
}

// raise moves t to alarmed and hands it to the dispatcher. It reports false
// when the track had already been alarmed.
func (s *Session) raise(ctx context.Context, t *tracking.Track, closing bool) bool {
	if !t.Alarm() {
		return false
	}

	req := AlarmRequest{
		TransactionID: s.meta.TransactionID,
		VideoID:       s.meta.VideoID,
		TrackID:       t.ID,
		MaxCount:      t.MaxObservedCount,
		Snapshot:      s.snapshots[t.ID],
		Closing:       closing,
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			s.logger.Error("alarm dispatch failed", zap.Int("track", t.ID), zap.Bool("closing", closing), zap.Error(err))
		}
	}
	return true
}
