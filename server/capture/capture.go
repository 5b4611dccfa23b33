// Package capture acquires camera streams for the sampler. A stream exposes
// the latest frame, the way a playing video element does, and owns the
// tracks that must be released when it stops.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	ErrNoFrame       = errors.New("capture: no frame available")
	ErrStreamStopped = errors.New("capture: stream stopped")
)

type Constraints struct {
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	FacingMode string `json:"facing_mode" yaml:"facing_mode"`
	FrameRate  int    `json:"frame_rate" yaml:"frame_rate"`
}

func DefaultConstraints() Constraints {
	return Constraints{
		Width:      640,
		Height:     480,
		FacingMode: "environment",
		FrameRate:  30,
	}
}

type Track interface {
	ID() string
	Kind() string
	Stop()
}

type Stream interface {
	// Frame returns the most recent frame. ErrNoFrame until one arrives.
	Frame() (image.Image, error)
	Tracks() []Track
	// Stop stops every track exactly once. Safe to call repeatedly.
	Stop()
}

type Source interface {
	Open(ctx context.Context, constraints Constraints) (Stream, error)
}

// track is a Track whose release hook runs at most once.
type track struct {
	id      string
	kind    string
	once    sync.Once
	release func()
}

func newTrack(id, kind string, release func()) *track {
	return &track{id: id, kind: kind, release: release}
}

func (t *track) ID() string   { return t.id }
func (t *track) Kind() string { return t.kind }

func (t *track) Stop() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}
