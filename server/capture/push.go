package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PushSource is fed by a remote camera, typically a browser publishing
// frames over a websocket. A newer frame overwrites an unread one; nothing
// is queued.
type PushSource struct {
	logger *zap.Logger

	mu      sync.Mutex
	active  *pushStream
	streams atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

type PushStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Active    bool   `json:"active"`
}

func NewPushSource(logger *zap.Logger) *PushSource {
	return &PushSource{logger: logger}
}

func (s *PushSource) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.active
	s.active = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	id := fmt.Sprintf("push-video-%d", s.streams.Add(1))
	stream := &pushStream{constraints: constraints}
	stream.track = newTrack(id, "video", func() {
		stream.stopped.Store(true)
		s.detach(stream)
	})

	s.mu.Lock()
	s.active = stream
	s.mu.Unlock()

	s.logger.Info("Push stream opened",
		zap.String("track_id", id),
		zap.Int("width", constraints.Width),
		zap.Int("height", constraints.Height),
		zap.String("facing_mode", constraints.FacingMode))

	return stream, nil
}

// Publish hands a frame to the open stream. It reports false when no
// stream is open.
func (s *PushSource) Publish(frame image.Image) bool {
	s.mu.Lock()
	stream := s.active
	s.mu.Unlock()

	if stream == nil {
		s.dropped.Add(1)
		return false
	}

	stream.publish(frame)
	s.published.Add(1)
	return true
}

func (s *PushSource) Stats() PushStats {
	s.mu.Lock()
	active := s.active != nil
	s.mu.Unlock()

	return PushStats{
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Active:    active,
	}
}

func (s *PushSource) detach(stream *pushStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == stream {
		s.active = nil
	}
}

type pushStream struct {
	constraints Constraints
	track       *track
	stopped     atomic.Bool

	mu    sync.RWMutex
	frame image.Image
}

func (p *pushStream) publish(frame image.Image) {
	if p.stopped.Load() {
		return
	}
	p.mu.Lock()
	p.frame = frame
	p.mu.Unlock()
}

func (p *pushStream) Frame() (image.Image, error) {
	if p.stopped.Load() {
		return nil, ErrStreamStopped
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.frame == nil {
		return nil, ErrNoFrame
	}
	return p.frame, nil
}

func (p *pushStream) Tracks() []Track {
	return []Track{p.track}
}

func (p *pushStream) Stop() {
	p.track.Stop()
}
