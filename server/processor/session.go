package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/analysis"
	"github.com/san-kum/damage-watch/server/capture"
	"github.com/san-kum/damage-watch/server/models"
	"github.com/san-kum/damage-watch/server/render"
)

var (
	ErrAlreadyStreaming   = errors.New("session is already streaming")
	ErrCaptureUnavailable = errors.New("camera unavailable")
	ErrSessionClosed      = errors.New("session closed")
)

type Detector interface {
	Detect(ctx context.Context, jpegData []byte) ([]models.Detection, error)
}

// AlertSink receives every alert the session raises. Failures are logged
// and never change session state.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert models.Alert) error
}

type Config struct {
	Threshold       float64             `json:"threshold"`
	SampleInterval  time.Duration       `json:"sample_interval"`
	BatchSize       int                 `json:"batch_size"`
	RefreshInterval time.Duration       `json:"refresh_interval"`
	Width           int                 `json:"width"`
	Height          int                 `json:"height"`
	JPEGQuality     int                 `json:"jpeg_quality"`
	DetectTimeout   time.Duration       `json:"detect_timeout"`
	MaxAlerts       int                 `json:"max_alerts"`
	Constraints     capture.Constraints `json:"constraints"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:       analysis.DefaultDamageThreshold,
		SampleInterval:  100 * time.Millisecond,
		BatchSize:       3,
		RefreshInterval: 16 * time.Millisecond,
		Width:           render.DefaultWidth,
		Height:          render.DefaultHeight,
		JPEGQuality:     80,
		MaxAlerts:       analysis.MaxAlerts,
		Constraints:     capture.DefaultConstraints(),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.SampleInterval < 0 {
		c.SampleInterval = 0
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.MaxAlerts <= 0 || c.MaxAlerts > analysis.MaxAlerts {
		c.MaxAlerts = d.MaxAlerts
	}
	if c.Constraints == (capture.Constraints{}) {
		c.Constraints = d.Constraints
	}
	return c
}

// Session samples frames from one camera stream at a time, sends them to
// the detector and keeps the resulting overlay, damage level and alerts.
//
// Each stream is driven by a single loop goroutine that owns the gating
// state. Detection runs on its own goroutine and hands its result back to
// the loop, so at most one request is ever outstanding.
type Session struct {
	source   capture.Source
	detector Detector
	sink     AlertSink
	logger   *zap.Logger
	config   Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	state       models.SessionState
	closed      bool
	loop        *loop
	detections  []models.Detection
	damageLevel float64
	canvasJPEG  []byte
	stats       models.SessionStats
	updatedAt   time.Time
	alerts      *analysis.AlertFeed

	ticks        atomic.Int64
	ticksDropped atomic.Int64

	subMu       sync.Mutex
	subscribers map[int]chan models.SessionStatus
	subsClosed  bool
	nextSubID   int

	now       func() time.Time
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// loop is the per-stream state. Fields other than stream, done and results
// are only touched by the loop goroutine.
type loop struct {
	stream  capture.Stream
	canvas  *render.Canvas
	done    chan struct{}
	results chan cycleResult

	frameCount    int64
	lastProcessed time.Time
	inFlight      bool
}

type cycleResult struct {
	snapshot   *image.RGBA
	detections []models.Detection
	latency    time.Duration
	err        error
}

func NewSession(source capture.Source, detector Detector, sink AlertSink, config Config, logger *zap.Logger) *Session {
	config = config.normalized()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		source:      source,
		detector:    detector,
		sink:        sink,
		logger:      logger,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		state:       models.StateIdle,
		detections:  []models.Detection{},
		alerts:      analysis.NewAlertFeed(config.MaxAlerts),
		subscribers: make(map[int]chan models.SessionStatus),
		now:         time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	s.stats.StartTime = s.now()
	s.updatedAt = s.stats.StartTime
	return s
}

func (s *Session) Config() Config {
	return s.config
}

// Start opens a camera stream and begins the render loop. The context only
// bounds stream acquisition.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == models.StateStarting || s.state == models.StateStreaming {
		s.mu.Unlock()
		return ErrAlreadyStreaming
	}
	s.state = models.StateStarting
	s.updatedAt = s.now()
	s.mu.Unlock()
	s.broadcast()

	stream, err := s.source.Open(ctx, s.config.Constraints)

	s.mu.Lock()
	if err == nil && s.closed {
		stream.Stop()
		err = ErrSessionClosed
	}
	if err != nil {
		if s.state == models.StateStarting {
			s.state = models.StateIdle
		}
		s.updatedAt = s.now()
		s.mu.Unlock()
		s.logger.Error("Failed to acquire camera stream", zap.Error(err))
		s.broadcast()
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	l := &loop{
		stream:  stream,
		canvas:  render.NewCanvas(s.config.Width, s.config.Height),
		done:    make(chan struct{}),
		results: make(chan cycleResult, 1),
	}
	s.loop = l
	s.state = models.StateStreaming
	s.updatedAt = s.now()
	ticks, stopTicker := s.newTicker(s.config.RefreshInterval)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer stopTicker()
		s.run(l, ticks)
	}()

	s.logger.Info("Camera stream started",
		zap.Int("tracks", len(stream.Tracks())),
		zap.Duration("sample_interval", s.config.SampleInterval),
		zap.Int("batch_size", s.config.BatchSize),
	)
	s.broadcast()
	return nil
}

// Stop releases the camera tracks and halts the loop. An outstanding
// detection is left to finish and its result is discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != models.StateStreaming || s.loop == nil {
		s.mu.Unlock()
		return
	}
	l := s.loop
	s.loop = nil
	s.state = models.StateStopped
	s.updatedAt = s.now()
	close(l.done)
	s.mu.Unlock()

	l.stream.Stop()
	s.logger.Info("Camera stream stopped")
	s.broadcast()
}

// Close stops the stream, cancels any outstanding detection and waits for
// background work to exit. Subscriber channels are closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.cancel()
	s.wg.Wait()

	s.subMu.Lock()
	s.subsClosed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
}

func (s *Session) run(l *loop, ticks <-chan time.Time) {
	for {
		select {
		case <-l.done:
			return
		case <-s.ctx.Done():
			return
		case res := <-l.results:
			s.finishCycle(l, res)
		case now := <-ticks:
			select {
			case <-l.done:
				return
			default:
			}
			s.maybeProcessFrame(l, now)
		}
	}
}

// maybeProcessFrame applies the gates for one tick and launches a detection
// cycle when all of them pass. It reports whether a cycle was launched.
func (s *Session) maybeProcessFrame(l *loop, now time.Time) bool {
	s.ticks.Add(1)
	l.frameCount++

	if l.inFlight {
		s.ticksDropped.Add(1)
		return false
	}

	if !l.lastProcessed.IsZero() && now.Sub(l.lastProcessed) < s.config.SampleInterval {
		return false
	}

	if l.frameCount%int64(s.config.BatchSize) != 0 {
		return false
	}

	frame, err := l.stream.Frame()
	if err != nil {
		if !errors.Is(err, capture.ErrNoFrame) {
			s.logger.Debug("Frame not available", zap.Error(err))
		}
		return false
	}

	snapshot := render.Snapshot(frame, s.config.Width, s.config.Height)
	l.inFlight = true
	l.lastProcessed = now

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.detect(l, snapshot)
	}()
	return true
}

func (s *Session) detect(l *loop, snapshot *image.RGBA) {
	res := cycleResult{snapshot: snapshot}
	begin := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.detections = nil
			res.err = fmt.Errorf("detector panic: %v", r)
		}
		res.latency = time.Since(begin)
		l.results <- res
	}()

	jpegData, err := render.EncodeJPEG(snapshot, s.config.JPEGQuality)
	if err != nil {
		res.err = fmt.Errorf("encode frame: %w", err)
		return
	}

	ctx := s.ctx
	if s.config.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.DetectTimeout)
		defer cancel()
	}

	res.detections, res.err = s.detector.Detect(ctx, jpegData)
}

func (s *Session) finishCycle(l *loop, res cycleResult) {
	l.inFlight = false

	if res.err != nil {
		s.mu.Lock()
		if s.loop == l {
			s.stats.FramesFailed++
		}
		s.mu.Unlock()
		s.logger.Warn("Detection cycle failed", zap.Error(res.err), zap.Duration("latency", res.latency))
		return
	}

	detections := res.detections
	if detections == nil {
		detections = []models.Detection{}
	}
	level := analysis.DamageLevel(detections)

	render.DrawDetections(l.canvas, res.snapshot, detections)
	canvasJPEG, err := l.canvas.JPEG(s.config.JPEGQuality)
	if err != nil {
		s.logger.Warn("Failed to encode canvas", zap.Error(err))
	}

	var alert *models.Alert

	s.mu.Lock()
	if s.loop != l {
		s.mu.Unlock()
		s.logger.Debug("Discarding detection result after stream stopped")
		return
	}
	s.detections = detections
	s.damageLevel = level
	if canvasJPEG != nil {
		s.canvasJPEG = canvasJPEG
	}
	s.stats.FramesProcessed++
	s.updateLatencyStats(res.latency)
	if analysis.ExceedsThreshold(level, s.config.Threshold) {
		raised := s.alerts.Push(analysis.DamageAlertMessage(level), models.SeverityCritical, level)
		alert = &raised
		s.stats.AlertsRaised++
	}
	s.updatedAt = s.now()
	s.mu.Unlock()

	s.logger.Debug("Frame processed",
		zap.Int("detections", len(detections)),
		zap.Float64("damage_level", level),
		zap.Duration("latency", res.latency),
	)

	if alert != nil {
		s.logger.Warn("High damage detected",
			zap.String("alert_id", alert.ID),
			zap.Float64("damage_level", level),
		)
		s.notify(*alert)
	}

	s.broadcast()
}

func (s *Session) notify(alert models.Alert) {
	if s.sink == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sink.PublishAlert(s.ctx, alert); err != nil {
			s.logger.Warn("Failed to publish alert", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}()
}

// callers hold s.mu
func (s *Session) updateLatencyStats(latency time.Duration) {
	current := float64(latency.Microseconds()) / 1000

	if s.stats.AverageLatency == 0 {
		s.stats.AverageLatency = current
	} else {
		alpha := 0.1
		s.stats.AverageLatency = alpha*current + (1-alpha)*s.stats.AverageLatency
	}
}

func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	detections := make([]models.Detection, len(s.detections))
	copy(detections, s.detections)

	stats := s.stats
	stats.Ticks = s.ticks.Load()
	stats.TicksDropped = s.ticksDropped.Load()

	return models.SessionStatus{
		State:          s.state,
		Streaming:      s.state == models.StateStreaming,
		Detections:     detections,
		DetectionCount: len(detections),
		DamageLevel:    s.damageLevel,
		HighDamage:     analysis.ExceedsThreshold(s.damageLevel, s.config.Threshold),
		Alerts:         s.alerts.Items(),
		Stats:          stats,
		UpdatedAt:      s.updatedAt,
	}
}

func (s *Session) Alerts() []models.Alert {
	return s.alerts.Items()
}

// Canvas returns the most recently rendered overlay as JPEG bytes.
func (s *Session) Canvas() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.canvasJPEG) == 0 {
		return nil, false
	}
	out := make([]byte, len(s.canvasJPEG))
	copy(out, s.canvasJPEG)
	return out, true
}

// Subscribe returns a channel that receives a status snapshot after every
// processed frame and state change. Only the latest snapshot is kept for a
// slow reader. After Close the returned channel is already closed.
func (s *Session) Subscribe() (<-chan models.SessionStatus, func()) {
	ch := make(chan models.SessionStatus, 1)

	s.subMu.Lock()
	if s.subsClosed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe
}

func (s *Session) broadcast() {
	status := s.Status()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- status:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- status:
		default:
		}
	}
}
