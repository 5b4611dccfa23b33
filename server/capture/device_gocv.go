//go:build gocv
// +build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DeviceSource reads from a local capture device through OpenCV.
type DeviceSource struct {
	DeviceID int
	logger   *zap.Logger
}

func NewDeviceSource(deviceID int, logger *zap.Logger) *DeviceSource {
	return &DeviceSource{DeviceID: deviceID, logger: logger}
}

func (s *DeviceSource) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	webcam, err := gocv.OpenVideoCapture(s.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", s.DeviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("capture device %d is not available", s.DeviceID)
	}

	webcam.Set(gocv.VideoCaptureFrameWidth, float64(constraints.Width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(constraints.Height))
	webcam.Set(gocv.VideoCaptureFPS, float64(constraints.FrameRate))

	// a desktop device has a single facing; the hint only matters to browsers
	s.logger.Info("Capture device opened",
		zap.Int("device_id", s.DeviceID),
		zap.Int("width", constraints.Width),
		zap.Int("height", constraints.Height),
		zap.Int("frame_rate", constraints.FrameRate),
		zap.String("facing_mode", constraints.FacingMode))

	stream := &deviceStream{
		webcam: webcam,
		logger: s.logger,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	stream.track = newTrack(fmt.Sprintf("device-%d-video", s.DeviceID), "video", stream.release)

	go stream.readLoop()

	return stream, nil
}

type deviceStream struct {
	webcam *gocv.VideoCapture
	logger *zap.Logger
	track  *track
	done   chan struct{}
	exited chan struct{}

	mu    sync.RWMutex
	frame image.Image
}

func (d *deviceStream) readLoop() {
	defer close(d.exited)

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-d.done:
			return
		default:
		}

		if ok := d.webcam.Read(&mat); !ok || mat.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		img, err := mat.ToImage()
		if err != nil {
			d.logger.Warn("Failed to convert captured frame", zap.Error(err))
			continue
		}

		d.mu.Lock()
		d.frame = img
		d.mu.Unlock()
	}
}

func (d *deviceStream) release() {
	close(d.done)
	<-d.exited
	if err := d.webcam.Close(); err != nil {
		d.logger.Warn("Failed to close capture device", zap.Error(err))
	}
}

func (d *deviceStream) Frame() (image.Image, error) {
	select {
	case <-d.done:
		return nil, ErrStreamStopped
	default:
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.frame == nil {
		return nil, ErrNoFrame
	}
	return d.frame, nil
}

func (d *deviceStream) Tracks() []Track {
	return []Track{d.track}
}

func (d *deviceStream) Stop() {
	d.track.Stop()
}
