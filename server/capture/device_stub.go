//go:build !gocv
// +build !gocv

package capture

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DeviceSource without OpenCV support: Open always fails.
type DeviceSource struct {
	DeviceID int
	logger   *zap.Logger
}

func NewDeviceSource(deviceID int, logger *zap.Logger) *DeviceSource {
	return &DeviceSource{DeviceID: deviceID, logger: logger}
}

// Open returns an error, the binary was built without the gocv tag.
func (s *DeviceSource) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	_ = ctx
	_ = constraints
	return nil, errors.New("gocv build tag is not enabled")
}
