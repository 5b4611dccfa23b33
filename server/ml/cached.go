package ml

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/cache"
	"github.com/san-kum/damage-watch/server/models"
)

// CachedDetector reuses detections for byte-identical frames.
type CachedDetector struct {
	next   Detector
	cache  *cache.MemoryCache[[]models.Detection]
	logger *zap.Logger
}

func NewCachedDetector(next Detector, store *cache.MemoryCache[[]models.Detection], logger *zap.Logger) *CachedDetector {
	return &CachedDetector{next: next, cache: store, logger: logger}
}

func (d *CachedDetector) Detect(ctx context.Context, jpegData []byte) ([]models.Detection, error) {
	key := cache.GenerateCacheKey("frame", cache.HashBytes(jpegData))

	cached, err := d.cache.Get(key)
	if err == nil {
		d.logger.Debug("Cache hit for frame", zap.String("key", key))
		return cloneDetections(cached), nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		d.logger.Warn("Frame cache lookup failed", zap.Error(err))
	}

	detections, err := d.next.Detect(ctx, jpegData)
	if err != nil {
		return nil, err
	}

	d.cache.Set(key, cloneDetections(detections))
	return detections, nil
}

func (d *CachedDetector) Stats() cache.CacheStats {
	return d.cache.GetStats()
}

func cloneDetections(in []models.Detection) []models.Detection {
	out := make([]models.Detection, len(in))
	copy(out, in)
	return out
}
