package detection

import (
	"context"
	"image"
	"log"
	"time"

	"visiondetect/pkg/cache"
	"visiondetect/pkg/metrics"
)

// RedisCachedDetector keeps detection results in Redis so they survive
// restarts and can be shared across processes. The cache is best effort:
// Redis failures fall through to the inner detector.
type RedisCachedDetector struct {
	detector Detector
	cache    *cache.Cache
	ttl      time.Duration
}

func NewRedisCachedDetector(detector Detector, c *cache.Cache, ttl time.Duration) *RedisCachedDetector {
	if ttl <= 0 {
		ttl = cache.DetectionResultTTL
	}
	return &RedisCachedDetector{
		detector: detector,
		cache:    c,
		ttl:      ttl,
	}
}

func (d *RedisCachedDetector) Detect(ctx context.Context, img image.Image, description string, threshold float64, confidenceAsTokenProbability bool) (*DetectedObject, error) {
	key := d.cache.Key("detect", resultKey(img, description, threshold, confidenceAsTokenProbability))

	var cached DetectedObject
	if err := d.cache.GetJSON(ctx, key, &cached); err == nil {
		metrics.CacheHits.WithLabelValues("redis").Inc()
		return &cached, nil
	}
	metrics.CacheMisses.WithLabelValues("redis").Inc()

	obj, err := d.detector.Detect(ctx, img, description, threshold, confidenceAsTokenProbability)
	if err != nil {
		return nil, err
	}

	if err := d.cache.SetJSON(ctx, key, obj, d.ttl); err != nil {
		log.Printf("Failed to cache detection result: %v", err)
	}
	return obj, nil
}
