package detection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"image"
	"log"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"

	"visiondetect/pkg/metrics"
)

// CachedDetector wraps a Detector with an in-memory LRU cache keyed by the
// image pixels, the description and the scoring parameters.
type CachedDetector struct {
	detector Detector
	cache    *lru.Cache[string, DetectedObject]
}

func NewCachedDetector(detector Detector, cacheSize int) *CachedDetector {
	cache, err := lru.New[string, DetectedObject](cacheSize)
	if err != nil {
		// This should only happen if cacheSize <= 0
		log.Printf("Error creating LRU cache: %v. Using size 256.", err)
		cache, _ = lru.New[string, DetectedObject](256)
	}

	return &CachedDetector{
		detector: detector,
		cache:    cache,
	}
}

func (c *CachedDetector) Detect(ctx context.Context, img image.Image, description string, threshold float64, confidenceAsTokenProbability bool) (*DetectedObject, error) {
	key := resultKey(img, description, threshold, confidenceAsTokenProbability)

	if result, ok := c.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		out := result
		return &out, nil
	}
	metrics.CacheMisses.WithLabelValues("memory").Inc()

	obj, err := c.detector.Detect(ctx, img, description, threshold, confidenceAsTokenProbability)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, *obj)
	return obj, nil
}

// resultKey hashes the query so identical detections share a cache slot.
func resultKey(img image.Image, description string, threshold float64, confidenceAsTokenProbability bool) string {
	h := sha256.New()
	hashImage(h, img)
	fmt.Fprintf(h, "%s:%.6f:%t", description, threshold, confidenceAsTokenProbability)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func hashImage(h hash.Hash, img image.Image) {
	if img == nil {
		return
	}
	bounds := img.Bounds()
	fmt.Fprintf(h, "%dx%d:", bounds.Dx(), bounds.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		h.Write(src.Pix)
	case *image.RGBA:
		h.Write(src.Pix)
	default:
		h.Write(imaging.Clone(img).Pix)
	}
}
