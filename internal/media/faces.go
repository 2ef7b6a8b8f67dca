package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// Region is one detected face rectangle, in percent of the image
// dimensions.
type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detector locates face regions in an image. The detection engine itself
// is pluggable; the API layer only depends on this interface and on the
// checksum-keyed result cache.
type Detector interface {
	DetectFaces(ctx context.Context, r io.Reader, mimeType string) ([]Region, error)
}

// NoDetector is the fallback when no detection engine is configured. It
// reports no faces for any input.
type NoDetector struct{}

func (NoDetector) DetectFaces(context.Context, io.Reader, string) ([]Region, error) {
	return []Region{}, nil
}

// Cache stores face detection results keyed by content checksum. Results
// are immutable for a given checksum, so entries never need invalidation.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// RedisCache backs the result cache with redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache on an existing redis client. A zero ttl
// means entries do not expire.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// FaceService answers face-detection queries, caching results by checksum.
type FaceService struct {
	detector Detector
	cache    Cache
}

// NewFaceService wires a detector to a cache. Either may be nil, in which
// case detection reports no faces and nothing is cached.
func NewFaceService(detector Detector, cache Cache) *FaceService {
	if detector == nil {
		detector = NoDetector{}
	}
	return &FaceService{detector: detector, cache: cache}
}

// Regions returns the detected face regions for content identified by
// checksum, opening the file only on a cache miss.
func (s *FaceService) Regions(ctx context.Context, checksum, mimeType string, open func() (io.ReadCloser, error)) ([]Region, error) {
	key := "faces:" + checksum

	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var regions []Region
			if err := json.Unmarshal([]byte(cached), &regions); err == nil {
				return regions, nil
			}
		}
	}

	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	regions, err := s.detector.DetectFaces(ctx, f, mimeType)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if regions == nil {
		regions = []Region{}
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(regions); err == nil {
			_ = s.cache.Set(ctx, key, string(encoded)) // cache failures are not fatal
		}
	}
	return regions, nil
}
