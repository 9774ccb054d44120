package geo

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/bluele/gcache"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the distance service.
type ServiceConfig struct {
	// AverageSpeedKmh converts distance to travel time (default: 25).
	AverageSpeedKmh float64

	// CacheSize is the maximum number of cached matrices (default: 1024).
	CacheSize int

	// CacheTTL is how long a cached matrix stays valid (default: 1 hour).
	CacheTTL time.Duration

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service builds distance matrices and caches them by stop-set fingerprint.
// Matrices are computed over the sorted stop set and reordered on the way
// out, so any permutation of the same stops shares one cache entry.
type Service struct {
	speedKmh float64
	logger   zerolog.Logger
	cache    gcache.Cache
}

// NewService creates a new distance service.
func NewService(cfg ServiceConfig) *Service {
	speed := cfg.AverageSpeedKmh
	if speed <= 0 {
		speed = DefaultAverageSpeedKmh
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &Service{
		speedKmh: speed,
		logger:   cfg.Logger,
		cache:    gcache.New(size).LRU().Expiration(ttl).Build(),
	}
}

// Matrix returns the distance matrix for stops in the given order.
func (s *Service) Matrix(ctx context.Context, stops []Stop) (*DistanceMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := Fingerprint(stops, s.speedKmh)
	ids := make([]string, len(stops))
	for i, st := range stops {
		ids[i] = st.ID
	}

	if cached, err := s.cache.Get(key); err == nil {
		if m, ok := cached.(*DistanceMatrix).Subset(ids); ok {
			return m, nil
		}
	}

	sorted := append([]Stop(nil), stops...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	start := time.Now()
	m, err := BuildMatrix(sorted, s.speedKmh)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(key, m); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache distance matrix")
	}

	s.logger.Debug().
		Int("stops", len(stops)).
		Dur("duration", time.Since(start)).
		Msg("built distance matrix")

	out, _ := m.Subset(ids)
	return out, nil
}

// CacheStats returns hit and miss counts of the matrix cache.
func (s *Service) CacheStats() (hits, misses uint64) {
	return s.cache.HitCount(), s.cache.MissCount()
}

// Purge drops every cached matrix.
func (s *Service) Purge() {
	s.cache.Purge()
}

// Fingerprint hashes the sorted stop-id set together with the speed used to
// derive travel times.
func Fingerprint(stops []Stop, speedKmh float64) string {
	ids := make([]string, len(stops))
	for i, st := range stops {
		ids[i] = st.ID
	}
	sort.Strings(ids)

	h := xxhash.New()
	for _, id := range ids {
		_, _ = h.WriteString(id)
		_, _ = h.Write([]byte{0})
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(speedKmh))
	_, _ = h.Write(buf[:])

	return strconv.FormatUint(h.Sum64(), 16)
}
