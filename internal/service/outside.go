package service

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/ambient-gateway/internal/cache"
	"github.com/kjstillabower/ambient-gateway/internal/models"
	"github.com/kjstillabower/ambient-gateway/internal/observability"
	"github.com/kjstillabower/ambient-gateway/internal/weather"
)

// DefaultOutsideTTL is how long a fetched outside temperature counts as fresh.
const DefaultOutsideTTL = 5 * time.Minute

// ErrNoCoordinates is returned by Refresh when outside lookups are disabled.
var ErrNoCoordinates = errors.New("no weather coordinates configured")

// Coordinates is the fixed location of the sensor.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// OutsideTemperatureService serves the outside temperature from a cache,
// refreshing it lazily from the weather provider. Lookups are best effort:
// failures degrade to a stale value or to "unavailable", never to an error.
type OutsideTemperatureService struct {
	client  weather.Client
	cache   cache.Cache
	coords  *Coordinates
	ttl     time.Duration
	key     string
	now     func() time.Time
	tracker *refreshTracker
}

// NewOutsideTemperatureService returns a service for coords. A nil coords
// disables outside lookups entirely. ttl <= 0 takes DefaultOutsideTTL.
func NewOutsideTemperatureService(client weather.Client, c cache.Cache, coords *Coordinates, ttl time.Duration) *OutsideTemperatureService {
	if ttl <= 0 {
		ttl = DefaultOutsideTTL
	}
	s := &OutsideTemperatureService{
		client:  client,
		cache:   c,
		coords:  coords,
		ttl:     ttl,
		now:     time.Now,
		tracker: newRefreshTracker(),
	}
	if coords != nil {
		s.key = strconv.FormatFloat(coords.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(coords.Longitude, 'f', -1, 64)
	}
	return s
}

// WithClock replaces the time source. For tests.
func (s *OutsideTemperatureService) WithClock(now func() time.Time) *OutsideTemperatureService {
	s.now = now
	return s
}

// Enabled reports whether coordinates are configured.
func (s *OutsideTemperatureService) Enabled() bool {
	return s.coords != nil
}

// Get returns the outside temperature in °C and whether one is available.
func (s *OutsideTemperatureService) Get(ctx context.Context) (float64, bool) {
	if s.coords == nil {
		observability.OutsideTempLookupsTotal.WithLabelValues("disabled").Inc()
		return 0, false
	}
	logger := observability.LoggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, s.key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Debug("outside temperature cache get failed", zap.Error(err))
		ok = false
	}
	if ok && cached.Age(s.now()) <= s.ttl {
		observability.OutsideTempLookupsTotal.WithLabelValues("fresh").Inc()
		return cached.ValueC, true
	}

	fresh, err := s.refresh(ctx)
	if err == nil {
		observability.OutsideTempLookupsTotal.WithLabelValues("refreshed").Inc()
		return fresh.ValueC, true
	}
	if ok {
		observability.OutsideTempLookupsTotal.WithLabelValues("stale").Inc()
		logger.Debug("serving stale outside temperature",
			zap.Error(err),
			zap.Duration("age", cached.Age(s.now())))
		return cached.ValueC, true
	}
	observability.OutsideTempLookupsTotal.WithLabelValues("unavailable").Inc()
	logger.Debug("outside temperature unavailable", zap.Error(err))
	return 0, false
}

// Refresh fetches and stores a new value regardless of freshness. Used by the
// scheduled cache warmer.
func (s *OutsideTemperatureService) Refresh(ctx context.Context) error {
	if s.coords == nil {
		return ErrNoCoordinates
	}
	_, err := s.refresh(ctx)
	return err
}

func (s *OutsideTemperatureService) refresh(ctx context.Context) (models.OutsideTemperature, error) {
	observability.CacheRefreshConcurrency.Observe(float64(s.tracker.Start(s.key)))
	defer s.tracker.Done(s.key)

	v, err := s.client.CurrentTemperature(ctx, s.coords.Latitude, s.coords.Longitude)
	if err != nil {
		return models.OutsideTemperature{}, err
	}
	fresh := models.OutsideTemperature{ValueC: roundTenth(v), FetchedAt: s.now()}
	if err := s.cache.Set(ctx, s.key, fresh); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		observability.LoggerFromContext(ctx).Warn("outside temperature cache set failed", zap.Error(err))
	}
	return fresh, nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
