package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/ambient-gateway/internal/observability"
)

// Refresher is implemented by the service layer to fetch and store the outside
// temperature. Used by CacheWarmer to avoid a circular dependency on the service package.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// CacheWarmer keeps the outside temperature cache populated ahead of requests.
type CacheWarmer struct {
	refresher Refresher
	logger    *zap.Logger
	timeout   time.Duration
}

// NewCacheWarmer creates a CacheWarmer. Each warm run is bounded by timeout
// (no bound when zero).
func NewCacheWarmer(refresher Refresher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{refresher: refresher, logger: logger, timeout: timeout}
}

// Warm performs one refresh.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	err := w.refresher.Refresh(ctx)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		w.logger.Warn("outside temperature warm failed", zap.Error(err), zap.Float64("duration_seconds", duration))
		return fmt.Errorf("cache warming: %w", err)
	}
	w.logger.Debug("outside temperature warmed", zap.Float64("duration_seconds", duration))
	return nil
}

// Schedule parses spec (standard five-field cron or descriptors such as
// "@every 4m") and returns a started scheduler that calls Warm on each tick.
// Overlapping runs are skipped. Stop the returned cron during shutdown.
func (w *CacheWarmer) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid warm schedule %q: %w", spec, err)
	}
	logger := cronLogger{sugar: w.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		_ = w.Warm(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule warm: %w", err)
	}
	c.Start()
	w.logger.Info("outside temperature warming scheduled", zap.String("schedule", spec))
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
