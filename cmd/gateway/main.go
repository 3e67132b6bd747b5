package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/ambient-gateway/internal/cache"
	"github.com/kjstillabower/ambient-gateway/internal/circuitbreaker"
	"github.com/kjstillabower/ambient-gateway/internal/config"
	httphandler "github.com/kjstillabower/ambient-gateway/internal/http"
	"github.com/kjstillabower/ambient-gateway/internal/lifecycle"
	"github.com/kjstillabower/ambient-gateway/internal/model"
	"github.com/kjstillabower/ambient-gateway/internal/observability"
	"github.com/kjstillabower/ambient-gateway/internal/service"
	"github.com/kjstillabower/ambient-gateway/internal/validation"
	"github.com/kjstillabower/ambient-gateway/internal/weather"
)

func main() {
	// .env may carry LOG_LEVEL, so it is loaded before the logger is built.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	gw, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	gw.startWarming(context.Background())

	go func() {
		logger.Info("server starting", zap.String("addr", gw.srv.Addr), zap.String("model", cfg.OllamaModel))
		if err := gw.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	gw.shutdown(logger)
}

// gateway holds the wired server plus the resources shutdown must release.
type gateway struct {
	cfg       *config.Config
	srv       *http.Server
	outside   *service.OutsideTemperatureService
	memcached *cache.MemcachedCache
	warmCron  *cron.Cron
	logger    *zap.Logger
}

func newGateway(cfg *config.Config, logger *zap.Logger) (*gateway, error) {
	gen, err := model.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.OllamaTimeout, model.Options{
		NumPredict:  cfg.OllamaNumPredict,
		Temperature: &cfg.OllamaTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	if cfg.ModelBreakerEnabled {
		gen.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.ModelBreakerFailureThreshold,
			SuccessThreshold: cfg.ModelBreakerSuccessThreshold,
			Timeout:          cfg.ModelBreakerTimeout,
			Component:        "model",
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition", zap.String("component", component),
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}))
		observability.CircuitBreakerState.WithLabelValues("model").Set(0)
		logger.Info("model circuit breaker enabled",
			zap.Int("failure_threshold", cfg.ModelBreakerFailureThreshold), zap.Duration("timeout", cfg.ModelBreakerTimeout))
	}

	weatherClient, err := weather.NewOpenMeteoClient(cfg.WeatherAPIURL, cfg.WeatherTimeout, weather.BreakerSettings{
		ConsecutiveFailures: uint32(cfg.WeatherBreakerFailures),
		OpenTimeout:         cfg.WeatherBreakerOpenTimeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition("weather", from.String(), to.String(), gobreakerStateValue(to))
			logger.Warn("circuit breaker transition", zap.String("component", "weather"),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	gw := &gateway{cfg: cfg, logger: logger}

	var store cache.Cache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheStaleRetention)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		gw.memcached = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	var coords *service.Coordinates
	if cfg.HasCoordinates() {
		coords = &service.Coordinates{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude}
		logger.Info("outside temperature enabled",
			zap.Float64("latitude", coords.Latitude), zap.Float64("longitude", coords.Longitude),
			zap.Duration("ttl", cfg.OutsideTempTTL))
	} else {
		logger.Info("outside temperature disabled: no coordinates configured")
	}
	gw.outside = service.NewOutsideTemperatureService(weatherClient, store, coords, cfg.OutsideTempTTL)

	validator := validation.NewReadingValidator()
	if cfg.StrictBounds {
		validator = validator.WithStrictBounds(validation.DefaultStrictBounds)
	}
	describer := service.NewDescribeService(validator, gw.outside, gen)

	readyConfig := &httphandler.ReadyConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedFallbackPct: cfg.DegradedFallbackPct,
	}
	if gw.memcached != nil {
		readyConfig.CachePing = gw.memcached.Ping
	}
	handler := httphandler.NewHandler(describer, readyConfig, logger)
	handler.SetMaxBodyBytes(cfg.MaxBodyBytes)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("describe rate limit enabled", zap.Int("rps", cfg.RateLimitRPS), zap.Int("burst", cfg.RateLimitBurst))
	}

	observability.RegisterTrafficGauges(cfg.DegradedWindow)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	gw.srv = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	return gw, nil
}

// startWarming is a no-op unless coordinates and a warm schedule are both
// configured; otherwise the outside temperature is fetched lazily on demand.
// When enabled it warms once immediately, then on every cron tick. A failed
// warm only logs.
func (gw *gateway) startWarming(ctx context.Context) {
	if !gw.outside.Enabled() || gw.cfg.WeatherWarmSchedule == "" {
		return
	}
	warmer := cache.NewCacheWarmer(gw.outside, gw.logger, gw.cfg.WeatherTimeout+time.Second)
	if err := warmer.Warm(ctx); err != nil {
		gw.logger.Warn("initial outside temperature warm failed", zap.Error(err))
	}
	c, err := warmer.Schedule(ctx, gw.cfg.WeatherWarmSchedule)
	if err != nil {
		gw.logger.Error("outside temperature warm schedule", zap.Error(err))
		return
	}
	gw.warmCron = c
}

func (gw *gateway) shutdown(logger *zap.Logger) {
	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)

	if gw.warmCron != nil {
		<-gw.warmCron.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gw.cfg.ShutdownTimeout)
	defer cancel()
	if err := gw.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), gw.cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, gw.cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if gw.memcached != nil {
		if err := gw.memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete", zap.Duration("drain", lifecycle.DrainingFor()))
}

// gobreakerStateValue maps gobreaker states onto the circuit_breaker_state gauge
// values shared with the model breaker: 0 closed, 1 open, 2 half-open.
func gobreakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
