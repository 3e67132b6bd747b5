// Package service holds the request pipeline behind /describe: validation,
// outside temperature lookup, prompt construction, generation and fallback.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/ambient-gateway/internal/degraded"
	"github.com/kjstillabower/ambient-gateway/internal/model"
	"github.com/kjstillabower/ambient-gateway/internal/models"
	"github.com/kjstillabower/ambient-gateway/internal/observability"
	"github.com/kjstillabower/ambient-gateway/internal/prompt"
	"github.com/kjstillabower/ambient-gateway/internal/validation"
)

// OutsideTemperatureSource is satisfied by *OutsideTemperatureService.
type OutsideTemperatureSource interface {
	Get(ctx context.Context) (float64, bool)
}

// DescribeService turns a posted sensor reading into one sentence. Each
// request is a single pass with no retries; a model failure produces the
// fallback sentence instead of an error.
type DescribeService struct {
	validator *validation.ReadingValidator
	outside   OutsideTemperatureSource
	generator model.Generator
}

// NewDescribeService wires the pipeline. outside may be nil to disable outside lookups.
func NewDescribeService(v *validation.ReadingValidator, outside OutsideTemperatureSource, gen model.Generator) *DescribeService {
	if v == nil {
		v = validation.NewReadingValidator()
	}
	return &DescribeService{validator: v, outside: outside, generator: gen}
}

// Describe decodes body and describes the reading. The only error returned is
// a *validation.Error for malformed input.
func (s *DescribeService) Describe(ctx context.Context, body io.Reader) (models.Description, error) {
	reading, err := s.validator.Decode(body)
	if err != nil {
		observability.DescribeOutcomesTotal.WithLabelValues("invalid").Inc()
		observability.LoggerFromContext(ctx).Debug("reading rejected", zap.Error(err))
		return models.Description{}, err
	}
	return s.DescribeReading(ctx, reading), nil
}

// DescribeReading runs the pipeline for an already validated reading. A
// client-supplied outside temperature takes precedence over the weather lookup.
func (s *DescribeService) DescribeReading(ctx context.Context, reading models.SensorReading) models.Description {
	logger := observability.LoggerFromContext(ctx)

	outside := reading.OutsideTempC
	if outside == nil && s.outside != nil {
		if v, ok := s.outside.Get(ctx); ok {
			outside = &v
		}
	}

	p := prompt.Build(reading, outside)

	start := time.Now()
	text, err := s.generate(ctx, p)
	if err != nil {
		category := model.CategorizeError(err)
		observability.ModelErrorsTotal.WithLabelValues(string(category)).Inc()
		observability.DescribeOutcomesTotal.WithLabelValues(models.SourceFallback).Inc()
		degraded.RecordFallback()
		logger.Warn("model generation failed, using fallback",
			zap.String("category", string(category)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return models.Description{Text: FallbackDescription(reading, outside), Source: models.SourceFallback}
	}

	observability.DescribeOutcomesTotal.WithLabelValues(models.SourceModel).Inc()
	degraded.RecordSuccess()
	logger.Debug("description generated",
		zap.Bool("outside", outside != nil),
		zap.Duration("duration", time.Since(start)))
	return models.Description{Text: text, Source: models.SourceModel}
}

func (s *DescribeService) generate(ctx context.Context, p string) (string, error) {
	if s.generator == nil {
		return "", model.ErrModelUnavailable
	}
	raw, err := s.generator.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	text := PostProcess(raw)
	if text == "" {
		return "", fmt.Errorf("%w: empty after post-processing", model.ErrModelResponse)
	}
	return text, nil
}
