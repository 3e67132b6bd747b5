package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/ambient-gateway/internal/models"
)

type fakeWeather struct {
	mu    sync.Mutex
	value float64
	err   error
	calls atomic.Int32
}

func (f *fakeWeather) CurrentTemperature(ctx context.Context, lat, lon float64) (float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *fakeWeather) set(value float64, err error) {
	f.mu.Lock()
	f.value, f.err = value, err
	f.mu.Unlock()
}

// countingCache wraps the in-memory behavior and counts accesses.
type countingCache struct {
	mu     sync.Mutex
	data   map[string]models.OutsideTemperature
	getErr error
	setErr error
	gets   int
	sets   int
}

func newCountingCache() *countingCache {
	return &countingCache{data: make(map[string]models.OutsideTemperature)}
}

func (c *countingCache) Get(ctx context.Context, key string) (models.OutsideTemperature, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return models.OutsideTemperature{}, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *countingCache) Set(ctx context.Context, key string, value models.OutsideTemperature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fixedOutside struct {
	value float64
	ok    bool
	calls atomic.Int32
}

func (f *fixedOutside) Get(ctx context.Context) (float64, bool) {
	f.calls.Add(1)
	return f.value, f.ok
}
