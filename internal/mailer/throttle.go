package mailer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig holds the send scheduling policy
type ThrottleConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MinInterval   time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
}

// DefaultThrottle sends one mail at a time, at most one every five seconds
var DefaultThrottle = ThrottleConfig{MaxConcurrent: 1, MinInterval: 5 * time.Second}

// Throttle bounds how many sends are in flight and spaces their starts
type Throttle struct {
	slots   chan struct{}
	limiter *rate.Limiter
}

// NewThrottle creates a throttle. A zero interval disables spacing.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Throttle{
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Do runs fn once a slot is free and the minimum interval since the
// previous start has passed.
func (t *Throttle) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.slots }()

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
