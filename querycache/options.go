package querycache

import (
	"time"

	"github.com/mmdatafocus/tradedocs/config"
)

type Options struct {
	StaleTime  time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// per-request timeout, expiry is classified transient
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		StaleTime:  30 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    30 * time.Second,
	}
}

func OptionsFromSettings(s config.Settings) Options {
	o := DefaultOptions()
	o.StaleTime = s.StaleTime
	if s.MaxRetries >= 0 {
		o.MaxRetries = s.MaxRetries
	}
	if s.BaseDelay > 0 {
		o.BaseDelay = s.BaseDelay
	}
	if s.MaxDelay > 0 {
		o.MaxDelay = s.MaxDelay
	}
	if s.RequestTimeout > 0 {
		o.Timeout = s.RequestTimeout
	}
	return o
}

type Option func(*Options)

func WithStaleTime(d time.Duration) Option {
	return func(o *Options) { o.StaleTime = d }
}

func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(o *Options) { o.BaseDelay = d }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// RetryDelay returns min(base * 2^attempt, max) for the zero-based retry attempt.
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
