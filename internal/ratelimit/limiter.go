// Package ratelimit spaces outbound actions per channel so scraping, lookups and sends stay polite.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Channel identifies a class of outbound action with its own spacing.
type Channel string

// Known channels.
const (
	ChannelScrape      Channel = "scrape"
	ChannelEmailLookup Channel = "email-lookup"
	ChannelSend        Channel = "send"
	ChannelLLM         Channel = "llm"
)

// IsKnown reports whether channel is one of the known channels.
func IsKnown(channel Channel) bool {
	switch channel {
	case ChannelScrape, ChannelEmailLookup, ChannelSend, ChannelLLM:
		return true
	}
	return false
}

// Limiter enforces a minimum interval between granted acquisitions on each channel.
// Waiters on a channel are released in the order they called Acquire.
type Limiter struct {
	mu       sync.Mutex
	limiters map[Channel]*rate.Limiter
	config   *Config
	granted  map[Channel]int
}

// NewLimiter creates a limiter from config. A nil config means no spacing at all.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{Intervals: map[Channel]time.Duration{}}
	}
	l := &Limiter{
		limiters: make(map[Channel]*rate.Limiter),
		config:   config,
		granted:  make(map[Channel]int),
	}
	for channel, interval := range config.Intervals {
		if interval > 0 {
			l.limiters[channel] = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
	return l
}

// Acquire blocks until the channel's minimum interval has elapsed since the last grant.
// It returns an error when ctx is done first, or at once when the next slot lies beyond
// ctx's deadline.
func (l *Limiter) Acquire(ctx context.Context, channel Channel) error {
	l.mu.Lock()
	limiter := l.limiters[channel]
	l.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return eris.Wrapf(context.DeadlineExceeded, "ratelimit: next %s slot is past the deadline", channel)
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.granted[channel]++
	l.mu.Unlock()
	return nil
}

// Interval returns the configured spacing for channel.
func (l *Limiter) Interval(channel Channel) time.Duration {
	return l.config.Intervals[channel]
}

// Granted returns how many acquisitions have been granted on channel.
func (l *Limiter) Granted(channel Channel) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.granted[channel]
}
