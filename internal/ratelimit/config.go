package ratelimit

import (
	"os"
	"time"
)

// Config holds per-channel minimum intervals.
type Config struct {
	Intervals map[Channel]time.Duration
}

// DefaultIntervals returns the spacing used when nothing is configured.
func DefaultIntervals() map[Channel]time.Duration {
	return map[Channel]time.Duration{
		ChannelScrape:      5 * time.Second,
		ChannelEmailLookup: 2 * time.Second,
		ChannelSend:        3 * time.Second,
		ChannelLLM:         time.Second,
	}
}

// LoadConfig builds a Config from base intervals overridden by environment variables
// RATE_LIMIT_SCRAPE_INTERVAL, RATE_LIMIT_EMAIL_LOOKUP_INTERVAL, RATE_LIMIT_SEND_INTERVAL and
// RATE_LIMIT_LLM_INTERVAL (Go duration strings). A nil base uses DefaultIntervals.
func LoadConfig(base map[Channel]time.Duration) *Config {
	if base == nil {
		base = DefaultIntervals()
	}
	intervals := make(map[Channel]time.Duration, len(base))
	for channel, interval := range base {
		intervals[channel] = interval
	}

	intervals[ChannelScrape] = getEnvDuration("RATE_LIMIT_SCRAPE_INTERVAL", intervals[ChannelScrape])
	intervals[ChannelEmailLookup] = getEnvDuration("RATE_LIMIT_EMAIL_LOOKUP_INTERVAL", intervals[ChannelEmailLookup])
	intervals[ChannelSend] = getEnvDuration("RATE_LIMIT_SEND_INTERVAL", intervals[ChannelSend])
	intervals[ChannelLLM] = getEnvDuration("RATE_LIMIT_LLM_INTERVAL", intervals[ChannelLLM])

	return &Config{Intervals: intervals}
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
