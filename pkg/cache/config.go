package cache

import (
	"fmt"
	"time"
)

// Config holds the configuration for the cache
type Config struct {
	// MaxEntries is the maximum number of cached entries
	MaxEntries int
	// TTL is the time-to-live for cache entries, zero disables expiry
	TTL time.Duration
	// EnableStats enables cache statistics collection
	EnableStats bool
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:  1024,
		TTL:         10 * time.Minute,
		EnableStats: true,
	}
}

// WithMaxEntries sets the maximum number of entries
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithTTL sets the time-to-live for cache entries
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// WithStats enables or disables cache statistics
func (c *Config) WithStats(enable bool) *Config {
	c.EnableStats = enable
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive, got %d", c.MaxEntries)
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative, got %s", c.TTL)
	}
	return nil
}
