package services

import (
	"fmt"
)

// Policy defaults.
const (
	DefaultMaxPageSize     = 500
	DefaultDefaultPageSize = 100
	DefaultMaxPayloadBytes = 5 * 1024 * 1024
)

// PolicyConfig is the access policy and result limits. It is resolved once
// at startup and passed by value into the pipeline.
type PolicyConfig struct {
	AccessMode       AccessMode
	MaxPageSize      int
	DefaultPageSize  int
	AutoLimitEnabled bool
	MaxPayloadBytes  int
}

// DefaultPolicyConfig returns the read-only policy with default limits.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		AccessMode:       ReadOnly,
		MaxPageSize:      DefaultMaxPageSize,
		DefaultPageSize:  DefaultDefaultPageSize,
		AutoLimitEnabled: true,
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
	}
}

// Validate checks that the limits are coherent.
func (c PolicyConfig) Validate() error {
	if c.MaxPageSize < 1 {
		return fmt.Errorf("max page size must be positive, got %d", c.MaxPageSize)
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("default page size must be positive, got %d", c.DefaultPageSize)
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default page size %d exceeds max page size %d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.MaxPayloadBytes < 1 {
		return fmt.Errorf("max payload bytes must be positive, got %d", c.MaxPayloadBytes)
	}
	return nil
}
